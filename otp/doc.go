// Package otp issues and verifies single-use numeric codes.
//
// Each account has at most one live [Challenge]; a new request replaces the
// previous one whatever its purpose. Codes are stored as Argon2id digests.
// Verification fails without side effects when the challenge is missing,
// used, expired, issued for another purpose, or the code does not match. A
// successful verification marks the challenge used through a conditional
// store write, so a code verifies at most once even under concurrent calls.
package otp
