// Package password hashes and verifies secrets with Argon2id.
//
// Digests use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Each digest carries its own salt and parameters, so [Argon2.Verify] keeps
// working after the configured cost changes. [Argon2.NeedsUpgrade] tells the
// caller when a stored digest should be re-hashed.
//
// The same hasher is used for account passwords and for one-time codes.
// Policy such as minimum length belongs to the caller.
package password
