package flows

import (
	"context"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/store"
)

// OTPRequestInput is the validated input of RunRequestOTP.
type OTPRequestInput struct {
	Credential  store.Credential
	Purpose     otp.Purpose
	Password    string
	UsePassword bool
}

// OTPRequestResult carries the issued code for out-of-band delivery.
type OTPRequestResult struct {
	Failure   FailureKind
	Err       error
	AccountID string
	Issued    otp.Issued
}

// OTPVerifyResult reports whether a code was accepted and consumed.
type OTPVerifyResult struct {
	Err   error
	Valid bool
}

// RunRequestOTP issues a challenge for the account behind a credential,
// optionally gated on its password. The gate does not count as a login.
func RunRequestOTP(ctx context.Context, in OTPRequestInput, deps Deps) OTPRequestResult {
	identifier, _ := in.Credential.Key()

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckOTPRequest(ctx, identifier); err != nil {
			return OTPRequestResult{Failure: FailureRateLimited}
		}
	}

	acct, kind, err := lookup(ctx, &deps, in.Credential)
	if kind != FailureNone || err != nil {
		return OTPRequestResult{Failure: kind, Err: err}
	}
	if acct == nil {
		if in.UsePassword {
			burnHash(&deps, in.Password)
		}
		return OTPRequestResult{Failure: FailureCredentialMismatch}
	}

	if in.UsePassword {
		if acct.PasswordHash == "" {
			burnHash(&deps, in.Password)
			return OTPRequestResult{Failure: FailureCredentialMismatch, AccountID: acct.ID}
		}
		if !deps.Hasher.Verify(in.Password, acct.PasswordHash) {
			return OTPRequestResult{Failure: FailureCredentialMismatch, AccountID: acct.ID}
		}
	}

	issued, err := deps.OTP.Request(ctx, acct.ID, in.Purpose)
	if err != nil {
		return OTPRequestResult{Err: err, AccountID: acct.ID}
	}
	return OTPRequestResult{AccountID: acct.ID, Issued: issued}
}

// RunVerifyOTP checks and consumes a code for an arbitrary purpose.
func RunVerifyOTP(ctx context.Context, accountID, code string, purpose otp.Purpose, deps Deps) OTPVerifyResult {
	valid, err := deps.OTP.Verify(ctx, accountID, code, purpose)
	if err != nil {
		return OTPVerifyResult{Err: err}
	}
	return OTPVerifyResult{Valid: valid}
}
