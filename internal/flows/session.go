package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/cauth/jwt"
	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/store"
)

// SessionResult carries either an account with a fresh token pair or
// failure metadata. Err is set for infrastructure failures and, with
// FailureSchema, for the offending record.
type SessionResult struct {
	Failure FailureKind
	Err     error
	Account *store.Account
	Tokens  jwt.Pair
}

// RegisterInput is the validated input of RunRegister.
type RegisterInput struct {
	Credential store.Credential
	Role       string
	Password   string
}

// LoginInput is the validated input of RunLogin.
type LoginInput struct {
	Credential store.Credential
	Password   string
}

// OTPLoginInput is the validated input of RunLoginWithOTP.
type OTPLoginInput struct {
	Credential store.Credential
	Code       string
}

func sessionFailure(kind FailureKind, err error) SessionResult {
	return SessionResult{Failure: kind, Err: err}
}

// RunRegister creates an account and logs it in.
func RunRegister(ctx context.Context, in RegisterInput, deps Deps) SessionResult {
	if deps.IsRole == nil || !deps.IsRole(in.Role) {
		return sessionFailure(FailureInvalidRole, nil)
	}

	existing, kind, err := lookup(ctx, &deps, in.Credential)
	if kind != FailureNone || err != nil {
		return sessionFailure(kind, err)
	}
	if existing != nil {
		return sessionFailure(FailureDuplicateAccount, nil)
	}

	var hash string
	if in.Password != "" {
		hash, err = deps.Hasher.Hash(in.Password)
		if err != nil {
			return sessionFailure(FailureNone, err)
		}
	}

	acct, err := deps.Store.CreateAccount(ctx, store.NewAccount{
		Email:        in.Credential.Email,
		PhoneNumber:  in.Credential.PhoneNumber,
		PasswordHash: hash,
		Role:         in.Role,
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return sessionFailure(FailureDuplicateAccount, nil)
		}
		return sessionFailure(FailureNone, err)
	}
	if err := acct.Validate(); err != nil {
		return sessionFailure(FailureSchema, err)
	}

	pair, kind, err := issueSession(ctx, &deps, acct)
	if kind != FailureNone || err != nil {
		return sessionFailure(kind, err)
	}
	return SessionResult{Account: acct, Tokens: pair}
}

// RunLogin verifies a password credential and issues a session.
func RunLogin(ctx context.Context, in LoginInput, deps Deps) SessionResult {
	identifier, _ := in.Credential.Key()
	ip := deps.clientIP(ctx)

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(ctx, identifier, ip); err != nil {
			return sessionFailure(FailureRateLimited, nil)
		}
	}

	acct, kind, err := lookup(ctx, &deps, in.Credential)
	if kind != FailureNone || err != nil {
		return sessionFailure(kind, err)
	}

	matched := false
	if acct == nil {
		burnHash(&deps, in.Password)
	} else if acct.PasswordHash == "" {
		burnHash(&deps, in.Password)
	} else {
		matched = deps.Hasher.Verify(in.Password, acct.PasswordHash)
	}
	if !matched {
		return loginMismatch(ctx, &deps, identifier, ip)
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.ResetLogin(ctx, identifier, ip); err != nil {
			deps.warn("cauth: login limiter reset failed")
		}
	}

	pair, kind, err := issueSession(ctx, &deps, acct)
	if kind != FailureNone || err != nil {
		return sessionFailure(kind, err)
	}
	return SessionResult{Account: acct, Tokens: pair}
}

// RunLoginWithOTP consumes a LOGIN challenge and issues a session.
func RunLoginWithOTP(ctx context.Context, in OTPLoginInput, deps Deps) SessionResult {
	identifier, _ := in.Credential.Key()
	ip := deps.clientIP(ctx)

	if deps.Limiter != nil {
		if err := deps.Limiter.CheckLogin(ctx, identifier, ip); err != nil {
			return sessionFailure(FailureRateLimited, nil)
		}
	}

	acct, kind, err := lookup(ctx, &deps, in.Credential)
	if kind != FailureNone || err != nil {
		return sessionFailure(kind, err)
	}
	if acct == nil {
		return loginMismatch(ctx, &deps, identifier, ip)
	}

	valid, err := deps.OTP.Verify(ctx, acct.ID, in.Code, otp.PurposeLogin)
	if err != nil {
		return sessionFailure(FailureNone, err)
	}
	if !valid {
		res := loginMismatch(ctx, &deps, identifier, ip)
		if res.Failure == FailureCredentialMismatch {
			res.Failure = FailureInvalidOTP
		}
		return res
	}

	if deps.Limiter != nil {
		if err := deps.Limiter.ResetLogin(ctx, identifier, ip); err != nil {
			deps.warn("cauth: login limiter reset failed")
		}
	}

	pair, kind, err := issueSession(ctx, &deps, acct)
	if kind != FailureNone || err != nil {
		return sessionFailure(kind, err)
	}
	return SessionResult{Account: acct, Tokens: pair}
}

// loginMismatch counts a failed attempt. Crossing the limit on this attempt
// reports RateLimited instead of a mismatch.
func loginMismatch(ctx context.Context, deps *Deps, identifier, ip string) SessionResult {
	if deps.Limiter != nil {
		if err := deps.Limiter.IncrementLogin(ctx, identifier, ip); err != nil {
			return sessionFailure(FailureRateLimited, nil)
		}
	}
	return sessionFailure(FailureCredentialMismatch, nil)
}
