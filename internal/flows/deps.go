package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/cauth/jwt"
	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

// FailureKind classifies expected flow failures for root-level mapping.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureInvalidData
	FailureCredentialMismatch
	FailureAccountNotFound
	FailureInvalidRole
	FailureInvalidRefreshToken
	FailureDuplicateAccount
	FailureInvalidOTP
	FailureSchema
	FailureRateLimited
)

// TokenIssuer is satisfied by *jwt.Codec.
type TokenIssuer interface {
	IssuePair(id, role string) (jwt.Pair, error)
	VerifyRefresh(token string) *jwt.Claims
}

// RefreshRegistry is satisfied by *refresh.Registry.
type RefreshRegistry interface {
	Match(records []refresh.Record, rawToken string) int
	Issue(ctx context.Context, accountID, rawToken string, expiresAt time.Time) error
	Rotate(ctx context.Context, accountID, oldRawToken, newRawToken string, expiresAt time.Time) error
	Remove(ctx context.Context, accountID, rawToken string) error
}

// OTPManager is satisfied by *otp.Manager.
type OTPManager interface {
	Request(ctx context.Context, accountID string, purpose otp.Purpose) (otp.Issued, error)
	Verify(ctx context.Context, accountID, code string, purpose otp.Purpose) (bool, error)
}

// PasswordHasher is satisfied by *password.Argon2.
type PasswordHasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
}

// Limiter throttles credential guessing. Any error it returns is treated as
// a rate-limit hit.
type Limiter interface {
	CheckLogin(ctx context.Context, identifier, ip string) error
	IncrementLogin(ctx context.Context, identifier, ip string) error
	ResetLogin(ctx context.Context, identifier, ip string) error
	CheckOTPRequest(ctx context.Context, identifier string) error
}

// Deps captures every flow dependency. The root engine builds it once.
type Deps struct {
	Store    store.Contract
	Tokens   TokenIssuer
	Refresh  RefreshRegistry
	OTP      OTPManager
	Hasher   PasswordHasher
	Limiter  Limiter
	IsRole   func(string) bool
	ClientIP func(context.Context) string
	Now      func() time.Time
	Warn     func(string, ...any)

	// DummyHash is verified against when no account matches, so a missing
	// account costs the same as a wrong password.
	DummyHash string
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now()
}

func (d *Deps) warn(msg string, args ...any) {
	if d.Warn != nil {
		d.Warn(msg, args...)
	}
}

func (d *Deps) clientIP(ctx context.Context) string {
	if d.ClientIP == nil {
		return ""
	}
	return d.ClientIP(ctx)
}

// lookup loads an account by credential. A missing account yields
// (nil, FailureNone, nil).
func lookup(ctx context.Context, deps *Deps, cred store.Credential) (*store.Account, FailureKind, error) {
	acct, err := deps.Store.FindAccountWithCredential(ctx, cred)
	return checkAccount(acct, err)
}

func lookupByID(ctx context.Context, deps *Deps, id string) (*store.Account, FailureKind, error) {
	acct, err := deps.Store.FindAccountByID(ctx, id)
	return checkAccount(acct, err)
}

func checkAccount(acct *store.Account, err error) (*store.Account, FailureKind, error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, FailureNone, nil
	case errors.Is(err, store.ErrInvalidRecord):
		return nil, FailureSchema, err
	case err != nil:
		return nil, FailureNone, err
	}
	if verr := acct.Validate(); verr != nil {
		return nil, FailureSchema, verr
	}
	return acct, FailureNone, nil
}

// burnHash spends one hash verification so unknown identifiers are not
// distinguishable by latency.
func burnHash(deps *Deps, secret string) {
	if deps.DummyHash != "" && deps.Hasher != nil {
		_ = deps.Hasher.Verify(secret, deps.DummyHash)
	}
}

// issueSession signs a token pair and records its refresh half.
func issueSession(ctx context.Context, deps *Deps, acct *store.Account) (jwt.Pair, FailureKind, error) {
	pair, err := deps.Tokens.IssuePair(acct.ID, acct.Role)
	if err != nil {
		return jwt.Pair{}, FailureNone, err
	}
	if err := deps.Refresh.Issue(ctx, acct.ID, pair.RefreshToken, pair.RefreshExpiresAt); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return jwt.Pair{}, FailureAccountNotFound, nil
		}
		if errors.Is(err, store.ErrInvalidRecord) {
			return jwt.Pair{}, FailureSchema, err
		}
		return jwt.Pair{}, FailureNone, err
	}
	acct.LastLogin = deps.now()
	return pair, FailureNone, nil
}
