// Package store defines the storage contract cauth runs on and the records
// that cross it. Adapters live under storage/.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
)

var (
	// ErrNotFound is returned when an account or OTP challenge is absent.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned by CreateAccount when the credential is taken.
	ErrDuplicate = errors.New("store: credential already registered")
	// ErrConflict is returned by refresh swaps whose expected version is stale.
	ErrConflict = refresh.ErrConflict
	// ErrInvalidRecord marks persisted data that does not match the schema.
	ErrInvalidRecord = errors.New("store: record does not match schema")
	// ErrInvalidCredential means a lookup or create named neither or both of
	// email and phone number.
	ErrInvalidCredential = errors.New("store: exactly one of email or phone number is required")
)

// Account is the persisted identity record.
type Account struct {
	ID             string           `json:"id"`
	Email          string           `json:"email,omitempty"`
	PhoneNumber    string           `json:"phoneNumber,omitempty"`
	PasswordHash   string           `json:"passwordHash,omitempty"`
	Role           string           `json:"role"`
	LastLogin      time.Time        `json:"lastLogin"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	RefreshTokens  []refresh.Record `json:"refreshTokens"`
	RefreshVersion uint64           `json:"refreshVersion"`
}

// Credential names the login identifier. Exactly one field is set.
type Credential struct {
	Email       string
	PhoneNumber string
}

// NewAccount is the input of CreateAccount. PasswordHash may be empty.
type NewAccount struct {
	Email        string
	PhoneNumber  string
	PasswordHash string
	Role         string
}

// AccountUpdate changes the non-nil fields.
type AccountUpdate struct {
	PasswordHash *string
	Role         *string
}

// Contract is implemented by storage adapters.
//
// UpdateAccountLogin replaces the refresh set and always bumps LastLogin.
// RemoveAndAddRefreshToken replaces the refresh set and bumps LastLogin only
// when swap.Touch is set. Both fail with ErrConflict when swap.ExpectedVersion
// differs from the stored RefreshVersion, and increment it on success.
type Contract interface {
	FindAccountByID(ctx context.Context, id string) (*Account, error)
	FindAccountWithCredential(ctx context.Context, cred Credential) (*Account, error)
	CreateAccount(ctx context.Context, in NewAccount) (*Account, error)
	UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (*Account, error)
	UpdateAccountLogin(ctx context.Context, id string, swap refresh.Swap) (*Account, error)
	RemoveAndAddRefreshToken(ctx context.Context, id string, swap refresh.Swap) (*Account, error)
	DeleteAccount(ctx context.Context, id string) error

	UpsertOTP(ctx context.Context, c otp.Challenge) error
	FindOTP(ctx context.Context, accountID string) (*otp.Challenge, error)
	MarkOTPUsed(ctx context.Context, accountID, codeHash string) (bool, error)
}

// Key returns the uniqueness key of the credential, or ErrInvalidCredential.
func (c Credential) Key() (string, error) {
	email := strings.TrimSpace(c.Email)
	phone := strings.TrimSpace(c.PhoneNumber)
	switch {
	case email != "" && phone != "":
		return "", ErrInvalidCredential
	case email != "":
		return "email:" + strings.ToLower(email), nil
	case phone != "":
		return "phone:" + phone, nil
	}
	return "", ErrInvalidCredential
}

// CredentialOf returns the credential an account logs in with.
func CredentialOf(a *Account) Credential {
	return Credential{Email: a.Email, PhoneNumber: a.PhoneNumber}
}

// ApplySwap applies a refresh swap to a in place. touch forces a LastLogin
// bump regardless of swap.Touch.
func ApplySwap(a *Account, swap refresh.Swap, touch bool, now time.Time) error {
	if a.RefreshVersion != swap.ExpectedVersion {
		return ErrConflict
	}
	a.RefreshTokens = append([]refresh.Record(nil), swap.Records...)
	a.RefreshVersion++
	a.UpdatedAt = now
	if touch || swap.Touch {
		a.LastLogin = now
	}
	return nil
}

// Validate checks the invariants every adapter must preserve.
func (a *Account) Validate() error {
	if a == nil || a.ID == "" || a.Role == "" {
		return ErrInvalidRecord
	}
	if a.Email != "" && a.PhoneNumber != "" {
		return ErrInvalidRecord
	}
	for _, rec := range a.RefreshTokens {
		if len(rec.Hash) != 64 || rec.ExpiresAt.IsZero() {
			return ErrInvalidRecord
		}
	}
	return nil
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.RefreshTokens = append([]refresh.Record(nil), a.RefreshTokens...)
	return &out
}
