package otp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/cauth/internal"
)

// Purpose scopes a challenge to one intended use.
type Purpose string

const (
	PurposeLogin         Purpose = "LOGIN"
	PurposeResetPassword Purpose = "RESET_PASSWORD"
	PurposeAction        Purpose = "ACTION"
)

const (
	DefaultLength    = 6
	MinLength        = internal.MinCodeDigits
	MaxLength        = internal.MaxCodeDigits
	DefaultExpiresIn = 300000 * time.Millisecond

	// DefaultMaxAttempts is the number of failed verifications that void a
	// challenge.
	DefaultMaxAttempts = 5
)

// Challenge is the persisted state of one issued code.
type Challenge struct {
	AccountID string    `json:"accountId"`
	CodeHash  string    `json:"codeHash"`
	Purpose   Purpose   `json:"purpose"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

// Issued is returned to the caller, who delivers Code out of band.
type Issued struct {
	Code      string
	Purpose   Purpose
	ExpiresAt time.Time
}

// Store persists challenges keyed by account id.
//
// FindOTP returns (nil, nil) when the account has no challenge. MarkOTPUsed
// sets Used only on an unused challenge whose CodeHash equals codeHash and
// reports whether it did.
type Store interface {
	UpsertOTP(ctx context.Context, c Challenge) error
	FindOTP(ctx context.Context, accountID string) (*Challenge, error)
	MarkOTPUsed(ctx context.Context, accountID, codeHash string) (bool, error)
}

// Hasher is satisfied by *password.Argon2.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, digest string) bool
}

// Config controls code shape and lifetime. Zero values select defaults.
type Config struct {
	Length    int
	ExpiresIn time.Duration
	// MaxAttempts caps failed verifications per challenge.
	MaxAttempts int
}

// Manager implements the challenge lifecycle.
//
// Failed verifications are counted in process, per challenge. Once a
// challenge reaches maxAttempts failures it is marked used in the store, so
// the correct code no longer verifies either.
type Manager struct {
	store       Store
	hasher      Hasher
	length      int
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time

	mu       sync.Mutex
	failures map[string]failureCount
}

type failureCount struct {
	codeHash  string
	n         int
	expiresAt time.Time
}

// ClampLength maps a configured length onto [MinLength, MaxLength]; zero
// selects DefaultLength.
func ClampLength(n int) int {
	switch {
	case n == 0:
		return DefaultLength
	case n < MinLength:
		return MinLength
	case n > MaxLength:
		return MaxLength
	}
	return n
}

// NewManager builds a Manager. now may be nil.
func NewManager(store Store, hasher Hasher, cfg Config, now func() time.Time) (*Manager, error) {
	if store == nil {
		return nil, errors.New("otp: store is nil")
	}
	if hasher == nil {
		return nil, errors.New("otp: hasher is nil")
	}
	if cfg.ExpiresIn < 0 {
		return nil, errors.New("otp: negative expiry")
	}
	if cfg.MaxAttempts < 0 {
		return nil, errors.New("otp: negative max attempts")
	}
	if cfg.ExpiresIn == 0 {
		cfg.ExpiresIn = DefaultExpiresIn
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{
		store:       store,
		hasher:      hasher,
		length:      ClampLength(cfg.Length),
		ttl:         cfg.ExpiresIn,
		maxAttempts: cfg.MaxAttempts,
		now:         now,
		failures:    make(map[string]failureCount),
	}, nil
}

// Length returns the effective code length.
func (m *Manager) Length() int { return m.length }

// Request generates a code for the account, superseding any earlier
// challenge, and returns the raw code.
func (m *Manager) Request(ctx context.Context, accountID string, purpose Purpose) (Issued, error) {
	if accountID == "" {
		return Issued{}, errors.New("otp: account id is empty")
	}
	code, err := internal.NewCode(m.length)
	if err != nil {
		return Issued{}, err
	}
	digest, err := m.hasher.Hash(code)
	if err != nil {
		return Issued{}, fmt.Errorf("otp: hash code: %w", err)
	}
	expiresAt := m.now().Add(m.ttl).UTC()
	if err := m.store.UpsertOTP(ctx, Challenge{
		AccountID: accountID,
		CodeHash:  digest,
		Purpose:   purpose,
		ExpiresAt: expiresAt,
	}); err != nil {
		return Issued{}, err
	}
	m.forget(accountID)
	return Issued{Code: code, Purpose: purpose, ExpiresAt: expiresAt}, nil
}

// Verify reports whether code is valid for (accountID, purpose) and, if so,
// consumes the challenge.
func (m *Manager) Verify(ctx context.Context, accountID, code string, purpose Purpose) (bool, error) {
	if accountID == "" || code == "" {
		return false, nil
	}
	c, err := m.store.FindOTP(ctx, accountID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, nil
	}

	match := m.hasher.Verify(code, c.CodeHash)
	if c.Used || !m.now().Before(c.ExpiresAt) {
		return false, nil
	}
	if !match || c.Purpose != purpose {
		if m.fail(c) {
			if _, err := m.store.MarkOTPUsed(ctx, accountID, c.CodeHash); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	ok, err := m.store.MarkOTPUsed(ctx, accountID, c.CodeHash)
	if ok {
		m.forget(accountID)
	}
	return ok, err
}

// Attempts returns the failures recorded against the account's current
// challenge.
func (m *Manager) Attempts(accountID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[accountID].n
}

// fail records a failed verification and reports whether the challenge has
// exhausted its attempts.
func (m *Manager) fail(c *Challenge) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, f := range m.failures {
		if !now.Before(f.expiresAt) {
			delete(m.failures, id)
		}
	}

	f := m.failures[c.AccountID]
	if f.codeHash != c.CodeHash {
		f = failureCount{codeHash: c.CodeHash, expiresAt: c.ExpiresAt}
	}
	f.n++
	if f.n >= m.maxAttempts {
		delete(m.failures, c.AccountID)
		return true
	}
	m.failures[c.AccountID] = f
	return false
}

func (m *Manager) forget(accountID string) {
	m.mu.Lock()
	delete(m.failures, accountID)
	m.mu.Unlock()
}
