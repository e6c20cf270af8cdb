package refresh

import (
	"context"
	"crypto/subtle"
	"errors"
	"sort"
	"time"

	"github.com/MrEthical07/cauth/internal"
)

const (
	// DefaultMaxSessions is the per-account cap on outstanding records.
	DefaultMaxSessions = 10
	maxSessionsLimit   = 100
	maxSwapRetries     = 4
)

var (
	// ErrNotIssued means the presented token has no matching record.
	ErrNotIssued = errors.New("refresh: token not issued or already consumed")
	// ErrConflict is returned by a Store when the set changed since it was read.
	ErrConflict = errors.New("refresh: concurrent modification")
	// ErrContention means the set kept changing across every retry.
	ErrContention = errors.New("refresh: too much contention")
)

// Record is one outstanding refresh credential.
type Record struct {
	Hash      string    `json:"hash"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Set is an account's records together with the version they were read at.
type Set struct {
	Records []Record
	Version uint64
}

// Swap replaces an account's whole record set if its version still equals
// ExpectedVersion. Touch also bumps the account's last-login timestamp.
type Swap struct {
	ExpectedVersion uint64
	Records         []Record
	Touch           bool
}

// Store is the persistence the registry runs on.
type Store interface {
	LoadRefresh(ctx context.Context, accountID string) (Set, error)
	CommitRefresh(ctx context.Context, accountID string, swap Swap) error
}

// Registry issues, rotates, checks and removes refresh records.
type Registry struct {
	store       Store
	key         []byte
	maxSessions int
	now         func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxSessions sets the per-account record cap.
func WithMaxSessions(n int) Option {
	return func(r *Registry) { r.maxSessions = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry builds a registry keyed by the refresh-token secret.
func NewRegistry(store Store, secret []byte, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("refresh: store is nil")
	}
	if len(secret) == 0 {
		return nil, errors.New("refresh: secret is empty")
	}
	r := &Registry{
		store:       store,
		key:         append([]byte(nil), secret...),
		maxSessions: DefaultMaxSessions,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxSessions < 1 || r.maxSessions > maxSessionsLimit {
		return nil, errors.New("refresh: max sessions must be in [1,100]")
	}
	return r, nil
}

// Digest returns the stored form of a raw token.
func (r *Registry) Digest(rawToken string) string {
	return internal.HMACHex(r.key, rawToken)
}

// Match reports the index of the live record matching rawToken, or -1.
// Every record is compared regardless of earlier matches.
func (r *Registry) Match(records []Record, rawToken string) int {
	digest := []byte(r.Digest(rawToken))
	now := r.now()
	found := -1
	for i := range records {
		eq := subtle.ConstantTimeCompare(digest, []byte(records[i].Hash))
		live := 0
		if records[i].ExpiresAt.After(now) {
			live = 1
		}
		if eq&live == 1 && found < 0 {
			found = i
		}
	}
	return found
}

// Contains reports whether rawToken is currently issued for the account.
func (r *Registry) Contains(ctx context.Context, accountID, rawToken string) (bool, error) {
	set, err := r.store.LoadRefresh(ctx, accountID)
	if err != nil {
		return false, err
	}
	return r.Match(set.Records, rawToken) >= 0, nil
}

// Issue records rawToken for the account and bumps last-login.
func (r *Registry) Issue(ctx context.Context, accountID, rawToken string, expiresAt time.Time) error {
	return r.mutate(ctx, accountID, true, func(records []Record) ([]Record, error) {
		return r.appendRecord(records, rawToken, expiresAt), nil
	})
}

// Rotate consumes oldRawToken and records newRawToken in one set
// replacement. It fails with ErrNotIssued when the old token is absent,
// including when a concurrent rotation consumed it first.
func (r *Registry) Rotate(ctx context.Context, accountID, oldRawToken, newRawToken string, expiresAt time.Time) error {
	return r.mutate(ctx, accountID, true, func(records []Record) ([]Record, error) {
		idx := r.Match(records, oldRawToken)
		if idx < 0 {
			return nil, ErrNotIssued
		}
		return r.appendRecord(without(records, idx), newRawToken, expiresAt), nil
	})
}

// Remove deletes the record for rawToken without replacement.
func (r *Registry) Remove(ctx context.Context, accountID, rawToken string) error {
	return r.mutate(ctx, accountID, false, func(records []Record) ([]Record, error) {
		idx := r.Match(records, rawToken)
		if idx < 0 {
			return nil, ErrNotIssued
		}
		return r.prune(without(records, idx)), nil
	})
}

func (r *Registry) mutate(ctx context.Context, accountID string, touch bool, next func([]Record) ([]Record, error)) error {
	for attempt := 0; attempt < maxSwapRetries; attempt++ {
		set, err := r.store.LoadRefresh(ctx, accountID)
		if err != nil {
			return err
		}
		records, err := next(set.Records)
		if err != nil {
			return err
		}
		err = r.store.CommitRefresh(ctx, accountID, Swap{
			ExpectedVersion: set.Version,
			Records:         records,
			Touch:           touch,
		})
		if errors.Is(err, ErrConflict) {
			continue
		}
		return err
	}
	return ErrContention
}

func (r *Registry) appendRecord(records []Record, rawToken string, expiresAt time.Time) []Record {
	out := r.prune(records)
	out = append(out, Record{Hash: r.Digest(rawToken), ExpiresAt: expiresAt.UTC()})
	if len(out) <= r.maxSessions {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out[len(out)-r.maxSessions:]
}

// prune copies records, dropping expired entries.
func (r *Registry) prune(records []Record) []Record {
	now := r.now()
	out := make([]Record, 0, len(records)+1)
	for _, rec := range records {
		if rec.ExpiresAt.After(now) {
			out = append(out, rec)
		}
	}
	return out
}

func without(records []Record, idx int) []Record {
	out := make([]Record, 0, len(records))
	out = append(out, records[:idx]...)
	return append(out, records[idx+1:]...)
}
