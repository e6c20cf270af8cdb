// Package memory provides a thread-safe in-memory store.Contract.
// Suitable for tests, demos, and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

// Store is an in-memory store.Contract.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*store.Account
	credentials map[string]string
	otps        map[string]otp.Challenge
	now         func() time.Time
}

var _ store.Contract = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		accounts:    make(map[string]*store.Account),
		credentials: make(map[string]string),
		otps:        make(map[string]otp.Challenge),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) FindAccountByID(_ context.Context, id string) (*store.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return acc.Clone(), nil
}

func (s *Store) FindAccountWithCredential(_ context.Context, cred store.Credential) (*store.Account, error) {
	key, err := cred.Key()
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.credentials[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.accounts[id].Clone(), nil
}

func (s *Store) CreateAccount(_ context.Context, in store.NewAccount) (*store.Account, error) {
	key, err := store.Credential{Email: in.Email, PhoneNumber: in.PhoneNumber}.Key()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.credentials[key]; taken {
		return nil, store.ErrDuplicate
	}
	now := s.now()
	acc := &store.Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.accounts[acc.ID] = acc
	s.credentials[key] = acc.ID
	return acc.Clone(), nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, upd store.AccountUpdate) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.PasswordHash != nil {
		acc.PasswordHash = *upd.PasswordHash
	}
	if upd.Role != nil {
		acc.Role = *upd.Role
	}
	acc.UpdatedAt = s.now()
	return acc.Clone(), nil
}

func (s *Store) UpdateAccountLogin(_ context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.swap(id, swap, true)
}

func (s *Store) RemoveAndAddRefreshToken(_ context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.swap(id, swap, false)
}

func (s *Store) swap(id string, swap refresh.Swap, touch bool) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if err := store.ApplySwap(acc, swap, touch, s.now()); err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	if key, err := store.CredentialOf(acc).Key(); err == nil {
		delete(s.credentials, key)
	}
	delete(s.accounts, id)
	delete(s.otps, id)
	return nil
}

func (s *Store) UpsertOTP(_ context.Context, c otp.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.otps[c.AccountID] = c
	return nil
}

func (s *Store) FindOTP(_ context.Context, accountID string) (*otp.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.otps[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) MarkOTPUsed(_ context.Context, accountID, codeHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.otps[accountID]
	if !ok || c.Used || c.CodeHash != codeHash {
		return false, nil
	}
	c.Used = true
	s.otps[accountID] = c
	return true, nil
}
