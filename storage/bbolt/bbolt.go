// Package bbolt provides a store.Contract backed by a BBolt database file.
package bbolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

var (
	bucketAccounts    = []byte("accounts")
	bucketCredentials = []byte("credentials")
	bucketOTPs        = []byte("otps")
)

// Store implements store.Contract on BBolt. Every write runs in a single
// db.Update transaction, which BBolt serializes.
type Store struct {
	db *bbolt.DB
}

var _ store.Contract = (*Store)(nil)

// New wraps an open database and creates the buckets.
func New(db *bbolt.DB) (*Store, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketCredentials, bucketOTPs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens a BBolt database at path and returns a Store.
func Open(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func getAccount(tx *bbolt.Tx, id string) (*store.Account, error) {
	data := tx.Bucket(bucketAccounts).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	var acc store.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return &acc, nil
}

func putAccount(tx *bbolt.Tx, acc *store.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketAccounts).Put([]byte(acc.ID), data)
}

func (s *Store) FindAccountByID(_ context.Context, id string) (*store.Account, error) {
	var acc *store.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		acc, err = getAccount(tx, id)
		return err
	})
	return acc, err
}

func (s *Store) FindAccountWithCredential(_ context.Context, cred store.Credential) (*store.Account, error) {
	key, err := cred.Key()
	if err != nil {
		return nil, err
	}
	var acc *store.Account
	err = s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketCredentials).Get([]byte(key))
		if id == nil {
			return store.ErrNotFound
		}
		var err error
		acc, err = getAccount(tx, string(id))
		return err
	})
	return acc, err
}

func (s *Store) CreateAccount(_ context.Context, in store.NewAccount) (*store.Account, error) {
	key, err := store.Credential{Email: in.Email, PhoneNumber: in.PhoneNumber}.Key()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	acc := &store.Account{
		ID:           uuid.NewString(),
		Email:        in.Email,
		PhoneNumber:  in.PhoneNumber,
		PasswordHash: in.PasswordHash,
		Role:         in.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		creds := tx.Bucket(bucketCredentials)
		if creds.Get([]byte(key)) != nil {
			return store.ErrDuplicate
		}
		if err := creds.Put([]byte(key), []byte(acc.ID)); err != nil {
			return err
		}
		return putAccount(tx, acc)
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// update loads the account, applies fn and writes it back in one transaction.
func (s *Store) update(id string, fn func(acc *store.Account) error) (*store.Account, error) {
	var out *store.Account
	err := s.db.Update(func(tx *bbolt.Tx) error {
		acc, err := getAccount(tx, id)
		if err != nil {
			return err
		}
		if err := fn(acc); err != nil {
			return err
		}
		out = acc
		return putAccount(tx, acc)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateAccount(_ context.Context, id string, upd store.AccountUpdate) (*store.Account, error) {
	return s.update(id, func(acc *store.Account) error {
		if upd.PasswordHash != nil {
			acc.PasswordHash = *upd.PasswordHash
		}
		if upd.Role != nil {
			acc.Role = *upd.Role
		}
		acc.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (s *Store) UpdateAccountLogin(_ context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.update(id, func(acc *store.Account) error {
		return store.ApplySwap(acc, swap, true, time.Now().UTC())
	})
}

func (s *Store) RemoveAndAddRefreshToken(_ context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.update(id, func(acc *store.Account) error {
		return store.ApplySwap(acc, swap, false, time.Now().UTC())
	})
}

func (s *Store) DeleteAccount(_ context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		acc, err := getAccount(tx, id)
		if err != nil {
			return err
		}
		if key, err := store.CredentialOf(acc).Key(); err == nil {
			if err := tx.Bucket(bucketCredentials).Delete([]byte(key)); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketOTPs).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketAccounts).Delete([]byte(id))
	})
}

func (s *Store) UpsertOTP(_ context.Context, c otp.Challenge) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketOTPs).Put([]byte(c.AccountID), data)
	})
}

func getOTP(tx *bbolt.Tx, accountID string) (*otp.Challenge, error) {
	data := tx.Bucket(bucketOTPs).Get([]byte(accountID))
	if data == nil {
		return nil, store.ErrNotFound
	}
	var c otp.Challenge
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return &c, nil
}

func (s *Store) FindOTP(_ context.Context, accountID string) (*otp.Challenge, error) {
	var c *otp.Challenge
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		c, err = getOTP(tx, accountID)
		return err
	})
	return c, err
}

func (s *Store) MarkOTPUsed(_ context.Context, accountID, codeHash string) (bool, error) {
	marked := false
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c, err := getOTP(tx, accountID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if c.Used || c.CodeHash != codeHash {
			return nil
		}
		c.Used = true
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		marked = true
		return tx.Bucket(bucketOTPs).Put([]byte(accountID), data)
	})
	return marked, err
}
