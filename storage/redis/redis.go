// Package redis provides a store.Contract on Redis.
//
// Accounts are JSON values under <prefix>:acct:<id>. The credential index
// <prefix>:cred:<key> maps a login identifier to an account id. OTP
// challenges live under <prefix>:otp:<id> and expire with the challenge.
// Writes that must be atomic run as WATCH/MULTI transactions and retry a
// bounded number of times when the watched key changes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

const maxRetries = 4

// ErrRedisUnavailable wraps transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Store implements store.Contract.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

var _ store.Contract = (*Store)(nil)

// New returns a Store using prefix for every key ("cauth" when empty).
func New(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "cauth"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) accountKey(id string) string    { return s.prefix + ":acct:" + id }
func (s *Store) credKey(key string) string      { return s.prefix + ":cred:" + key }
func (s *Store) otpKey(accountID string) string { return s.prefix + ":otp:" + accountID }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// classify leaves domain errors untouched and wraps everything else.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRedisUnavailable),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInvalidRecord),
		errors.Is(err, store.ErrInvalidCredential):
		return err
	}
	return unavailable(err)
}

func decodeAccount(data []byte) (*store.Account, error) {
	var acc store.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return &acc, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) loadAccount(ctx context.Context, c getter, id string) (*store.Account, error) {
	data, err := c.Get(ctx, s.accountKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return decodeAccount(data)
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (*store.Account, error) {
	return s.loadAccount(ctx, s.redis, id)
}

func (s *Store) FindAccountWithCredential(ctx context.Context, cred store.Credential) (*store.Account, error) {
	key, err := cred.Key()
	if err != nil {
		return nil, err
	}
	id, err := s.redis.Get(ctx, s.credKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return s.loadAccount(ctx, s.redis, id)
}

func (s *Store) CreateAccount(ctx context.Context, in store.NewAccount) (*store.Account, error) {
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
	encoded, err := json.Marshal(acc)
	if err != nil {
		return nil, err
	}
	credKey := s.credKey(key)

	for i := 0; i < maxRetries; i++ {
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Exists(ctx, credKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return store.ErrDuplicate
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, credKey, acc.ID, 0)
				pipe.Set(ctx, s.accountKey(acc.ID), encoded, 0)
				return nil
			})
			return err
		}, credKey)
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer touched the credential; re-check it.
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
		return acc, nil
	}
	return nil, store.ErrDuplicate
}

// mutate runs fn on the current account inside a WATCH transaction and
// stores the result.
func (s *Store) mutate(ctx context.Context, id string, fn func(*store.Account) error) (*store.Account, error) {
	key := s.accountKey(id)
	for i := 0; i < maxRetries; i++ {
		var out *store.Account
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			acc, err := s.loadAccount(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := fn(acc); err != nil {
				return err
			}
			encoded, err := json.Marshal(acc)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, 0)
				return nil
			})
			if err != nil {
				return err
			}
			out = acc
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
		return out, nil
	}
	return nil, store.ErrConflict
}

func (s *Store) UpdateAccount(ctx context.Context, id string, upd store.AccountUpdate) (*store.Account, error) {
	return s.mutate(ctx, id, func(acc *store.Account) error {
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

func (s *Store) UpdateAccountLogin(ctx context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.mutate(ctx, id, func(acc *store.Account) error {
		return store.ApplySwap(acc, swap, true, time.Now().UTC())
	})
}

func (s *Store) RemoveAndAddRefreshToken(ctx context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.mutate(ctx, id, func(acc *store.Account) error {
		return store.ApplySwap(acc, swap, false, time.Now().UTC())
	})
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	key := s.accountKey(id)
	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			acc, err := s.loadAccount(ctx, tx, id)
			if err != nil {
				return err
			}
			credKey, credErr := store.CredentialOf(acc).Key()
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key, s.otpKey(id))
				if credErr == nil {
					pipe.Del(ctx, s.credKey(credKey))
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return classify(err)
	}
	return store.ErrConflict
}

func (s *Store) UpsertOTP(ctx context.Context, c otp.Challenge) error {
	key := s.otpKey(c.AccountID)
	ttl := time.Until(c.ExpiresAt)
	if ttl <= 0 {
		// Already expired: it could never verify, so only the supersede matters.
		if err := s.redis.Del(ctx, key).Err(); err != nil {
			return unavailable(err)
		}
		return nil
	}
	encoded, err := json.Marshal(c)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) loadOTP(ctx context.Context, c getter, accountID string) (*otp.Challenge, error) {
	data, err := c.Get(ctx, s.otpKey(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	var ch otp.Challenge
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidRecord, err)
	}
	return &ch, nil
}

func (s *Store) FindOTP(ctx context.Context, accountID string) (*otp.Challenge, error) {
	return s.loadOTP(ctx, s.redis, accountID)
}

func (s *Store) MarkOTPUsed(ctx context.Context, accountID, codeHash string) (bool, error) {
	key := s.otpKey(accountID)
	for i := 0; i < maxRetries; i++ {
		marked := false
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			ch, err := s.loadOTP(ctx, tx, accountID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if ch.Used || ch.CodeHash != codeHash {
				return nil
			}
			ch.Used = true
			encoded, err := json.Marshal(ch)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.SetArgs(ctx, key, encoded, redis.SetArgs{KeepTTL: true})
				return nil
			})
			if err != nil {
				return err
			}
			marked = true
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return false, classify(err)
		}
		return marked, nil
	}
	return false, nil
}
