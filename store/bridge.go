package store

import (
	"context"
	"errors"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
)

// RefreshStore adapts a Contract to the persistence refresh.Registry needs.
// Touching swaps go through UpdateAccountLogin, the rest through
// RemoveAndAddRefreshToken.
func RefreshStore(c Contract) refresh.Store {
	return refreshStore{c: c}
}

// OTPStore adapts a Contract to the persistence otp.Manager needs.
func OTPStore(c Contract) otp.Store {
	return otpStore{c: c}
}

type refreshStore struct {
	c Contract
}

func (s refreshStore) LoadRefresh(ctx context.Context, accountID string) (refresh.Set, error) {
	acct, err := s.c.FindAccountByID(ctx, accountID)
	if err != nil {
		return refresh.Set{}, err
	}
	return refresh.Set{Records: acct.RefreshTokens, Version: acct.RefreshVersion}, nil
}

func (s refreshStore) CommitRefresh(ctx context.Context, accountID string, swap refresh.Swap) error {
	var err error
	if swap.Touch {
		_, err = s.c.UpdateAccountLogin(ctx, accountID, swap)
	} else {
		_, err = s.c.RemoveAndAddRefreshToken(ctx, accountID, swap)
	}
	return err
}

type otpStore struct {
	c Contract
}

func (s otpStore) UpsertOTP(ctx context.Context, c otp.Challenge) error {
	return s.c.UpsertOTP(ctx, c)
}

func (s otpStore) FindOTP(ctx context.Context, accountID string) (*otp.Challenge, error) {
	c, err := s.c.FindOTP(ctx, accountID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s otpStore) MarkOTPUsed(ctx context.Context, accountID, codeHash string) (bool, error) {
	return s.c.MarkOTPUsed(ctx, accountID, codeHash)
}
