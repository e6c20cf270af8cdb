package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

// Result is the outcome of flows that return no value.
type Result struct {
	Failure   FailureKind
	Err       error
	AccountID string
}

// RunRefresh exchanges a live refresh token for a new pair. The presented
// token is consumed by the same set replacement that records its successor,
// so a replayed or concurrently rotated token fails with
// FailureInvalidRefreshToken.
func RunRefresh(ctx context.Context, refreshToken string, deps Deps) SessionResult {
	claims := deps.Tokens.VerifyRefresh(refreshToken)
	if claims == nil {
		return sessionFailure(FailureInvalidRefreshToken, nil)
	}

	acct, kind, err := lookupByID(ctx, &deps, claims.ID)
	if kind != FailureNone || err != nil {
		return sessionFailure(kind, err)
	}
	if acct == nil {
		return sessionFailure(FailureAccountNotFound, nil)
	}
	if deps.Refresh.Match(acct.RefreshTokens, refreshToken) < 0 {
		return sessionFailure(FailureInvalidRefreshToken, nil)
	}

	pair, err := deps.Tokens.IssuePair(acct.ID, acct.Role)
	if err != nil {
		return sessionFailure(FailureNone, err)
	}

	err = deps.Refresh.Rotate(ctx, acct.ID, refreshToken, pair.RefreshToken, pair.RefreshExpiresAt)
	switch {
	case errors.Is(err, refresh.ErrNotIssued):
		return sessionFailure(FailureInvalidRefreshToken, nil)
	case errors.Is(err, store.ErrNotFound):
		return sessionFailure(FailureAccountNotFound, nil)
	case errors.Is(err, store.ErrInvalidRecord):
		return sessionFailure(FailureSchema, err)
	case err != nil:
		return sessionFailure(FailureNone, err)
	}

	acct.LastLogin = deps.now()
	return SessionResult{Account: acct, Tokens: pair}
}

// RunLogout removes the record of a refresh token without replacement.
func RunLogout(ctx context.Context, refreshToken string, deps Deps) Result {
	claims := deps.Tokens.VerifyRefresh(refreshToken)
	if claims == nil {
		return Result{Failure: FailureInvalidRefreshToken}
	}

	err := deps.Refresh.Remove(ctx, claims.ID, refreshToken)
	switch {
	case errors.Is(err, refresh.ErrNotIssued), errors.Is(err, store.ErrNotFound):
		return Result{Failure: FailureInvalidRefreshToken, AccountID: claims.ID}
	case errors.Is(err, store.ErrInvalidRecord):
		return Result{Failure: FailureSchema, Err: err, AccountID: claims.ID}
	case err != nil:
		return Result{Err: err, AccountID: claims.ID}
	}
	return Result{AccountID: claims.ID}
}

// RunChangePassword replaces the password hash after verifying the old one.
// Accounts without a password cannot change one.
func RunChangePassword(ctx context.Context, accountID, oldPassword, newPassword string, deps Deps) Result {
	acct, kind, err := lookupByID(ctx, &deps, accountID)
	if kind != FailureNone || err != nil {
		return Result{Failure: kind, Err: err, AccountID: accountID}
	}
	if acct == nil {
		return Result{Failure: FailureAccountNotFound, AccountID: accountID}
	}
	if acct.PasswordHash == "" {
		burnHash(&deps, oldPassword)
		return Result{Failure: FailureCredentialMismatch, AccountID: accountID}
	}
	if !deps.Hasher.Verify(oldPassword, acct.PasswordHash) {
		return Result{Failure: FailureCredentialMismatch, AccountID: accountID}
	}

	hash, err := deps.Hasher.Hash(newPassword)
	if err != nil {
		return Result{Err: err, AccountID: accountID}
	}
	if _, err := deps.Store.UpdateAccount(ctx, accountID, store.AccountUpdate{PasswordHash: &hash}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{Failure: FailureAccountNotFound, AccountID: accountID}
		}
		return Result{Err: err, AccountID: accountID}
	}
	return Result{AccountID: accountID}
}
