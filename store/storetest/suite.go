// Package storetest holds the conformance suite every store.Contract adapter
// runs in its own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

// Factory returns a fresh, empty adapter.
type Factory func(t *testing.T) store.Contract

// Run executes the suite against adapters built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, s store.Contract)
	}{
		{"CreateAndFind", testCreateAndFind},
		{"DuplicateCredential", testDuplicateCredential},
		{"CredentialRules", testCredentialRules},
		{"UpdateAccount", testUpdateAccount},
		{"RefreshSwap", testRefreshSwap},
		{"RefreshSwapConflict", testRefreshSwapConflict},
		{"ConcurrentSwapSingleWinner", testConcurrentSwap},
		{"DeleteAccount", testDeleteAccount},
		{"OTPLifecycle", testOTPLifecycle},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newStore(t))
		})
	}
}

func record(n int) refresh.Record {
	return refresh.Record{
		Hash:      fmt.Sprintf("%064x", n),
		ExpiresAt: time.Now().Add(time.Hour).UTC().Truncate(time.Millisecond),
	}
}

func testCreateAndFind(t *testing.T, s store.Contract) {
	ctx := context.Background()

	created, err := s.CreateAccount(ctx, store.NewAccount{Email: "a@x.com", PasswordHash: "$argon2id$x", Role: "user"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "a@x.com", created.Email)
	assert.Equal(t, "user", created.Role)
	assert.Empty(t, created.RefreshTokens)
	assert.False(t, created.CreatedAt.IsZero())

	byID, err := s.FindAccountByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, byID.ID)
	assert.Equal(t, "$argon2id$x", byID.PasswordHash)

	byCred, err := s.FindAccountWithCredential(ctx, store.Credential{Email: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, byCred.ID)

	phone, err := s.CreateAccount(ctx, store.NewAccount{PhoneNumber: "+15551234567", Role: "admin"})
	require.NoError(t, err)
	assert.Empty(t, phone.PasswordHash)

	byPhone, err := s.FindAccountWithCredential(ctx, store.Credential{PhoneNumber: "+15551234567"})
	require.NoError(t, err)
	assert.Equal(t, phone.ID, byPhone.ID)

	_, err = s.FindAccountByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindAccountWithCredential(ctx, store.Credential{Email: "nobody@x.com"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDuplicateCredential(t *testing.T, s store.Contract) {
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, store.NewAccount{Email: "dup@x.com", Role: "user"})
	require.NoError(t, err)
	_, err = s.CreateAccount(ctx, store.NewAccount{Email: "dup@x.com", Role: "admin"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
}

func testCredentialRules(t *testing.T, s store.Contract) {
	ctx := context.Background()

	_, err := s.CreateAccount(ctx, store.NewAccount{Role: "user"})
	assert.ErrorIs(t, err, store.ErrInvalidCredential)
	_, err = s.CreateAccount(ctx, store.NewAccount{Email: "b@x.com", PhoneNumber: "+15550000000", Role: "user"})
	assert.ErrorIs(t, err, store.ErrInvalidCredential)
	_, err = s.FindAccountWithCredential(ctx, store.Credential{})
	assert.Error(t, err)
}

func testUpdateAccount(t *testing.T, s store.Contract) {
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, store.NewAccount{Email: "u@x.com", PasswordHash: "old", Role: "user"})
	require.NoError(t, err)

	hash := "new"
	updated, err := s.UpdateAccount(ctx, acc.ID, store.AccountUpdate{PasswordHash: &hash})
	require.NoError(t, err)
	assert.Equal(t, "new", updated.PasswordHash)
	assert.Equal(t, "user", updated.Role)

	reloaded, err := s.FindAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", reloaded.PasswordHash)

	_, err = s.UpdateAccount(ctx, "missing", store.AccountUpdate{PasswordHash: &hash})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRefreshSwap(t *testing.T, s store.Contract) {
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, store.NewAccount{Email: "r@x.com", Role: "user"})
	require.NoError(t, err)
	require.True(t, acc.LastLogin.IsZero())

	first := record(1)
	loggedIn, err := s.UpdateAccountLogin(ctx, acc.ID, refresh.Swap{ExpectedVersion: acc.RefreshVersion, Records: []refresh.Record{first}})
	require.NoError(t, err)
	assert.Equal(t, acc.RefreshVersion+1, loggedIn.RefreshVersion)
	assert.False(t, loggedIn.LastLogin.IsZero())
	require.Len(t, loggedIn.RefreshTokens, 1)
	assert.Equal(t, first.Hash, loggedIn.RefreshTokens[0].Hash)

	lastLogin := loggedIn.LastLogin
	second := record(2)
	removed, err := s.RemoveAndAddRefreshToken(ctx, acc.ID, refresh.Swap{ExpectedVersion: loggedIn.RefreshVersion, Records: []refresh.Record{second}})
	require.NoError(t, err)
	assert.True(t, removed.LastLogin.Equal(lastLogin), "swap without touch must keep last-login")

	reloaded, err := s.FindAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.RefreshTokens, 1)
	assert.Equal(t, second.Hash, reloaded.RefreshTokens[0].Hash)
	assert.True(t, reloaded.RefreshTokens[0].ExpiresAt.Equal(second.ExpiresAt))
	assert.Equal(t, removed.RefreshVersion, reloaded.RefreshVersion)

	_, err = s.UpdateAccountLogin(ctx, "missing", refresh.Swap{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testRefreshSwapConflict(t *testing.T, s store.Contract) {
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, store.NewAccount{Email: "c@x.com", Role: "user"})
	require.NoError(t, err)

	_, err = s.UpdateAccountLogin(ctx, acc.ID, refresh.Swap{ExpectedVersion: acc.RefreshVersion, Records: []refresh.Record{record(1)}})
	require.NoError(t, err)

	_, err = s.RemoveAndAddRefreshToken(ctx, acc.ID, refresh.Swap{ExpectedVersion: acc.RefreshVersion, Records: nil})
	assert.ErrorIs(t, err, store.ErrConflict)

	reloaded, err := s.FindAccountByID(ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, reloaded.RefreshTokens, 1, "a rejected swap must not change the set")
}

func testConcurrentSwap(t *testing.T, s store.Contract) {
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, store.NewAccount{Email: "race@x.com", Role: "user"})
	require.NoError(t, err)

	const workers = 16
	var (
		wg    sync.WaitGroup
		wins  atomic.Int64
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := s.RemoveAndAddRefreshToken(ctx, acc.ID, refresh.Swap{
				ExpectedVersion: acc.RefreshVersion,
				Records:         []refresh.Record{record(i)},
				Touch:           true,
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, store.ErrConflict):
			default:
				t.Errorf("unexpected swap error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
}

func testDeleteAccount(t *testing.T, s store.Contract) {
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, store.NewAccount{Email: "del@x.com", Role: "user"})
	require.NoError(t, err)
	require.NoError(t, s.DeleteAccount(ctx, acc.ID))

	_, err = s.FindAccountByID(ctx, acc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.FindAccountWithCredential(ctx, store.Credential{Email: "del@x.com"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The credential is free again.
	_, err = s.CreateAccount(ctx, store.NewAccount{Email: "del@x.com", Role: "user"})
	assert.NoError(t, err)
	assert.ErrorIs(t, s.DeleteAccount(ctx, "missing"), store.ErrNotFound)
}

func testOTPLifecycle(t *testing.T, s store.Contract) {
	ctx := context.Background()

	acc, err := s.CreateAccount(ctx, store.NewAccount{Email: "otp@x.com", Role: "user"})
	require.NoError(t, err)

	_, err = s.FindOTP(ctx, acc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	exp := time.Now().Add(5 * time.Minute).UTC().Truncate(time.Millisecond)
	require.NoError(t, s.UpsertOTP(ctx, otp.Challenge{AccountID: acc.ID, CodeHash: "h1", Purpose: otp.PurposeLogin, ExpiresAt: exp}))
	require.NoError(t, s.UpsertOTP(ctx, otp.Challenge{AccountID: acc.ID, CodeHash: "h2", Purpose: otp.PurposeAction, ExpiresAt: exp}))

	c, err := s.FindOTP(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "h2", c.CodeHash)
	assert.Equal(t, otp.PurposeAction, c.Purpose)
	assert.False(t, c.Used)
	assert.True(t, c.ExpiresAt.Equal(exp))

	ok, err := s.MarkOTPUsed(ctx, acc.ID, "h1")
	require.NoError(t, err)
	assert.False(t, ok, "superseded hash must not be consumable")

	ok, err = s.MarkOTPUsed(ctx, acc.ID, "h2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkOTPUsed(ctx, acc.ID, "h2")
	require.NoError(t, err)
	assert.False(t, ok, "a used challenge must not be consumed twice")

	c, err = s.FindOTP(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, c.Used)

	// A fresh request resets the used flag.
	require.NoError(t, s.UpsertOTP(ctx, otp.Challenge{AccountID: acc.ID, CodeHash: "h3", Purpose: otp.PurposeLogin, ExpiresAt: exp}))
	c, err = s.FindOTP(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, c.Used)
	assert.True(t, strings.HasPrefix(c.CodeHash, "h3"))

	ok, err = s.MarkOTPUsed(ctx, "missing", "h3")
	require.NoError(t, err)
	assert.False(t, ok)
}
