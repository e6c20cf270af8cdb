package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/store"
)

var columns = []string{"id", "email", "phone_number", "password_hash", "role", "last_login", "created_at", "updated_at", "refresh_version"}

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func accountRow(version int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(columns).
		AddRow("acc-1", "a@x.com", nil, "$argon2id$h", "user", nil, now, now, version)
}

func TestFindAccountByID(t *testing.T) {
	s, mock := newStoreWithMock(t)
	exp := time.Now().Add(time.Hour).UTC()

	mock.ExpectQuery(`(?s)^SELECT\s+id, email.*FROM accounts WHERE id = \$1$`).
		WithArgs("acc-1").
		WillReturnRows(accountRow(2))
	mock.ExpectQuery(`(?s)^SELECT hash, expires_at FROM refresh_tokens WHERE account_id = \$1`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"hash", "expires_at"}).AddRow("abc", exp))

	acc, err := s.FindAccountByID(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", acc.Email)
	assert.Empty(t, acc.PhoneNumber)
	assert.True(t, acc.LastLogin.IsZero())
	assert.Equal(t, uint64(2), acc.RefreshVersion)
	require.Len(t, acc.RefreshTokens, 1)
	assert.Equal(t, "abc", acc.RefreshTokens[0].Hash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAccountNotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)^SELECT.*FROM accounts WHERE lower\(email\) = lower\(\$1\)$`).
		WithArgs("nobody@x.com").
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := s.FindAccountWithCredential(context.Background(), store.Credential{Email: "nobody@x.com"})
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAccountWithPhone(t *testing.T) {
	s, mock := newStoreWithMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^SELECT.*FROM accounts WHERE phone_number = \$1$`).
		WithArgs("+15551234567").
		WillReturnRows(sqlmock.NewRows(columns).AddRow("acc-2", nil, "+15551234567", nil, "admin", now, now, now, int64(0)))
	mock.ExpectQuery(`^SELECT hash, expires_at FROM refresh_tokens`).
		WithArgs("acc-2").
		WillReturnRows(sqlmock.NewRows([]string{"hash", "expires_at"}))

	acc, err := s.FindAccountWithCredential(context.Background(), store.Credential{PhoneNumber: "+15551234567"})
	require.NoError(t, err)
	assert.Equal(t, "acc-2", acc.ID)
	assert.Empty(t, acc.PasswordHash)
	assert.False(t, acc.LastLogin.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountDuplicate(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(`(?s)^INSERT INTO accounts`).
		WithArgs(sqlmock.AnyArg(), "a@x.com", nil, nil, "user").
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation})

	_, err := s.CreateAccount(context.Background(), store.NewAccount{Email: "a@x.com", Role: "user"})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountRequiresOneCredential(t *testing.T) {
	s, mock := newStoreWithMock(t)

	_, err := s.CreateAccount(context.Background(), store.NewAccount{Role: "user"})
	assert.ErrorIs(t, err, store.ErrInvalidCredential)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapReplacesRecordsInOneTransaction(t *testing.T) {
	s, mock := newStoreWithMock(t)
	exp := time.Now().Add(time.Hour).UTC()
	rec := refresh.Record{Hash: "h-new", ExpiresAt: exp}

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^UPDATE accounts\s+SET refresh_version = refresh_version \+ 1.*WHERE id = \$1 AND refresh_version = \$2`).
		WithArgs("acc-1", int64(3), true).
		WillReturnRows(accountRow(4))
	mock.ExpectExec(`^DELETE FROM refresh_tokens WHERE account_id = \$1$`).
		WithArgs("acc-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`^INSERT INTO refresh_tokens`).
		WithArgs("acc-1", "h-new", exp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acc, err := s.UpdateAccountLogin(context.Background(), "acc-1", refresh.Swap{ExpectedVersion: 3, Records: []refresh.Record{rec}})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), acc.RefreshVersion)
	assert.Equal(t, []refresh.Record{rec}, acc.RefreshTokens)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapStaleVersionConflicts(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^UPDATE accounts`).
		WithArgs("acc-1", int64(1), false).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`^SELECT 1 FROM accounts WHERE id = \$1$`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	_, err := s.RemoveAndAddRefreshToken(context.Background(), "acc-1", refresh.Swap{ExpectedVersion: 1})
	assert.ErrorIs(t, err, store.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSwapMissingAccount(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^UPDATE accounts`).
		WithArgs("gone", int64(0), true).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectQuery(`^SELECT 1 FROM accounts`).
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	_, err := s.RemoveAndAddRefreshToken(context.Background(), "gone", refresh.Swap{Touch: true})
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAccount(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`^DELETE FROM accounts WHERE id = \$1$`).WithArgs("acc-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^DELETE FROM accounts WHERE id = \$1$`).WithArgs("acc-1").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.DeleteAccount(context.Background(), "acc-1"))
	assert.ErrorIs(t, s.DeleteAccount(context.Background(), "acc-1"), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOTPStatements(t *testing.T) {
	s, mock := newStoreWithMock(t)
	ctx := context.Background()
	exp := time.Now().Add(5 * time.Minute).UTC()

	mock.ExpectExec(`(?s)^INSERT INTO otp_challenges.*ON CONFLICT \(account_id\) DO UPDATE`).
		WithArgs("acc-1", "code-hash", "LOGIN", exp).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`^SELECT account_id, code_hash, purpose, expires_at, used FROM otp_challenges`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"account_id", "code_hash", "purpose", "expires_at", "used"}).
			AddRow("acc-1", "code-hash", "LOGIN", exp, false))
	mock.ExpectExec(`^UPDATE otp_challenges SET used = true WHERE account_id = \$1 AND code_hash = \$2 AND NOT used$`).
		WithArgs("acc-1", "code-hash").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^UPDATE otp_challenges SET used = true`).
		WithArgs("acc-1", "code-hash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.UpsertOTP(ctx, otp.Challenge{AccountID: "acc-1", CodeHash: "code-hash", Purpose: otp.PurposeLogin, ExpiresAt: exp}))

	c, err := s.FindOTP(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, otp.PurposeLogin, c.Purpose)

	ok, err := s.MarkOTPUsed(ctx, "acc-1", "code-hash")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.MarkOTPUsed(ctx, "acc-1", "code-hash")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOTPUnknownAccount(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(`^INSERT INTO otp_challenges`).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	err := s.UpsertOTP(context.Background(), otp.Challenge{AccountID: "gone", CodeHash: "h", Purpose: otp.PurposeLogin, ExpiresAt: time.Now()})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMigrateUsesEmbeddedFS(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	t.Cleanup(func() { gooseUpContext = orig })

	var gotDir string
	gooseUpContext = func(_ context.Context, _ *sql.DB, dir string, _ ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, Migrate(context.Background(), db))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	assert.ErrorContains(t, Migrate(context.Background(), db), "boom")
}
