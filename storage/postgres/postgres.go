// Package postgres provides a store.Contract on PostgreSQL through
// database/sql and the pgx driver. The schema ships as embedded goose
// migrations; call Migrate before first use.
//
// The refresh set lives in its own table. A swap is one transaction that
// bumps accounts.refresh_version only when it still equals the expected
// version, then rewrites the account's refresh_tokens rows.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MrEthical07/cauth/otp"
	"github.com/MrEthical07/cauth/refresh"
	"github.com/MrEthical07/cauth/storage/postgres/migrations"
	"github.com/MrEthical07/cauth/store"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"

	accountColumns = `id, email, phone_number, password_hash, role, last_login, created_at, updated_at, refresh_version`
)

// Store implements store.Contract.
type Store struct {
	db *sql.DB
}

var _ store.Contract = (*Store)(nil)

// New wraps an open database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the pgx driver and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate applies the embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*store.Account, error) {
	var (
		acc                  store.Account
		email, phone, pwHash sql.NullString
		lastLogin            sql.NullTime
		version              int64
	)
	err := row.Scan(&acc.ID, &email, &phone, &pwHash, &acc.Role, &lastLogin, &acc.CreatedAt, &acc.UpdatedAt, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if version < 0 {
		return nil, store.ErrInvalidRecord
	}
	acc.Email = email.String
	acc.PhoneNumber = phone.String
	acc.PasswordHash = pwHash.String
	if lastLogin.Valid {
		acc.LastLogin = lastLogin.Time
	}
	acc.RefreshVersion = uint64(version)
	return &acc, nil
}

func loadTokens(ctx context.Context, db DBTX, acc *store.Account) error {
	rows, err := db.QueryContext(ctx,
		`SELECT hash, expires_at FROM refresh_tokens WHERE account_id = $1 ORDER BY expires_at`, acc.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	acc.RefreshTokens = nil
	for rows.Next() {
		var rec refresh.Record
		if err := rows.Scan(&rec.Hash, &rec.ExpiresAt); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		acc.RefreshTokens = append(acc.RefreshTokens, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) findAccount(ctx context.Context, query string, args ...any) (*store.Account, error) {
	acc, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	if err := loadTokens(ctx, s.db, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Store) FindAccountByID(ctx context.Context, id string) (*store.Account, error) {
	return s.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (s *Store) FindAccountWithCredential(ctx context.Context, cred store.Credential) (*store.Account, error) {
	if _, err := cred.Key(); err != nil {
		return nil, err
	}
	if cred.Email != "" {
		return s.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, cred.Email)
	}
	return s.findAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE phone_number = $1`, cred.PhoneNumber)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (s *Store) CreateAccount(ctx context.Context, in store.NewAccount) (*store.Account, error) {
	if _, err := (store.Credential{Email: in.Email, PhoneNumber: in.PhoneNumber}).Key(); err != nil {
		return nil, err
	}
	query := `INSERT INTO accounts (id, email, phone_number, password_hash, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + accountColumns

	acc, err := scanAccount(s.db.QueryRowContext(ctx, query,
		uuid.NewString(), nullable(in.Email), nullable(in.PhoneNumber), nullable(in.PasswordHash), in.Role))
	if err != nil {
		switch pgCode(err) {
		case pgUniqueViolation:
			return nil, store.ErrDuplicate
		case pgCheckViolation:
			return nil, store.ErrInvalidCredential
		}
		return nil, err
	}
	return acc, nil
}

func (s *Store) UpdateAccount(ctx context.Context, id string, upd store.AccountUpdate) (*store.Account, error) {
	var pwHash, role sql.NullString
	if upd.PasswordHash != nil {
		pwHash = sql.NullString{String: *upd.PasswordHash, Valid: true}
	}
	if upd.Role != nil {
		role = sql.NullString{String: *upd.Role, Valid: true}
	}
	return s.findAccount(ctx, `UPDATE accounts
		SET password_hash = COALESCE($2, password_hash),
		    role = COALESCE($3, role),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+accountColumns, id, pwHash, role)
}

func (s *Store) UpdateAccountLogin(ctx context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.swap(ctx, id, swap, true)
}

func (s *Store) RemoveAndAddRefreshToken(ctx context.Context, id string, swap refresh.Swap) (*store.Account, error) {
	return s.swap(ctx, id, swap, swap.Touch)
}

func (s *Store) swap(ctx context.Context, id string, swap refresh.Swap, touch bool) (*store.Account, error) {
	var out *store.Account
	err := withTx(ctx, s.db, func(ctx context.Context, tx DBTX) error {
		acc, err := scanAccount(tx.QueryRowContext(ctx, `UPDATE accounts
			SET refresh_version = refresh_version + 1,
			    updated_at = now(),
			    last_login = CASE WHEN $3::boolean THEN now() ELSE last_login END
			WHERE id = $1 AND refresh_version = $2
			RETURNING `+accountColumns, id, int64(swap.ExpectedVersion), touch))
		if errors.Is(err, store.ErrNotFound) {
			var exists int
			err := tx.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE id = $1`, id).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			return store.ErrConflict
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE account_id = $1`, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		for _, rec := range swap.Records {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO refresh_tokens (account_id, hash, expires_at) VALUES ($1, $2, $3)`,
				id, rec.Hash, rec.ExpiresAt); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		acc.RefreshTokens = append([]refresh.Record(nil), swap.Records...)
		out = acc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) DeleteAccount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpsertOTP(ctx context.Context, c otp.Challenge) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO otp_challenges (account_id, code_hash, purpose, expires_at, used)
		VALUES ($1, $2, $3, $4, false)
		ON CONFLICT (account_id) DO UPDATE
		SET code_hash = EXCLUDED.code_hash,
		    purpose = EXCLUDED.purpose,
		    expires_at = EXCLUDED.expires_at,
		    used = false`,
		c.AccountID, c.CodeHash, string(c.Purpose), c.ExpiresAt)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return store.ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) FindOTP(ctx context.Context, accountID string) (*otp.Challenge, error) {
	var (
		c       otp.Challenge
		purpose string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, code_hash, purpose, expires_at, used FROM otp_challenges WHERE account_id = $1`,
		accountID).Scan(&c.AccountID, &c.CodeHash, &purpose, &c.ExpiresAt, &c.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.Purpose = otp.Purpose(purpose)
	return &c, nil
}

func (s *Store) MarkOTPUsed(ctx context.Context, accountID, codeHash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE otp_challenges SET used = true WHERE account_id = $1 AND code_hash = $2 AND NOT used`,
		accountID, codeHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}
