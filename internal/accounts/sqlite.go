package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shohruhuz/uzbot/internal/common"
	"github.com/shohruhuz/uzbot/internal/dbx"
)

// SQLiteRepository stores accounts in an embedded SQLite database, for
// single-node deployments that do not want to run PostgreSQL. Timestamps are
// kept as RFC 3339 text to stay driver-agnostic.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// InitSchema creates the accounts table if it does not exist yet. SQLite
// deployments use this instead of goose migrations.
func (r *SQLiteRepository) InitSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  login TEXT NOT NULL,
  secret_ciphertext TEXT NOT NULL,
  cookies TEXT NOT NULL DEFAULT '{}',
  active INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL,
  UNIQUE (user_id, login)
);
CREATE INDEX IF NOT EXISTS idx_accounts_user_id ON accounts (user_id);
`)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Upsert(ctx context.Context, userID, login, secretCiphertext string, cookies map[string]string) (*Account, error) {
	cookiesJSON, err := marshalCookies(cookies)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var account *Account
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := r.scan(tx.QueryRowContext(ctx,
			`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
			 FROM accounts WHERE user_id = ? AND login = ?`, userID, login))
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET secret_ciphertext = ?, cookies = ?, updated_at = ? WHERE id = ?`,
				secretCiphertext, cookiesJSON, now, existing.ID); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			existing.SecretCiphertext = secretCiphertext
			existing.Cookies, _ = unmarshalCookies(cookiesJSON)
			account = existing
			return nil
		case errors.Is(err, common.ErrNotFound):
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET active = 0 WHERE user_id = ? AND active = 1`, userID); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			id := uuid.NewString()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO accounts (id, user_id, login, secret_ciphertext, cookies, active, updated_at)
				 VALUES (?, ?, ?, ?, ?, 1, ?)`,
				id, userID, login, secretCiphertext, cookiesJSON, now); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			inserted, err := r.scan(tx.QueryRowContext(ctx,
				`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
				 FROM accounts WHERE id = ?`, id))
			if err != nil {
				return err
			}
			account = inserted
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return account, nil
}

func (r *SQLiteRepository) GetActive(ctx context.Context, userID string) (*Account, error) {
	return r.scan(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts WHERE user_id = ? AND active = 1`, userID))
}

func (r *SQLiteRepository) GetByLogin(ctx context.Context, userID, login string) (*Account, error) {
	return r.scan(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts WHERE user_id = ? AND login = ?`, userID, login))
}

func (r *SQLiteRepository) SetActive(ctx context.Context, userID, login string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM accounts WHERE user_id = ? AND login = ?`, userID, login).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET active = 0 WHERE user_id = ? AND active = 1`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET active = 1, updated_at = ? WHERE id = ?`, now, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts WHERE user_id = ? ORDER BY updated_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return r.collect(rows)
}

func (r *SQLiteRepository) All(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts ORDER BY user_id, updated_at`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return r.collect(rows)
}

func (r *SQLiteRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteRepository) scanInto(s rowScanner) (*Account, error) {
	a := &Account{}
	var cookiesJSON, updatedAt string
	var active int
	if err := s.Scan(&a.ID, &a.UserID, &a.Login, &a.SecretCiphertext, &cookiesJSON, &active, &updatedAt); err != nil {
		return nil, err
	}
	a.Active = active != 0
	var err error
	if a.Cookies, err = unmarshalCookies(cookiesJSON); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("updated_at parse error: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) scan(row *sql.Row) (*Account, error) {
	a, err := r.scanInto(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) collect(rows *sql.Rows) ([]*Account, error) {
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a, err := r.scanInto(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return accounts, nil
}
