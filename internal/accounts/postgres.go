package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shohruhuz/uzbot/internal/common"
	"github.com/shohruhuz/uzbot/internal/dbx"
)

// PostgresRepository stores accounts in PostgreSQL via the pgx stdlib driver.
// Multi-statement operations (Upsert, SetActive) run inside a transaction so
// the active-account invariant holds under concurrent access.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, userID, login, secretCiphertext string, cookies map[string]string) (*Account, error) {
	cookiesJSON, err := marshalCookies(cookies)
	if err != nil {
		return nil, err
	}

	var account *Account
	err = dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		existing, err := scanAccount(tx.QueryRowContext(ctx,
			`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
			 FROM accounts
			 WHERE user_id = $1 AND login = $2`, userID, login))
		switch {
		case err == nil:
			// Known login: replace secret and cookies, keep the active flag.
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET secret_ciphertext = $1, cookies = $2, updated_at = now()
				 WHERE id = $3`, secretCiphertext, cookiesJSON, existing.ID); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			existing.SecretCiphertext = secretCiphertext
			existing.Cookies, _ = unmarshalCookies(cookiesJSON)
			account = existing
			return nil
		case errors.Is(err, common.ErrNotFound):
			// New login: it becomes the single active account.
			if _, err := tx.ExecContext(ctx,
				`UPDATE accounts SET active = FALSE WHERE user_id = $1 AND active`, userID); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			id := uuid.NewString()
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO accounts (id, user_id, login, secret_ciphertext, cookies, active)
				 VALUES ($1, $2, $3, $4, $5, TRUE)`,
				id, userID, login, secretCiphertext, cookiesJSON); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			inserted, err := scanAccount(tx.QueryRowContext(ctx,
				`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
				 FROM accounts WHERE id = $1`, id))
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

func (r *PostgresRepository) GetActive(ctx context.Context, userID string) (*Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts
		 WHERE user_id = $1 AND active`, userID))
}

func (r *PostgresRepository) GetByLogin(ctx context.Context, userID, login string) (*Account, error) {
	return scanAccount(r.db.QueryRowContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts
		 WHERE user_id = $1 AND login = $2`, userID, login))
}

func (r *PostgresRepository) SetActive(ctx context.Context, userID, login string) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var id string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM accounts WHERE user_id = $1 AND login = $2`, userID, login).Scan(&id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return common.ErrNotFound
			}
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET active = FALSE WHERE user_id = $1 AND active`, userID); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET active = TRUE, updated_at = now() WHERE id = $1`, id); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts
		 WHERE user_id = $1
		 ORDER BY updated_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collectAccounts(rows)
}

func (r *PostgresRepository) All(ctx context.Context) ([]*Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, login, secret_ciphertext, cookies, active, updated_at
		 FROM accounts
		 ORDER BY user_id, updated_at`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return collectAccounts(rows)
}

func (r *PostgresRepository) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM accounts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	a := &Account{}
	var cookiesJSON string
	err := row.Scan(&a.ID, &a.UserID, &a.Login, &a.SecretCiphertext, &cookiesJSON, &a.Active, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if a.Cookies, err = unmarshalCookies(cookiesJSON); err != nil {
		return nil, err
	}
	return a, nil
}

func collectAccounts(rows *sql.Rows) ([]*Account, error) {
	defer rows.Close()

	var accounts []*Account
	for rows.Next() {
		a := &Account{}
		var cookiesJSON string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Login, &a.SecretCiphertext, &cookiesJSON, &a.Active, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		cookies, err := unmarshalCookies(cookiesJSON)
		if err != nil {
			return nil, err
		}
		a.Cookies = cookies
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return accounts, nil
}
