package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/shohruhuz/uzbot/internal/accounts/migrations"
)

// Open selects a Repository implementation by DSN scheme:
//
//   - "postgres://..." → PostgresRepository (goose migrations applied)
//   - any other non-empty value → SQLiteRepository on that file
//   - empty → MemoryRepository
//
// The returned close function releases the underlying database, if any.
func Open(ctx context.Context, dsn string) (Repository, func() error, error) {
	switch {
	case dsn == "":
		return NewMemoryRepository(), func() error { return nil }, nil

	case strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://"):
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("db open error: %w", err)
		}
		if err := runMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migration error: %w", err)
		}
		return NewPostgresRepository(db), db.Close, nil

	default:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("db open error: %w", err)
		}
		// modernc's driver is not safe for concurrent writers over one file.
		db.SetMaxOpenConns(1)
		repo := NewSQLiteRepository(db)
		if err := repo.InitSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return repo, db.Close, nil
	}
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
