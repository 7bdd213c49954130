package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// Migrate creates or upgrades the key/value table backing the record store.
// The table name is configurable, so migrations are registered as Go functions
// rather than embedded SQL files.
func (db *DB) Migrate(ctx context.Context, table string) error {
	// Goose needs a database/sql handle
	sqlDB := stdlib.OpenDB(*db.Pool.Config().ConnConfig)
	defer sqlDB.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, sqlDB, nil,
		goose.WithDisableGlobalRegistry(true),
		goose.WithGoMigrations(kvMigrations(table)...),
	)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	for _, r := range results {
		db.logger.Info("applied migration",
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}
	return nil
}

func kvMigrations(table string) []*goose.Migration {
	quoted := pq.QuoteIdentifier(table)
	index := pq.QuoteIdentifier(table + "_key_pattern_idx")

	return []*goose.Migration{
		goose.NewGoMigration(1,
			&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(`
					CREATE TABLE IF NOT EXISTS %s (
						key        TEXT PRIMARY KEY,
						value      BYTEA NOT NULL,
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					)`, quoted))
				return err
			}},
			&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, quoted))
				return err
			}},
		),
		// Prefix scans use LIKE 'prefix%'
		goose.NewGoMigration(2,
			&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(
					`CREATE INDEX IF NOT EXISTS %s ON %s (key text_pattern_ops)`, index, quoted))
				return err
			}},
			&goose.GoFunc{RunTx: func(ctx context.Context, tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %s`, index))
				return err
			}},
		),
	}
}
