package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"github.com/BradenHooton/bastion/internal/models"
)

// PostgresStore implements Store on a single key/value table.
// The table is created by database.Migrate.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string // quoted identifier
}

// NewPostgresStore creates a Postgres-backed store over the given table.
func NewPostgresStore(pool *pgxpool.Pool, table string) *PostgresStore {
	return &PostgresStore{
		pool:  pool,
		table: pq.QuoteIdentifier(table),
	}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table)

	var value []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, unavailable("postgres get", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`, s.table)

	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return unavailable("postgres set", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)

	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return unavailable("postgres delete", err)
	}
	return nil
}

func (s *PostgresStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	query := fmt.Sprintf(`SELECT key, value FROM %s WHERE key LIKE $1 ESCAPE '\' ORDER BY key`, s.table)

	rows, err := s.pool.Query(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, unavailable("postgres scan", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, unavailable("postgres scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("postgres scan", err)
	}
	return entries, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("postgres ping", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by database.DB.
func (s *PostgresStore) Close() error {
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
