//go:build integration

package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("bastion"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.NewFromPool(pool, logger).Migrate(ctx, "kv_records"))

	return pool
}

func TestPostgresStore_Contract(t *testing.T) {
	pool := setupPostgres(t)
	runStoreContract(t, NewPostgresStore(pool, "kv_records"))
}

func TestPostgresStore_MigrateIsIdempotent(t *testing.T) {
	pool := setupPostgres(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.NoError(t, database.NewFromPool(pool, logger).Migrate(context.Background(), "kv_records"))
}

func TestPostgresStore_UnderscorePrefixIsLiteral(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(setupPostgres(t), "kv_records")

	require.NoError(t, s.Set(ctx, "apikey_hash:abc", []byte(`"1"`)))
	require.NoError(t, s.Set(ctx, "apikeyXhash:abc", []byte(`"2"`)))

	entries, err := s.Scan(ctx, "apikey_hash:")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "apikey_hash:abc", entries[0].Key)
}

func TestPostgresStore_ClosedPoolFailsClosed(t *testing.T) {
	pool := setupPostgres(t)
	s := NewPostgresStore(pool, "kv_records")
	pool.Close()

	_, err := s.Get(context.Background(), "k")
	assert.ErrorIs(t, err, models.ErrStoreUnavailable)
}
