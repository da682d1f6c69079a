package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"coinpeek/internal/config"
	"coinpeek/internal/storage/migrations"
)

// setupTestStore starts a PostgreSQL container, applies migrations, and
// returns a Store plus a cleanup function.
func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed storage tests in short mode")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("coinpeek_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err, "failed to get connection string")

	pool, err := NewPool(ctx, config.DatabaseConfig{DSN: dsn, MaxOpenConns: 4})
	require.NoError(t, err, "failed to create pool")

	require.NoError(t, migrations.Run(ctx, pool), "failed to apply migrations")

	store := NewStore(pool)
	cleanup := func() {
		store.Close()
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return store, cleanup
}
