//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"

	"github.com/DataONEorg/bookkeeper/store"
	"github.com/DataONEorg/bookkeeper/store/postgres"
	"github.com/DataONEorg/bookkeeper/store/storetest"
)

// startPostgres runs a throwaway PostgreSQL container and returns a migrated
// store. The container is terminated with a fresh context on cleanup.
func startPostgres(t *testing.T) *postgres.Store {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("bookkeeper_test"),
		tcpostgres.WithUsername("bookkeeper"),
		tcpostgres.WithPassword("bookkeeper_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pg := pgdriver.New()
	require.NoError(t, pg.Open(ctx, dsn))
	db, err := grove.Open(pg)
	require.NoError(t, err)

	s := postgres.New(db)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	// Migrating twice is a no-op.
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestStoreContract(t *testing.T) {
	s := startPostgres(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		_, err := pgdriver.Unwrap(s.DB()).Exec(context.Background(), `
TRUNCATE bookkeeper_products, bookkeeper_orders, bookkeeper_quotas,
         bookkeeper_usage_events, bookkeeper_payments`)
		require.NoError(t, err)
		return s
	})
}
