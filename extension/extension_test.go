package extension

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/DataONEorg/bookkeeper/store/sqlite"
)

func TestMergeWithDefaults(t *testing.T) {
	cfg := mergeWithDefaults(Config{ProductCacheSize: 16})

	assert.Equal(t, "/bookkeeper", cfg.BasePath)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 5*time.Minute, cfg.ProductCacheTTL)
	assert.Equal(t, 16, cfg.ProductCacheSize)
	assert.Equal(t, 4, cfg.ReservationConcurrency)
}

func TestMergeConfigurationsPrefersFile(t *testing.T) {
	file := Config{BasePath: "/billing", ReservationConcurrency: 2}
	prog := Config{
		BasePath:        "/ignored",
		DisableMigrate:  true,
		ProductCacheTTL: time.Minute,
		GroveDatabase:   "billing",
	}

	cfg := mergeConfigurations(file, prog)
	assert.Equal(t, "/billing", cfg.BasePath)
	assert.True(t, cfg.DisableMigrate)
	assert.False(t, cfg.DisableRoutes)
	assert.Equal(t, 2, cfg.ReservationConcurrency)
	assert.Equal(t, time.Minute, cfg.ProductCacheTTL)
	assert.Equal(t, "billing", cfg.GroveDatabase)
	assert.Equal(t, 256, cfg.ProductCacheSize)
}

func TestOptionsApply(t *testing.T) {
	e := New(
		WithGroveDatabase("primary"),
		WithBasePath("/api/bookkeeper"),
		WithDisableRoutes(),
		WithReservationConcurrency(8),
	)
	assert.True(t, e.useGrove)
	assert.Equal(t, "primary", e.config.GroveDatabase)
	assert.Equal(t, "/api/bookkeeper", e.config.BasePath)
	assert.True(t, e.config.DisableRoutes)
	assert.Equal(t, 8, e.config.ReservationConcurrency)
	assert.Nil(t, e.Engine())
}

func TestStoreForSQLite(t *testing.T) {
	ctx := context.Background()
	drv := sqlitedriver.New()
	require.NoError(t, drv.Open(ctx, filepath.Join(t.TempDir(), "bk.db")))
	db, err := grove.Open(drv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := StoreFor(db)
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Ping(ctx))
}
