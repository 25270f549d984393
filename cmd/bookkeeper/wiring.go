package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/DataONEorg/bookkeeper"
	audithook "github.com/DataONEorg/bookkeeper/audit_hook"
	"github.com/DataONEorg/bookkeeper/config"
	"github.com/DataONEorg/bookkeeper/lock/redislock"
	"github.com/DataONEorg/bookkeeper/observability"
	"github.com/DataONEorg/bookkeeper/store"
	"github.com/DataONEorg/bookkeeper/store/memory"
	"github.com/DataONEorg/bookkeeper/store/mongo"
	"github.com/DataONEorg/bookkeeper/store/postgres"
	"github.com/DataONEorg/bookkeeper/store/sqlite"
)

const (
	redisConnectAttempts = 5
	redisConnectInterval = time.Second
)

// loadConfig reads configuration honoring the --env-file flag.
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	files, _ := cmd.Flags().GetStringSlice("env-file")
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openStore connects the configured backend.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store == config.StoreMemory {
		return memory.New(), nil
	}

	var drv grove.GroveDriver
	switch cfg.Store {
	case config.StorePostgres:
		pg := pgdriver.New()
		if err := pg.Open(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		drv = pg
	case config.StoreSQLite:
		lite := sqlitedriver.New()
		if err := lite.Open(ctx, cfg.DSN); err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		drv = lite
	case config.StoreMongo:
		mdb := mongodriver.New()
		if err := mdb.Open(ctx, cfg.DSN, mongodriver.WithDatabase(cfg.MongoDatabase)); err != nil {
			return nil, fmt.Errorf("open mongo: %w", err)
		}
		drv = mdb
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}

	db, err := grove.Open(drv)
	if err != nil {
		_ = drv.Close()
		return nil, err
	}

	switch cfg.Store {
	case config.StorePostgres:
		return postgres.New(db), nil
	case config.StoreSQLite:
		return sqlite.New(db), nil
	default:
		return mongo.New(db), nil
	}
}

// service is a started engine plus what must be released with it.
type service struct {
	engine  *bookkeeper.Bookkeeper
	metrics *observability.PrometheusFactory
	redis   *redis.Client
}

func (s *service) close() {
	if err := s.engine.Stop(); err != nil {
		slog.Warn("stop engine", "error", err)
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// buildService opens the store, picks the order locker and starts the
// engine with the audit and metrics plugins registered.
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*service, error) {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc := &service{}
	opts := []bookkeeper.Option{
		bookkeeper.WithLogger(logger),
		bookkeeper.WithProductCacheTTL(cfg.ProductCacheTTL),
		bookkeeper.WithProductCacheSize(cfg.ProductCacheSize),
		bookkeeper.WithReservationConcurrency(cfg.ReservationConcurrency),
		bookkeeper.WithPlugin(audithook.New(auditLogRecorder(logger), audithook.WithLogger(logger))),
	}

	if cfg.RedisURL != "" {
		client, err := redislock.Connect(ctx, cfg.RedisURL, redisConnectAttempts, redisConnectInterval)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		svc.redis = client
		opts = append(opts, bookkeeper.WithLocker(redislock.New(client,
			redislock.WithTTL(cfg.LockTTL),
			redislock.WithLogger(logger),
		)))
	}

	if cfg.MetricsEnabled {
		svc.metrics = observability.NewPrometheusFactory(nil)
		opts = append(opts, bookkeeper.WithPlugin(observability.NewMetricsExtension(svc.metrics)))
	}

	svc.engine = bookkeeper.New(s, opts...)
	if err := svc.engine.Start(ctx); err != nil {
		svc.close()
		return nil, err
	}

	logger.Info("bookkeeper ready",
		"store", cfg.Store,
		"distributed_locks", svc.redis != nil,
		"metrics", cfg.MetricsEnabled,
	)
	return svc, nil
}

// auditLogRecorder writes audit events to the service log.
func auditLogRecorder(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, e *audithook.AuditEvent) error {
		level := slog.LevelInfo
		if e.Severity != audithook.SeverityInfo {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"outcome", e.Outcome,
			"metadata", e.Metadata,
		)
		return nil
	})
}
