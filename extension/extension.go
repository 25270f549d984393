// Package extension provides the Forge extension adapter for Bookkeeper.
//
// It implements the forge.Extension interface to integrate Bookkeeper
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.bookkeeper" or
// "bookkeeper" keys.
package extension

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/xraph/forge"
	"github.com/xraph/grove"
	"github.com/xraph/vessel"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/httpapi"
	"github.com/DataONEorg/bookkeeper/store"
	"github.com/DataONEorg/bookkeeper/store/memory"
	"github.com/DataONEorg/bookkeeper/store/mongo"
	"github.com/DataONEorg/bookkeeper/store/postgres"
	"github.com/DataONEorg/bookkeeper/store/sqlite"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "bookkeeper"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Payment reconciliation and quota ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Bookkeeper as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *bookkeeper.Bookkeeper
	store      store.Store
	engineOpts []bookkeeper.Option
	useGrove   bool
}

// New creates a new Bookkeeper Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Bookkeeper instance.
// This is nil until Register is called.
func (e *Extension) Engine() *bookkeeper.Bookkeeper { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, registers it in the DI container and mounts
// the HTTP routes.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	if e.store == nil && e.useGrove {
		db, err := e.resolveGroveDB(fapp)
		if err != nil {
			return err
		}
		s, err := StoreFor(db)
		if err != nil {
			return err
		}
		e.store = s
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	e.engine = bookkeeper.New(e.store, e.buildEngineOpts()...)

	if !e.config.DisableRoutes {
		base := strings.TrimSuffix(e.config.BasePath, "/")
		api := httpapi.New(e.engine, httpapi.WithMaxBodyBytes(e.config.MaxBodyBytes))
		if err := fapp.Router().Handle(base+"/*", http.StripPrefix(base, api)); err != nil {
			return fmt.Errorf("bookkeeper: mount routes: %w", err)
		}
	}

	return vessel.Provide(fapp.Container(), func() (*bookkeeper.Bookkeeper, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("bookkeeper: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("bookkeeper: store not initialized")
	}
	return e.store.Ping(ctx)
}

// StoreFor builds the store matching db's driver.
func StoreFor(db *grove.DB) (store.Store, error) {
	switch name := db.Driver().Name(); name {
	case "pg":
		return postgres.New(db), nil
	case "sqlite":
		return sqlite.New(db), nil
	case "mongo":
		return mongo.New(db), nil
	default:
		return nil, fmt.Errorf("bookkeeper: unsupported grove driver %q", name)
	}
}

func (e *Extension) resolveGroveDB(fapp forge.App) (*grove.DB, error) {
	var (
		db  *grove.DB
		err error
	)
	if name := e.config.GroveDatabase; name != "" {
		db, err = vessel.InjectNamed[*grove.DB](fapp.Container(), name)
	} else {
		db, err = vessel.Inject[*grove.DB](fapp.Container())
	}
	if err != nil {
		return nil, fmt.Errorf("bookkeeper: resolve grove database %q: %w", e.config.GroveDatabase, err)
	}
	return db, nil
}

// buildEngineOpts constructs bookkeeper.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []bookkeeper.Option {
	opts := make([]bookkeeper.Option, 0, len(e.engineOpts)+3)

	opts = append(opts,
		bookkeeper.WithProductCacheTTL(e.config.ProductCacheTTL),
		bookkeeper.WithProductCacheSize(e.config.ProductCacheSize),
		bookkeeper.WithReservationConcurrency(e.config.ReservationConcurrency),
	)

	// Append any pass-through options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("bookkeeper: configuration is required but not found in config files; " +
				"ensure 'extensions.bookkeeper' or 'bookkeeper' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}
	if e.config.GroveDatabase != "" {
		e.useGrove = true
	}

	e.Logger().Debug("bookkeeper: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("product_cache_ttl", e.config.ProductCacheTTL),
		forge.F("reservation_concurrency", e.config.ReservationConcurrency),
		forge.F("grove_database", e.config.GroveDatabase),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	for _, key := range []string{"extensions.bookkeeper", "bookkeeper"} {
		if !cm.IsSet(key) {
			continue
		}
		if err := cm.Bind(key, &cfg); err == nil {
			e.Logger().Debug("bookkeeper: loaded config from file",
				forge.F("key", key),
			)
			return cfg, true
		}
		e.Logger().Warn("bookkeeper: failed to bind config",
			forge.F("key", key),
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if cfg.ProductCacheTTL == 0 {
		cfg.ProductCacheTTL = defaults.ProductCacheTTL
	}
	if cfg.ProductCacheSize == 0 {
		cfg.ProductCacheSize = defaults.ProductCacheSize
	}
	if cfg.ReservationConcurrency == 0 {
		cfg.ReservationConcurrency = defaults.ReservationConcurrency
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic values fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.GroveDatabase == "" {
		yamlConfig.GroveDatabase = programmaticConfig.GroveDatabase
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.MaxBodyBytes == 0 {
		yamlConfig.MaxBodyBytes = programmaticConfig.MaxBodyBytes
	}
	if yamlConfig.ProductCacheTTL == 0 {
		yamlConfig.ProductCacheTTL = programmaticConfig.ProductCacheTTL
	}
	if yamlConfig.ProductCacheSize == 0 {
		yamlConfig.ProductCacheSize = programmaticConfig.ProductCacheSize
	}
	if yamlConfig.ReservationConcurrency == 0 {
		yamlConfig.ReservationConcurrency = programmaticConfig.ReservationConcurrency
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
