package extension

import (
	"time"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/plugin"
	"github.com/DataONEorg/bookkeeper/store"
)

// Option configures the Bookkeeper Forge extension.
type Option func(*Extension)

// WithStore sets the store for the bookkeeper engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithBookkeeperOption passes a bookkeeper.Option through to the underlying engine.
func WithBookkeeperOption(opt bookkeeper.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a bookkeeper plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, bookkeeper.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for bookkeeper routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithMaxBodyBytes caps the processor notification size.
func WithMaxBodyBytes(n int64) Option {
	return func(e *Extension) { e.config.MaxBodyBytes = n }
}

// WithProductCacheTTL sets the product cache duration.
func WithProductCacheTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.ProductCacheTTL = d }
}

// WithProductCacheSize sets the maximum number of cached products.
func WithProductCacheSize(n int) Option {
	return func(e *Extension) { e.config.ProductCacheSize = n }
}

// WithReservationConcurrency bounds parallel quota reservations per order.
func WithReservationConcurrency(n int) Option {
	return func(e *Extension) { e.config.ReservationConcurrency = n }
}

// WithGroveDatabase sets the name of the grove.DB to resolve from the DI container.
// The extension will auto-construct the appropriate store backend (postgres/sqlite/mongo)
// based on the grove driver type. Pass an empty string to use the default (unnamed) grove.DB.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
