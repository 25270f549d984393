package extension

import "time"

// Config holds the Bookkeeper extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.bookkeeper" or "bookkeeper" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for bookkeeper routes (default: "/bookkeeper").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// MaxBodyBytes caps the size of a processor notification accepted by
	// the payments route (default: 1 MiB).
	MaxBodyBytes int64 `json:"max_body_bytes" mapstructure:"max_body_bytes" yaml:"max_body_bytes"`

	// ProductCacheTTL controls how long resolved products are cached
	// in-process before being re-read from the store (default: 5m).
	ProductCacheTTL time.Duration `json:"product_cache_ttl" mapstructure:"product_cache_ttl" yaml:"product_cache_ttl"`

	// ProductCacheSize bounds the number of cached products (default: 256).
	ProductCacheSize int `json:"product_cache_size" mapstructure:"product_cache_size" yaml:"product_cache_size"`

	// ReservationConcurrency bounds how many quota reservations of one
	// paid order run at once (default: 4).
	ReservationConcurrency int `json:"reservation_concurrency" mapstructure:"reservation_concurrency" yaml:"reservation_concurrency"`

	// GroveDatabase is the name of a grove.DB registered in the DI container.
	// When set, the extension resolves this named database and auto-constructs
	// the appropriate store based on the driver type (pg/sqlite/mongo).
	// When empty and WithGroveDatabase was called, the default (unnamed) DB is used.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BasePath:               "/bookkeeper",
		MaxBodyBytes:           1 << 20,
		ProductCacheTTL:        5 * time.Minute,
		ProductCacheSize:       256,
		ReservationConcurrency: 4,
	}
}
