// Package config loads the service configuration from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables win over its entries.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	ErrParsingConfig = errors.New("config: failed to parse environment")
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMongo    = "mongo"
)

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the bookkeeper service configuration.
type Config struct {
	Store string `env:"BOOKKEEPER_STORE" envDefault:"memory"`
	DSN   string `env:"BOOKKEEPER_DSN"`
	// MongoDatabase names the database when Store is mongo.
	MongoDatabase string `env:"BOOKKEEPER_MONGO_DATABASE" envDefault:"bookkeeper"`

	HTTPAddr        string        `env:"BOOKKEEPER_HTTP_ADDR" envDefault:":8080"`
	MaxBodyBytes    int64         `env:"BOOKKEEPER_MAX_BODY_BYTES" envDefault:"1048576"`
	ShutdownTimeout time.Duration `env:"BOOKKEEPER_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// RedisURL enables distributed order locks. Empty keeps them in-process.
	RedisURL string        `env:"BOOKKEEPER_REDIS_URL"`
	LockTTL  time.Duration `env:"BOOKKEEPER_LOCK_TTL" envDefault:"30s"`

	ProductCacheTTL        time.Duration `env:"BOOKKEEPER_PRODUCT_CACHE_TTL" envDefault:"5m"`
	ProductCacheSize       int           `env:"BOOKKEEPER_PRODUCT_CACHE_SIZE" envDefault:"256"`
	ReservationConcurrency int           `env:"BOOKKEEPER_RESERVATION_CONCURRENCY" envDefault:"4"`

	MetricsEnabled bool `env:"BOOKKEEPER_METRICS_ENABLED" envDefault:"true"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads the given .env files (".env" when none are named), then parses
// the environment. Missing files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Join(ErrParsingConfig, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrParsingConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations env tags cannot express.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres, StoreSQLite, StoreMongo:
		if c.DSN == "" {
			return fmt.Errorf("%w: BOOKKEEPER_DSN is required for store %q", ErrInvalidConfig, c.Store)
		}
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, c.Store)
	}

	switch strings.ToLower(c.LogFormat) {
	case FormatJSON, FormatText:
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.ReservationConcurrency < 1 {
		return fmt.Errorf("%w: reservation concurrency must be positive", ErrInvalidConfig)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log level %q", ErrInvalidConfig, c.LogLevel)
	}
	return l, nil
}

// Logger builds a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := c.Level()
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(c.LogFormat, FormatText) {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h).With(slog.String("service", "bookkeeper"))
}
