package bookkeeper

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/DataONEorg/bookkeeper/lock"
	"github.com/DataONEorg/bookkeeper/plugin"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/store"
)

// Defaults applied by New.
const (
	DefaultProductCacheTTL        = 5 * time.Minute
	DefaultProductCacheSize       = 256
	DefaultReservationConcurrency = 4
)

// Bookkeeper is the reconciliation engine. It normalizes processor
// notifications, drives orders through their lifecycle and keeps the quota
// ledger in step with paid orders.
type Bookkeeper struct {
	store      store.Store
	plugins    *plugin.Registry
	logger     *slog.Logger
	clock      func() time.Time
	locker     lock.Locker
	normalizer *Normalizer

	// Product cache
	productCacheTTL  time.Duration
	productCacheSize int
	products         *expirable.LRU[int64, *product.Product]
	productLoads     singleflight.Group

	reservationConcurrency int
	quotaIDs               func() int64
}

// New creates a new Bookkeeper instance.
func New(s store.Store, opts ...Option) *Bookkeeper {
	b := &Bookkeeper{
		store:                  s,
		plugins:                plugin.NewRegistry(),
		logger:                 slog.Default(),
		clock:                  time.Now,
		productCacheTTL:        DefaultProductCacheTTL,
		productCacheSize:       DefaultProductCacheSize,
		reservationConcurrency: DefaultReservationConcurrency,
	}

	for _, opt := range opts {
		opt(b)
	}

	if b.locker == nil {
		b.locker = lock.NewLocal()
	}
	if b.normalizer == nil {
		b.normalizer = NewNormalizer(WithNormalizerLogger(b.logger))
	}
	if b.quotaIDs == nil {
		b.quotaIDs = sequence(b.clock().UnixMilli())
	}
	if b.productCacheTTL > 0 {
		b.products = expirable.NewLRU[int64, *product.Product](b.productCacheSize, nil, b.productCacheTTL)
	}

	return b
}

// Option configures a Bookkeeper instance.
type Option func(*Bookkeeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bookkeeper) {
		b.logger = logger
		b.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *Bookkeeper) {
		_ = b.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock sets the time source used for transition timestamps when the
// processor supplies none, and for entity timestamps.
func WithClock(clock func() time.Time) Option {
	return func(b *Bookkeeper) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithLocker sets the per-order lock. The default is an in-process keyed
// mutex; use a distributed locker when several replicas share a store.
func WithLocker(l lock.Locker) Option {
	return func(b *Bookkeeper) { b.locker = l }
}

// WithNormalizer sets the payment normalizer.
func WithNormalizer(n *Normalizer) Option {
	return func(b *Bookkeeper) { b.normalizer = n }
}

// WithProductCacheTTL sets how long resolved products stay cached. Zero
// disables the cache.
func WithProductCacheTTL(ttl time.Duration) Option {
	return func(b *Bookkeeper) { b.productCacheTTL = ttl }
}

// WithProductCacheSize sets the maximum number of cached products.
func WithProductCacheSize(n int) Option {
	return func(b *Bookkeeper) {
		if n > 0 {
			b.productCacheSize = n
		}
	}
}

// WithReservationConcurrency bounds how many quota reservations of one
// order run at once.
func WithReservationConcurrency(n int) Option {
	return func(b *Bookkeeper) {
		if n > 0 {
			b.reservationConcurrency = n
		}
	}
}

// WithQuotaIDs sets the identifier source for provisioned quotas.
func WithQuotaIDs(next func() int64) Option {
	return func(b *Bookkeeper) { b.quotaIDs = next }
}

// Start migrates the store and initializes plugins.
func (b *Bookkeeper) Start(ctx context.Context) error {
	if err := b.store.Migrate(ctx); err != nil {
		return err
	}

	b.plugins.EmitInit(ctx, b)

	b.logger.Info("bookkeeper started",
		"plugins", b.plugins.Count(),
		"product_cache_ttl", b.productCacheTTL,
		"reservation_concurrency", b.reservationConcurrency,
	)

	return nil
}

// Stop notifies plugins and closes the store.
func (b *Bookkeeper) Stop() error {
	b.plugins.EmitShutdown(context.Background())
	return b.store.Close()
}

// Store returns the underlying store.
func (b *Bookkeeper) Store() store.Store { return b.store }

// Plugins returns the plugin registry.
func (b *Bookkeeper) Plugins() *plugin.Registry { return b.plugins }

// Normalizer returns the payment normalizer.
func (b *Bookkeeper) Normalizer() *Normalizer { return b.normalizer }

// Ping checks the store.
func (b *Bookkeeper) Ping(ctx context.Context) error { return b.store.Ping(ctx) }

func (b *Bookkeeper) now() time.Time { return b.clock().UTC() }

// resolveProduct returns a product through the cache. Concurrent misses
// for the same product share one store read.
func (b *Bookkeeper) resolveProduct(ctx context.Context, productID int64) (*product.Product, error) {
	if b.products == nil {
		return b.store.GetProduct(ctx, productID)
	}
	if p, ok := b.products.Get(productID); ok {
		return p, nil
	}

	v, err, _ := b.productLoads.Do(strconv.FormatInt(productID, 10), func() (any, error) {
		p, err := b.store.GetProduct(ctx, productID)
		if err != nil {
			return nil, err
		}
		b.products.Add(productID, p)
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*product.Product), nil
}

func (b *Bookkeeper) evictProduct(productID int64) {
	if b.products != nil {
		b.products.Remove(productID)
	}
}

func sequence(seed int64) func() int64 {
	var n atomic.Int64
	n.Store(seed)
	return func() int64 { return n.Add(1) }
}
