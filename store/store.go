// Package store defines the unified storage interface every backend
// implements. Backends return the bookkeeper sentinel errors so callers can
// match them with errors.Is regardless of which store is configured.
package store

import (
	"context"

	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
)

// Store is the unified storage interface for all Bookkeeper entities.
// Method names carry their entity, so the per-domain interfaces embed
// without conflict.
type Store interface {
	product.Store
	order.Store
	quota.Store
	payment.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
