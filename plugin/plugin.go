// Package plugin provides an extensible plugin system for Bookkeeper.
// Plugins hook into reconciliation lifecycle events to record, count or
// forward them. A plugin implements Plugin plus any of the hook interfaces
// below; the Registry discovers which ones at registration time.
package plugin

import (
	"context"
	"time"

	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/quota"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. bk is the *bookkeeper.Bookkeeper.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, bk interface{}) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentReceived is called after a processor payload normalizes.
type OnPaymentReceived interface {
	Plugin
	OnPaymentReceived(ctx context.Context, p *payment.Payment) error
}

// OnPaymentRejected is called when a processor payload is malformed.
type OnPaymentRejected interface {
	Plugin
	OnPaymentRejected(ctx context.Context, reason error) error
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

// OnOrderPaid is called after an order transitions to paid.
type OnOrderPaid interface {
	Plugin
	OnOrderPaid(ctx context.Context, o *order.Order, p *payment.Payment) error
}

// OnOrderFailed is called after an order transitions to failed.
type OnOrderFailed interface {
	Plugin
	OnOrderFailed(ctx context.Context, o *order.Order, p *payment.Payment) error
}

// OnOrderAlreadyFinalized is called when a payment arrives for an order
// that has left created.
type OnOrderAlreadyFinalized interface {
	Plugin
	OnOrderAlreadyFinalized(ctx context.Context, o *order.Order, transactionID string) error
}

// OnOrderCanceled is called after an operator cancels an order.
type OnOrderCanceled interface {
	Plugin
	OnOrderCanceled(ctx context.Context, o *order.Order) error
}

// OnOrderRefunded is called after an operator refunds an order.
type OnOrderRefunded interface {
	Plugin
	OnOrderRefunded(ctx context.Context, o *order.Order) error
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaReserved is called after usage is added to a quota.
type OnQuotaReserved interface {
	Plugin
	OnQuotaReserved(ctx context.Context, q *quota.Quota, delta int64) error
}

// OnSoftLimitExceeded is called when a reservation leaves usage above the
// soft limit.
type OnSoftLimitExceeded interface {
	Plugin
	OnSoftLimitExceeded(ctx context.Context, q *quota.Quota, delta int64) error
}

// OnHardLimitExceeded is called when a reservation is rejected.
type OnHardLimitExceeded interface {
	Plugin
	OnHardLimitExceeded(ctx context.Context, subject, feature string, usage, delta, hardLimit int64) error
}

// OnQuotaReleased is called after usage is released from a quota. delta
// is the amount actually released after clamping.
type OnQuotaReleased interface {
	Plugin
	OnQuotaReleased(ctx context.Context, q *quota.Quota, delta int64) error
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciled is called at the end of every reconciliation that reached
// an order, including already-finalized ones.
type OnReconciled interface {
	Plugin
	OnReconciled(ctx context.Context, orderID int64, status string, quotaFailures int, elapsed time.Duration) error
}
