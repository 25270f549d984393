// Package observability provides a metrics extension for Bookkeeper that
// records reconciliation lifecycle counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/plugin"
	"github.com/DataONEorg/bookkeeper/quota"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnPaymentReceived       = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRejected       = (*MetricsExtension)(nil)
	_ plugin.OnOrderPaid             = (*MetricsExtension)(nil)
	_ plugin.OnOrderFailed           = (*MetricsExtension)(nil)
	_ plugin.OnOrderAlreadyFinalized = (*MetricsExtension)(nil)
	_ plugin.OnOrderCanceled         = (*MetricsExtension)(nil)
	_ plugin.OnOrderRefunded         = (*MetricsExtension)(nil)
	_ plugin.OnQuotaReserved         = (*MetricsExtension)(nil)
	_ plugin.OnQuotaReleased         = (*MetricsExtension)(nil)
	_ plugin.OnSoftLimitExceeded     = (*MetricsExtension)(nil)
	_ plugin.OnHardLimitExceeded     = (*MetricsExtension)(nil)
	_ plugin.OnReconciled            = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide reconciliation metrics.
// Register it as a Bookkeeper plugin to track payment and quota activity.
type MetricsExtension struct {
	factory MetricFactory

	// Payment metrics
	PaymentsReceived Counter
	PaymentsRejected Counter

	// Order metrics
	OrdersPaid             Counter
	OrdersFailed           Counter
	OrdersAlreadyFinalized Counter
	OrdersCanceled         Counter
	OrdersRefunded         Counter
	PaidAmount             Histogram

	// Quota metrics
	QuotaReserved     Counter
	QuotaReleased     Counter
	SoftLimitExceeded Counter
	HardLimitExceeded Counter

	// Reconciliation metrics
	Reconciliations       Counter
	ReconcilePartial      Counter
	ReconcileLatency      Histogram
	ReconcileQuotaFailure Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		PaymentsReceived: factory.Counter("bookkeeper.payment.received"),
		PaymentsRejected: factory.Counter("bookkeeper.payment.rejected"),

		OrdersPaid:             factory.Counter("bookkeeper.order.paid"),
		OrdersFailed:           factory.Counter("bookkeeper.order.failed"),
		OrdersAlreadyFinalized: factory.Counter("bookkeeper.order.already_finalized"),
		OrdersCanceled:         factory.Counter("bookkeeper.order.canceled"),
		OrdersRefunded:         factory.Counter("bookkeeper.order.refunded"),
		PaidAmount:             factory.Histogram("bookkeeper.order.paid_amount"),

		QuotaReserved:     factory.Counter("bookkeeper.quota.reserved"),
		QuotaReleased:     factory.Counter("bookkeeper.quota.released"),
		SoftLimitExceeded: factory.Counter("bookkeeper.quota.soft_limit_exceeded"),
		HardLimitExceeded: factory.Counter("bookkeeper.quota.hard_limit_exceeded"),

		Reconciliations:       factory.Counter("bookkeeper.reconcile.completed"),
		ReconcilePartial:      factory.Counter("bookkeeper.reconcile.partial"),
		ReconcileLatency:      factory.Histogram("bookkeeper.reconcile.latency_ms"),
		ReconcileQuotaFailure: factory.Counter("bookkeeper.reconcile.quota_failures"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentReceived implements plugin.OnPaymentReceived.
func (m *MetricsExtension) OnPaymentReceived(_ context.Context, _ *payment.Payment) error {
	m.PaymentsReceived.Inc()
	return nil
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (m *MetricsExtension) OnPaymentRejected(_ context.Context, _ error) error {
	m.PaymentsRejected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

// OnOrderPaid implements plugin.OnOrderPaid. The paid amount is observed
// in minor units.
func (m *MetricsExtension) OnOrderPaid(_ context.Context, o *order.Order, _ *payment.Payment) error {
	m.OrdersPaid.Inc()
	m.PaidAmount.Observe(float64(o.Amount))
	return nil
}

// OnOrderFailed implements plugin.OnOrderFailed.
func (m *MetricsExtension) OnOrderFailed(_ context.Context, _ *order.Order, _ *payment.Payment) error {
	m.OrdersFailed.Inc()
	return nil
}

// OnOrderAlreadyFinalized implements plugin.OnOrderAlreadyFinalized.
func (m *MetricsExtension) OnOrderAlreadyFinalized(_ context.Context, _ *order.Order, _ string) error {
	m.OrdersAlreadyFinalized.Inc()
	return nil
}

// OnOrderCanceled implements plugin.OnOrderCanceled.
func (m *MetricsExtension) OnOrderCanceled(_ context.Context, _ *order.Order) error {
	m.OrdersCanceled.Inc()
	return nil
}

// OnOrderRefunded implements plugin.OnOrderRefunded.
func (m *MetricsExtension) OnOrderRefunded(_ context.Context, _ *order.Order) error {
	m.OrdersRefunded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaReserved implements plugin.OnQuotaReserved.
func (m *MetricsExtension) OnQuotaReserved(_ context.Context, _ *quota.Quota, delta int64) error {
	m.QuotaReserved.Add(float64(delta))
	return nil
}

// OnQuotaReleased implements plugin.OnQuotaReleased.
func (m *MetricsExtension) OnQuotaReleased(_ context.Context, _ *quota.Quota, delta int64) error {
	m.QuotaReleased.Add(float64(delta))
	return nil
}

// OnSoftLimitExceeded implements plugin.OnSoftLimitExceeded.
func (m *MetricsExtension) OnSoftLimitExceeded(_ context.Context, _ *quota.Quota, _ int64) error {
	m.SoftLimitExceeded.Inc()
	return nil
}

// OnHardLimitExceeded implements plugin.OnHardLimitExceeded.
func (m *MetricsExtension) OnHardLimitExceeded(_ context.Context, _, _ string, _, _, _ int64) error {
	m.HardLimitExceeded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciled implements plugin.OnReconciled.
func (m *MetricsExtension) OnReconciled(_ context.Context, _ int64, _ string, quotaFailures int, elapsed time.Duration) error {
	m.Reconciliations.Inc()
	m.ReconcileLatency.Observe(float64(elapsed.Milliseconds()))
	if quotaFailures > 0 {
		m.ReconcilePartial.Inc()
		m.ReconcileQuotaFailure.Add(float64(quotaFailures))
	}
	return nil
}
