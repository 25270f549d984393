package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/quota"
)

// DefaultTimeout bounds a single plugin call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// It caches each plugin's hook interfaces at registration time.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                  []OnInit
	onShutdown              []OnShutdown
	onPaymentReceived       []OnPaymentReceived
	onPaymentRejected       []OnPaymentRejected
	onOrderPaid             []OnOrderPaid
	onOrderFailed           []OnOrderFailed
	onOrderAlreadyFinalized []OnOrderAlreadyFinalized
	onOrderCanceled         []OnOrderCanceled
	onOrderRefunded         []OnOrderRefunded
	onQuotaReserved         []OnQuotaReserved
	onSoftLimitExceeded     []OnSoftLimitExceeded
	onHardLimitExceeded     []OnHardLimitExceeded
	onQuotaReleased         []OnQuotaReleased
	onReconciled            []OnReconciled
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-call plugin timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPaymentReceived); ok {
		r.onPaymentReceived = append(r.onPaymentReceived, v)
	}
	if v, ok := p.(OnPaymentRejected); ok {
		r.onPaymentRejected = append(r.onPaymentRejected, v)
	}
	if v, ok := p.(OnOrderPaid); ok {
		r.onOrderPaid = append(r.onOrderPaid, v)
	}
	if v, ok := p.(OnOrderFailed); ok {
		r.onOrderFailed = append(r.onOrderFailed, v)
	}
	if v, ok := p.(OnOrderAlreadyFinalized); ok {
		r.onOrderAlreadyFinalized = append(r.onOrderAlreadyFinalized, v)
	}
	if v, ok := p.(OnOrderCanceled); ok {
		r.onOrderCanceled = append(r.onOrderCanceled, v)
	}
	if v, ok := p.(OnOrderRefunded); ok {
		r.onOrderRefunded = append(r.onOrderRefunded, v)
	}
	if v, ok := p.(OnQuotaReserved); ok {
		r.onQuotaReserved = append(r.onQuotaReserved, v)
	}
	if v, ok := p.(OnSoftLimitExceeded); ok {
		r.onSoftLimitExceeded = append(r.onSoftLimitExceeded, v)
	}
	if v, ok := p.(OnHardLimitExceeded); ok {
		r.onHardLimitExceeded = append(r.onHardLimitExceeded, v)
	}
	if v, ok := p.(OnQuotaReleased); ok {
		r.onQuotaReleased = append(r.onQuotaReleased, v)
	}
	if v, ok := p.(OnReconciled); ok {
		r.onReconciled = append(r.onReconciled, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeOf((*OnInit)(nil)).Elem()},
	{"OnShutdown", reflect.TypeOf((*OnShutdown)(nil)).Elem()},
	{"OnPaymentReceived", reflect.TypeOf((*OnPaymentReceived)(nil)).Elem()},
	{"OnPaymentRejected", reflect.TypeOf((*OnPaymentRejected)(nil)).Elem()},
	{"OnOrderPaid", reflect.TypeOf((*OnOrderPaid)(nil)).Elem()},
	{"OnOrderFailed", reflect.TypeOf((*OnOrderFailed)(nil)).Elem()},
	{"OnOrderAlreadyFinalized", reflect.TypeOf((*OnOrderAlreadyFinalized)(nil)).Elem()},
	{"OnOrderCanceled", reflect.TypeOf((*OnOrderCanceled)(nil)).Elem()},
	{"OnOrderRefunded", reflect.TypeOf((*OnOrderRefunded)(nil)).Elem()},
	{"OnQuotaReserved", reflect.TypeOf((*OnQuotaReserved)(nil)).Elem()},
	{"OnSoftLimitExceeded", reflect.TypeOf((*OnSoftLimitExceeded)(nil)).Elem()},
	{"OnHardLimitExceeded", reflect.TypeOf((*OnHardLimitExceeded)(nil)).Elem()},
	{"OnQuotaReleased", reflect.TypeOf((*OnQuotaReleased)(nil)).Elem()},
	{"OnReconciled", reflect.TypeOf((*OnReconciled)(nil)).Elem()},
}

func implementedInterfaces(p Plugin) []string {
	var out []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			out = append(out, h.name)
		}
	}
	return out
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every plugin in hooks. Failures are logged and never
// reach the caller.
func emit[T Plugin](ctx context.Context, r *Registry, hook string, hooks []T, fn func(T) error) {
	for _, p := range hooks {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return fn(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

func snapshot[T any](r *Registry, hooks *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *hooks
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, bk interface{}) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, bk)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitPaymentReceived emits a payment received event.
func (r *Registry) EmitPaymentReceived(ctx context.Context, pay *payment.Payment) {
	emit(ctx, r, "OnPaymentReceived", snapshot(r, &r.onPaymentReceived), func(p OnPaymentReceived) error {
		return p.OnPaymentReceived(ctx, pay)
	})
}

// EmitPaymentRejected emits a payment rejected event.
func (r *Registry) EmitPaymentRejected(ctx context.Context, reason error) {
	emit(ctx, r, "OnPaymentRejected", snapshot(r, &r.onPaymentRejected), func(p OnPaymentRejected) error {
		return p.OnPaymentRejected(ctx, reason)
	})
}

// EmitOrderPaid emits an order paid event.
func (r *Registry) EmitOrderPaid(ctx context.Context, o *order.Order, pay *payment.Payment) {
	emit(ctx, r, "OnOrderPaid", snapshot(r, &r.onOrderPaid), func(p OnOrderPaid) error {
		return p.OnOrderPaid(ctx, o, pay)
	})
}

// EmitOrderFailed emits an order failed event.
func (r *Registry) EmitOrderFailed(ctx context.Context, o *order.Order, pay *payment.Payment) {
	emit(ctx, r, "OnOrderFailed", snapshot(r, &r.onOrderFailed), func(p OnOrderFailed) error {
		return p.OnOrderFailed(ctx, o, pay)
	})
}

// EmitOrderAlreadyFinalized emits an already-finalized event.
func (r *Registry) EmitOrderAlreadyFinalized(ctx context.Context, o *order.Order, transactionID string) {
	emit(ctx, r, "OnOrderAlreadyFinalized", snapshot(r, &r.onOrderAlreadyFinalized), func(p OnOrderAlreadyFinalized) error {
		return p.OnOrderAlreadyFinalized(ctx, o, transactionID)
	})
}

// EmitOrderCanceled emits an order canceled event.
func (r *Registry) EmitOrderCanceled(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderCanceled", snapshot(r, &r.onOrderCanceled), func(p OnOrderCanceled) error {
		return p.OnOrderCanceled(ctx, o)
	})
}

// EmitOrderRefunded emits an order refunded event.
func (r *Registry) EmitOrderRefunded(ctx context.Context, o *order.Order) {
	emit(ctx, r, "OnOrderRefunded", snapshot(r, &r.onOrderRefunded), func(p OnOrderRefunded) error {
		return p.OnOrderRefunded(ctx, o)
	})
}

// EmitQuotaReserved emits a quota reserved event.
func (r *Registry) EmitQuotaReserved(ctx context.Context, q *quota.Quota, delta int64) {
	emit(ctx, r, "OnQuotaReserved", snapshot(r, &r.onQuotaReserved), func(p OnQuotaReserved) error {
		return p.OnQuotaReserved(ctx, q, delta)
	})
}

// EmitSoftLimitExceeded emits a soft limit exceeded event.
func (r *Registry) EmitSoftLimitExceeded(ctx context.Context, q *quota.Quota, delta int64) {
	emit(ctx, r, "OnSoftLimitExceeded", snapshot(r, &r.onSoftLimitExceeded), func(p OnSoftLimitExceeded) error {
		return p.OnSoftLimitExceeded(ctx, q, delta)
	})
}

// EmitHardLimitExceeded emits a hard limit exceeded event.
func (r *Registry) EmitHardLimitExceeded(ctx context.Context, subject, feature string, usage, delta, hardLimit int64) {
	emit(ctx, r, "OnHardLimitExceeded", snapshot(r, &r.onHardLimitExceeded), func(p OnHardLimitExceeded) error {
		return p.OnHardLimitExceeded(ctx, subject, feature, usage, delta, hardLimit)
	})
}

// EmitQuotaReleased emits a quota released event.
func (r *Registry) EmitQuotaReleased(ctx context.Context, q *quota.Quota, delta int64) {
	emit(ctx, r, "OnQuotaReleased", snapshot(r, &r.onQuotaReleased), func(p OnQuotaReleased) error {
		return p.OnQuotaReleased(ctx, q, delta)
	})
}

// EmitReconciled emits a reconciliation completed event.
func (r *Registry) EmitReconciled(ctx context.Context, orderID int64, status string, quotaFailures int, elapsed time.Duration) {
	emit(ctx, r, "OnReconciled", snapshot(r, &r.onReconciled), func(p OnReconciled) error {
		return p.OnReconciled(ctx, orderID, status, quotaFailures, elapsed)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block reconciliation.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	t := time.NewTimer(r.timeout)
	defer t.Stop()

	select {
	case err := <-done:
		return err
	case <-t.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
