// Package audithook bridges Bookkeeper reconciliation events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/plugin"
	"github.com/DataONEorg/bookkeeper/quota"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnPaymentReceived       = (*Extension)(nil)
	_ plugin.OnPaymentRejected       = (*Extension)(nil)
	_ plugin.OnOrderPaid             = (*Extension)(nil)
	_ plugin.OnOrderFailed           = (*Extension)(nil)
	_ plugin.OnOrderAlreadyFinalized = (*Extension)(nil)
	_ plugin.OnOrderCanceled         = (*Extension)(nil)
	_ plugin.OnOrderRefunded         = (*Extension)(nil)
	_ plugin.OnQuotaReserved         = (*Extension)(nil)
	_ plugin.OnQuotaReleased         = (*Extension)(nil)
	_ plugin.OnSoftLimitExceeded     = (*Extension)(nil)
	_ plugin.OnHardLimitExceeded     = (*Extension)(nil)
	_ plugin.OnReconciled            = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Bookkeeper lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentReceived implements plugin.OnPaymentReceived.
func (e *Extension) OnPaymentReceived(ctx context.Context, p *payment.Payment) error {
	orderRef, _ := p.Get(payment.KeyOrderID)
	return e.record(ctx, ActionPaymentReceived, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.TransactionRef(), CategoryPayment, nil,
		"account_id", p.AccountID,
		"order_id", orderRef,
		"approved", p.Approved(),
	)
}

// OnPaymentRejected implements plugin.OnPaymentRejected.
func (e *Extension) OnPaymentRejected(ctx context.Context, reason error) error {
	return e.record(ctx, ActionPaymentRejected, SeverityWarning, OutcomeFailure,
		ResourcePayment, "", CategoryPayment, reason,
	)
}

// ──────────────────────────────────────────────────
// Order hooks
// ──────────────────────────────────────────────────

// OnOrderPaid implements plugin.OnOrderPaid.
func (e *Extension) OnOrderPaid(ctx context.Context, o *order.Order, p *payment.Payment) error {
	return e.record(ctx, ActionOrderPaid, SeverityInfo, OutcomeSuccess,
		ResourceOrder, orderID(o), CategoryBilling, nil,
		"subject", o.Subject,
		"amount", o.Amount,
		"currency", o.Currency,
		"transaction_id", p.TransactionRef(),
	)
}

// OnOrderFailed implements plugin.OnOrderFailed.
func (e *Extension) OnOrderFailed(ctx context.Context, o *order.Order, p *payment.Payment) error {
	meta := []any{
		"subject", o.Subject,
		"transaction_id", p.TransactionRef(),
	}
	if p.AuthorizationMessage != nil {
		meta = append(meta, "authorization_message", *p.AuthorizationMessage)
	}
	return e.record(ctx, ActionOrderFailed, SeverityWarning, OutcomeFailure,
		ResourceOrder, orderID(o), CategoryBilling, nil,
		meta...,
	)
}

// OnOrderAlreadyFinalized implements plugin.OnOrderAlreadyFinalized.
func (e *Extension) OnOrderAlreadyFinalized(ctx context.Context, o *order.Order, transactionID string) error {
	return e.record(ctx, ActionOrderAlreadyFinalized, SeverityInfo, OutcomeSuccess,
		ResourceOrder, orderID(o), CategoryBilling, nil,
		"status", string(o.Status),
		"transaction_id", transactionID,
	)
}

// OnOrderCanceled implements plugin.OnOrderCanceled.
func (e *Extension) OnOrderCanceled(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderCanceled, SeverityInfo, OutcomeSuccess,
		ResourceOrder, orderID(o), CategoryBilling, nil,
		"subject", o.Subject,
	)
}

// OnOrderRefunded implements plugin.OnOrderRefunded.
func (e *Extension) OnOrderRefunded(ctx context.Context, o *order.Order) error {
	return e.record(ctx, ActionOrderRefunded, SeverityInfo, OutcomeSuccess,
		ResourceOrder, orderID(o), CategoryBilling, nil,
		"subject", o.Subject,
		"amount_returned", o.AmountReturned,
	)
}

// ──────────────────────────────────────────────────
// Quota hooks
// ──────────────────────────────────────────────────

// OnQuotaReserved implements plugin.OnQuotaReserved.
func (e *Extension) OnQuotaReserved(ctx context.Context, q *quota.Quota, delta int64) error {
	return e.record(ctx, ActionQuotaReserved, SeverityInfo, OutcomeSuccess,
		ResourceQuota, quotaID(q), CategoryUsage, nil,
		"subject", q.Subject,
		"feature", q.Feature,
		"delta", delta,
		"usage", q.Usage,
	)
}

// OnQuotaReleased implements plugin.OnQuotaReleased.
func (e *Extension) OnQuotaReleased(ctx context.Context, q *quota.Quota, delta int64) error {
	return e.record(ctx, ActionQuotaReleased, SeverityInfo, OutcomeSuccess,
		ResourceQuota, quotaID(q), CategoryUsage, nil,
		"subject", q.Subject,
		"feature", q.Feature,
		"delta", delta,
		"usage", q.Usage,
	)
}

// OnSoftLimitExceeded implements plugin.OnSoftLimitExceeded.
func (e *Extension) OnSoftLimitExceeded(ctx context.Context, q *quota.Quota, delta int64) error {
	return e.record(ctx, ActionSoftLimitExceeded, SeverityWarning, OutcomeSuccess,
		ResourceQuota, quotaID(q), CategoryUsage, nil,
		"subject", q.Subject,
		"feature", q.Feature,
		"usage", q.Usage,
		"soft_limit", q.SoftLimit,
	)
}

// OnHardLimitExceeded implements plugin.OnHardLimitExceeded.
func (e *Extension) OnHardLimitExceeded(ctx context.Context, subject, feature string, usage, delta, hardLimit int64) error {
	return e.record(ctx, ActionHardLimitExceeded, SeverityWarning, OutcomeFailure,
		ResourceQuota, "", CategoryUsage, nil,
		"subject", subject,
		"feature", feature,
		"usage", usage,
		"delta", delta,
		"hard_limit", hardLimit,
	)
}

// ──────────────────────────────────────────────────
// Reconciliation hooks
// ──────────────────────────────────────────────────

// OnReconciled implements plugin.OnReconciled. A reconciliation with quota
// failures is recorded as a partial outcome.
func (e *Extension) OnReconciled(ctx context.Context, oid int64, status string, quotaFailures int, elapsed time.Duration) error {
	outcome, severity := OutcomeSuccess, SeverityInfo
	if quotaFailures > 0 {
		outcome, severity = OutcomePartial, SeverityError
	}
	return e.record(ctx, ActionReconciled, severity, outcome,
		ResourceReconciliation, strconv.FormatInt(oid, 10), CategoryBilling, nil,
		"status", status,
		"quota_failures", quotaFailures,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

func orderID(o *order.Order) string { return strconv.FormatInt(o.ID, 10) }

func quotaID(q *quota.Quota) string { return strconv.FormatInt(q.ID, 10) }

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
