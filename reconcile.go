package bookkeeper

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
)

// FailureReason classifies a quota reservation that failed during
// reconciliation.
type FailureReason string

const (
	FailureHardLimitExceeded FailureReason = "hard_limit_exceeded"
	FailureQuotaNotFound     FailureReason = "quota_not_found"
	FailureError             FailureReason = "error"
)

// QuotaFailure is one reservation that could not be made for a paid order.
// The order stays paid; an operator resolves these by hand.
type QuotaFailure struct {
	Feature string        `json:"feature"`
	Subject string        `json:"subject"`
	Reason  FailureReason `json:"reason"`
	Err     error         `json:"-"`
}

// Result describes the outcome of one reconciliation. Status is created,
// paid or failed, except for a payment against a canceled or refunded
// order: that order is final, so Status reports it as stored with
// AlreadyFinalized set.
type Result struct {
	ID               id.ReconciliationID `json:"id"`
	OrderID          int64               `json:"order_id"`
	Status           order.Status        `json:"status"`
	AlreadyFinalized bool                `json:"already_finalized"`
	TransactionID    string              `json:"transaction_id,omitempty"`
	QuotaFailures    []QuotaFailure      `json:"quota_failures"`
}

// PartialSuccess reports a paid order with at least one failed reservation.
func (r *Result) PartialSuccess() bool {
	return r.Status == order.StatusPaid && len(r.QuotaFailures) > 0
}

// OrderLockKey is the lock key serializing reconciliation of one order.
func OrderLockKey(orderID int64) string {
	return "bookkeeper:order:" + strconv.FormatInt(orderID, 10)
}

// ──────────────────────────────────────────────────
// Reconciliation
// ──────────────────────────────────────────────────

// Reconcile normalizes a raw processor payload and applies it. A malformed
// payload fails with ErrMalformedPaymentPayload before anything is read or
// written.
func (b *Bookkeeper) Reconcile(ctx context.Context, raw []byte) (*Result, error) {
	p, err := b.normalizer.Normalize(raw)
	if err != nil {
		b.logger.Warn("rejected processor payload", "error", err)
		b.plugins.EmitPaymentRejected(ctx, err)
		return nil, err
	}
	return b.ReconcilePayment(ctx, p)
}

// ReconcilePayment applies a canonical payment to the order it references.
//
// The order moves from created to paid or failed at most once. A payment
// for an order that is no longer created returns the current status with
// AlreadyFinalized set and no error, so processor redeliveries are safe.
// When the order becomes paid, every quota-bearing feature of every sku
// item's product is reserved with the item quantity; reservations that
// fail are reported in QuotaFailures and do not undo the payment.
func (b *Bookkeeper) ReconcilePayment(ctx context.Context, p *payment.Payment) (*Result, error) {
	if p == nil {
		return nil, ErrInvalidInput
	}
	start := time.Now()
	b.plugins.EmitPaymentReceived(ctx, p)

	orderID, ok := p.OrderRef()
	if !ok {
		return nil, fmt.Errorf("%w: payment carries no usable order id %q", ErrOrderNotFound, orderRefText(p))
	}

	unlock, err := b.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &Result{
		ID:            id.NewReconciliationID(),
		OrderID:       orderID,
		TransactionID: p.TransactionRef(),
		QuotaFailures: []QuotaFailure{},
	}

	now := b.now()
	var tr Transition
	o, err := b.store.UpdateOrder(ctx, orderID, func(o *order.Order) error {
		var err error
		tr, err = ApplyPayment(o, p, now)
		return err
	})
	switch {
	case errors.Is(err, ErrAlreadyFinalized):
		res.Status = tr.From
		res.AlreadyFinalized = true
		b.logger.Info("order already finalized",
			"order_id", orderID,
			"status", res.Status,
			"transaction_id", res.TransactionID,
		)
		b.recordPayment(ctx, res, p)
		b.plugins.EmitOrderAlreadyFinalized(ctx, tr.Order, res.TransactionID)
		b.plugins.EmitReconciled(ctx, orderID, string(res.Status), 0, time.Since(start))
		return res, nil
	case err != nil:
		return nil, err
	}

	res.Status = o.Status
	if tr.ClockFallback {
		b.logger.Warn("unparseable transaction timestamp, using clock",
			"order_id", orderID,
			"transaction_timestamp", *p.TransactionTimestamp,
		)
	}
	b.logger.Info("order transitioned",
		"order_id", orderID,
		"from", tr.From,
		"to", tr.To,
		"reason", tr.Reason,
		"transaction_id", res.TransactionID,
	)
	b.recordPayment(ctx, res, p)

	switch o.Status {
	case order.StatusPaid:
		b.plugins.EmitOrderPaid(ctx, o, p)
		res.QuotaFailures = b.reserveOrder(ctx, o, res.TransactionID)
	case order.StatusFailed:
		b.plugins.EmitOrderFailed(ctx, o, p)
	}

	b.plugins.EmitReconciled(ctx, orderID, string(res.Status), len(res.QuotaFailures), time.Since(start))
	return res, nil
}

type reservation struct {
	feature string
	delta   int64
}

// reserveOrder reserves quota for each quota-bearing feature of the
// order's sku items. Reservations run concurrently; failures come back in
// item and feature order.
func (b *Bookkeeper) reserveOrder(ctx context.Context, o *order.Order, ref string) []QuotaFailure {
	var plan []reservation
	for _, item := range o.SKUItems() {
		if item.Parent == nil {
			continue
		}
		p, err := b.resolveProduct(ctx, *item.Parent)
		if err != nil {
			b.logger.Warn("skipping item with unresolved product",
				"order_id", o.ID,
				"product_id", *item.Parent,
				"error", err,
			)
			continue
		}
		features, err := p.QuotaFeatures()
		if err != nil {
			b.logger.Warn("skipping item with invalid product features",
				"order_id", o.ID,
				"product_id", p.ID,
				"error", err,
			)
			continue
		}
		for _, f := range features {
			plan = append(plan, reservation{feature: f.Name, delta: item.Quantity})
		}
	}

	outcomes := make([]error, len(plan))
	var g errgroup.Group
	g.SetLimit(b.reservationConcurrency)
	for i, r := range plan {
		g.Go(func() error {
			_, outcomes[i] = b.CheckAndReserve(ctx, o.Subject, r.feature, r.delta, WithReference(ref))
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // reservation errors are collected in outcomes

	failures := []QuotaFailure{}
	for i, err := range outcomes {
		if err == nil {
			continue
		}
		f := QuotaFailure{
			Feature: plan[i].feature,
			Subject: o.Subject,
			Reason:  failureReason(err),
			Err:     err,
		}
		if f.Reason == FailureError {
			b.logger.Error("quota reservation failed",
				"order_id", o.ID,
				"subject", o.Subject,
				"feature", f.Feature,
				"error", err,
			)
		}
		failures = append(failures, f)
	}
	return failures
}

func failureReason(err error) FailureReason {
	switch {
	case errors.Is(err, ErrHardLimitExceeded):
		return FailureHardLimitExceeded
	case errors.Is(err, ErrQuotaNotFound):
		return FailureQuotaNotFound
	default:
		return FailureError
	}
}

func (b *Bookkeeper) lockOrder(ctx context.Context, orderID int64) (func(), error) {
	unlock, err := b.locker.Lock(ctx, OrderLockKey(orderID))
	if err != nil {
		return nil, fmt.Errorf("%w: order %d: %w", ErrLockTimeout, orderID, err)
	}
	return unlock, nil
}
