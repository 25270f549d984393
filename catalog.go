package bookkeeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
)

// ──────────────────────────────────────────────────
// Product Management
// ──────────────────────────────────────────────────

// CreateProduct validates and stores a product.
func (b *Bookkeeper) CreateProduct(ctx context.Context, p *product.Product) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	p.Object = product.ObjectType
	p.Currency = strings.ToLower(p.Currency)
	p.Stamp(b.now())

	return b.store.CreateProduct(ctx, p)
}

// GetProduct retrieves a product by ID.
func (b *Bookkeeper) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	return b.store.GetProduct(ctx, productID)
}

// ListProducts lists products.
func (b *Bookkeeper) ListProducts(ctx context.Context, opts product.ListOpts) ([]*product.Product, error) {
	return b.store.ListProducts(ctx, opts)
}

// UpdateProduct replaces a product and evicts it from the cache.
func (b *Bookkeeper) UpdateProduct(ctx context.Context, p *product.Product) error {
	if err := validateProduct(p); err != nil {
		return err
	}
	p.Object = product.ObjectType
	p.Currency = strings.ToLower(p.Currency)
	p.Touch(b.now())

	if err := b.store.UpdateProduct(ctx, p); err != nil {
		return err
	}
	b.evictProduct(p.ID)
	return nil
}

func validateProduct(p *product.Product) error {
	if p == nil {
		return ErrInvalidInput
	}

	var errs MultiError
	if p.ID <= 0 {
		errs.Add(ValidationError{Field: "id", Message: "must be positive"})
	}
	if strings.TrimSpace(p.Name) == "" {
		errs.Add(ValidationError{Field: "name", Message: "is required"})
	}
	if p.Amount < 0 {
		errs.Add(ValidationError{Field: "amount", Message: "must not be negative"})
	}
	if strings.TrimSpace(p.Currency) == "" {
		errs.Add(ValidationError{Field: "currency", Message: "is required"})
	}

	features, err := p.Features()
	if err != nil {
		errs.Add(ValidationError{Field: "metadata.features", Message: err.Error()})
	}
	seen := make(map[string]bool, len(features))
	for i, f := range features {
		field := fmt.Sprintf("metadata.features[%d]", i)
		if f.Name == "" {
			errs.Add(ValidationError{Field: field + ".name", Message: "is required"})
		}
		if seen[f.Name] {
			errs.Add(ValidationError{Field: field + ".name", Message: "duplicate feature " + f.Name})
		}
		seen[f.Name] = true
		if q := f.Quota; q != nil && (q.SoftLimit < 0 || q.HardLimit < 0 || q.SoftLimit > q.HardLimit) {
			errs.Add(ValidationError{Field: field + ".quota", Message: "limits must satisfy 0 <= softLimit <= hardLimit"})
		}
	}

	return errs.ErrOrNil()
}

// ──────────────────────────────────────────────────
// Order Management
// ──────────────────────────────────────────────────

// CreateOrder validates and stores a new order in created status.
func (b *Bookkeeper) CreateOrder(ctx context.Context, o *order.Order) error {
	if err := validateOrder(o); err != nil {
		return err
	}

	now := b.now()
	o.Object = order.ObjectType
	o.Currency = strings.ToLower(o.Currency)
	o.Status = order.StatusCreated
	o.StatusTransitions = map[order.Status]time.Time{order.StatusCreated: now}
	for i := range o.Items {
		o.Items[i].Object = order.ItemObjectType
		if o.Items[i].Currency == "" {
			o.Items[i].Currency = o.Currency
		}
	}
	o.Stamp(now)

	return b.store.CreateOrder(ctx, o)
}

// GetOrder retrieves an order by ID.
func (b *Bookkeeper) GetOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	return b.store.GetOrder(ctx, orderID)
}

// ListOrders lists orders.
func (b *Bookkeeper) ListOrders(ctx context.Context, opts order.ListOpts) ([]*order.Order, error) {
	return b.store.ListOrders(ctx, opts)
}

// CancelOrder moves a created order to canceled.
func (b *Bookkeeper) CancelOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	o, err := b.operatorTransition(ctx, orderID, order.StatusCanceled, nil)
	if err != nil {
		return nil, err
	}
	b.plugins.EmitOrderCanceled(ctx, o)
	return o, nil
}

// RefundOrder moves a paid order to refunded and records the full amount
// as returned. Quota usage is left in place; release it explicitly.
func (b *Bookkeeper) RefundOrder(ctx context.Context, orderID int64) (*order.Order, error) {
	o, err := b.operatorTransition(ctx, orderID, order.StatusRefunded, func(o *order.Order) {
		o.AmountReturned = o.Amount
		if o.Charge != nil {
			o.Charge.AmountRefunded = o.Charge.Amount
		}
	})
	if err != nil {
		return nil, err
	}
	b.plugins.EmitOrderRefunded(ctx, o)
	return o, nil
}

func (b *Bookkeeper) operatorTransition(ctx context.Context, orderID int64, to order.Status, apply func(*order.Order)) (*order.Order, error) {
	unlock, err := b.lockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := b.now()
	o, err := b.store.UpdateOrder(ctx, orderID, func(o *order.Order) error {
		from := o.Status
		if !o.Advance(to, now) {
			return fmt.Errorf("%w: order %d: %s -> %s", ErrInvalidTransition, orderID, from, to)
		}
		if apply != nil {
			apply(o)
		}
		o.Touch(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("order status changed",
		"order_id", orderID,
		"status", o.Status,
	)
	return o, nil
}

func validateOrder(o *order.Order) error {
	if o == nil {
		return ErrInvalidInput
	}

	var errs MultiError
	if o.ID <= 0 {
		errs.Add(ValidationError{Field: "id", Message: "must be positive"})
	}
	if o.Amount < 0 {
		errs.Add(ValidationError{Field: "amount", Message: "must not be negative"})
	}
	if strings.TrimSpace(o.Currency) == "" {
		errs.Add(ValidationError{Field: "currency", Message: "is required"})
	}
	if o.Status != "" && o.Status != order.StatusCreated {
		errs.Add(ValidationError{Field: "status", Message: "new orders start in created"})
	}
	for i, it := range o.Items {
		field := fmt.Sprintf("items[%d]", i)
		if !it.Type.Valid() {
			errs.Add(ValidationError{Field: field + ".type", Message: fmt.Sprintf("unknown item type %q", it.Type)})
		}
		if it.Quantity < 1 {
			errs.Add(ValidationError{Field: field + ".quantity", Message: "must be at least 1"})
		}
	}

	return errs.ErrOrNil()
}

// ──────────────────────────────────────────────────
// Payment Records
// ──────────────────────────────────────────────────

// GetPayment retrieves a payment record by ID.
func (b *Bookkeeper) GetPayment(ctx context.Context, paymentID id.PaymentID) (*payment.Record, error) {
	return b.store.GetPayment(ctx, paymentID)
}

// LatestPayment returns the most recent payment record of an order.
func (b *Bookkeeper) LatestPayment(ctx context.Context, orderID int64) (*payment.Record, error) {
	return b.store.LatestPayment(ctx, orderID)
}

// ListPayments returns an order's payment records, oldest first.
func (b *Bookkeeper) ListPayments(ctx context.Context, orderID int64) ([]*payment.Record, error) {
	return b.store.ListPayments(ctx, orderID)
}

func (b *Bookkeeper) recordPayment(ctx context.Context, res *Result, p *payment.Payment) {
	rec := &payment.Record{
		ID:               id.NewPaymentID(),
		OrderID:          res.OrderID,
		TransactionID:    res.TransactionID,
		Payment:          p,
		Status:           res.Status,
		AlreadyFinalized: res.AlreadyFinalized,
		ReceivedAt:       b.now(),
	}

	err := b.store.RecordPayment(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, ErrAlreadyExists):
		b.logger.Debug("payment already recorded",
			"order_id", res.OrderID,
			"transaction_id", res.TransactionID,
		)
	default:
		b.logger.Error("failed to record payment",
			"order_id", res.OrderID,
			"transaction_id", res.TransactionID,
			"error", err,
		)
	}
}
