package payment

import (
	"context"

	"github.com/DataONEorg/bookkeeper/id"
)

type Store interface {
	// RecordPayment stores a reconciled notification. A second record with
	// the same non-empty transaction id is rejected.
	RecordPayment(ctx context.Context, r *Record) error
	GetPayment(ctx context.Context, paymentID id.PaymentID) (*Record, error)

	// LatestPayment returns the most recently received record for an order.
	LatestPayment(ctx context.Context, orderID int64) (*Record, error)

	// ListPayments returns an order's records oldest first.
	ListPayments(ctx context.Context, orderID int64) ([]*Record, error)
}
