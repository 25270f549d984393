package order

import "context"

type Store interface {
	CreateOrder(ctx context.Context, o *Order) error
	GetOrder(ctx context.Context, orderID int64) (*Order, error)
	ListOrders(ctx context.Context, opts ListOpts) ([]*Order, error)

	// UpdateOrder runs fn against the current order while holding it
	// exclusively and persists the result. If fn returns an error nothing
	// is written and that error is returned.
	UpdateOrder(ctx context.Context, orderID int64, fn func(o *Order) error) (*Order, error)
}

type ListOpts struct {
	Subject string
	Status  Status
	Limit   int
	Offset  int
}
