package product

import "context"

type Store interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, productID int64) (*Product, error)
	ListProducts(ctx context.Context, opts ListOpts) ([]*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
