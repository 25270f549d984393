package bookkeeper

import (
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
	"github.com/DataONEorg/bookkeeper/types"
)

// Re-export common types for convenience so users don't have to import the
// domain packages for everyday use.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

type (
	Product     = product.Product
	Order       = order.Order
	OrderStatus = order.Status
	Quota       = quota.Quota
	Reservation = quota.Reservation
	Payment     = payment.Payment
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
