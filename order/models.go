// Package order models purchase transactions, their line items and the
// embedded processor charge.
package order

import (
	"time"

	"github.com/DataONEorg/bookkeeper/types"
)

// Object tags.
const (
	ObjectType       = "order"
	ItemObjectType   = "order_item"
	ChargeObjectType = "charge"
)

type Status string

const (
	StatusCreated  Status = "created"
	StatusPaid     Status = "paid"
	StatusFailed   Status = "failed"
	StatusCanceled Status = "canceled"
	StatusRefunded Status = "refunded"
)

// Valid reports whether s is one of the known order statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusPaid, StatusFailed, StatusCanceled, StatusRefunded:
		return true
	}
	return false
}

type ItemType string

const (
	ItemSKU      ItemType = "sku"
	ItemTax      ItemType = "tax"
	ItemShipping ItemType = "shipping"
	ItemDiscount ItemType = "discount"
)

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	switch t {
	case ItemSKU, ItemTax, ItemShipping, ItemDiscount:
		return true
	}
	return false
}

// Charge statuses as reported by the processor.
const (
	ChargeSucceeded = "succeeded"
	ChargeFailed    = "failed"
	ChargePending   = "pending"
)

type Order struct {
	types.Entity
	ID                int64                `json:"id"`
	Object            string               `json:"object"`
	Amount            int64                `json:"amount"`
	AmountReturned    int64                `json:"amount_returned"`
	Currency          string               `json:"currency"`
	Customer          int64                `json:"customer"`
	Subject           string               `json:"subject"`
	Email             string               `json:"email,omitempty"`
	SeriesID          string               `json:"series_id,omitempty"`
	StartDate         *time.Time           `json:"start_date,omitempty"`
	EndDate           *time.Time           `json:"end_date,omitempty"`
	Charge            *Charge              `json:"charge,omitempty"`
	Items             []Item               `json:"items"`
	StatusTransitions map[Status]time.Time `json:"status_transitions"`
	Status            Status               `json:"status"`
}

type Item struct {
	Object      string   `json:"object"`
	Amount      int64    `json:"amount"`
	Currency    string   `json:"currency"`
	Description string   `json:"description,omitempty"`
	Parent      *int64   `json:"parent,omitempty"`
	Quantity    int64    `json:"quantity"`
	Type        ItemType `json:"type"`
}

type Charge struct {
	ID                  string            `json:"id"`
	Object              string            `json:"object"`
	Amount              int64             `json:"amount"`
	AmountRefunded      int64             `json:"amount_refunded"`
	Created             time.Time         `json:"created"`
	Currency            string            `json:"currency"`
	Customer            int64             `json:"customer,omitempty"`
	Description         string            `json:"description,omitempty"`
	Invoice             string            `json:"invoice,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Order               int64             `json:"order"`
	Paid                bool              `json:"paid"`
	StatementDescriptor string            `json:"statement_descriptor,omitempty"`
	Status              string            `json:"status"`
}

// Total returns the order amount as Money.
func (o *Order) Total() types.Money {
	return types.New(o.Amount, o.Currency)
}

// SKUItems returns the items of type sku, in order.
func (o *Order) SKUItems() []Item {
	var out []Item
	for _, it := range o.Items {
		if it.Type == ItemSKU {
			out = append(out, it)
		}
	}
	return out
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	if o.StartDate != nil {
		t := *o.StartDate
		c.StartDate = &t
	}
	if o.EndDate != nil {
		t := *o.EndDate
		c.EndDate = &t
	}
	if o.Charge != nil {
		ch := *o.Charge
		if o.Charge.Metadata != nil {
			ch.Metadata = make(map[string]string, len(o.Charge.Metadata))
			for k, v := range o.Charge.Metadata {
				ch.Metadata[k] = v
			}
		}
		c.Charge = &ch
	}
	if o.Items != nil {
		c.Items = make([]Item, len(o.Items))
		for i, it := range o.Items {
			if it.Parent != nil {
				p := *it.Parent
				it.Parent = &p
			}
			c.Items[i] = it
		}
	}
	if o.StatusTransitions != nil {
		c.StatusTransitions = make(map[Status]time.Time, len(o.StatusTransitions))
		for k, v := range o.StatusTransitions {
			c.StatusTransitions[k] = v
		}
	}
	return &c
}
