package mongo

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
	"github.com/DataONEorg/bookkeeper/types"
)

// Free-form documents (product metadata, payment payloads) are stored as
// JSON strings: decoding nested BSON into map[string]any yields bson.D
// values that do not survive the JSON-based feature decoding.

// ==================== Product models ====================

type productModel struct {
	grove.BaseModel `grove:"table:bookkeeper_products"`

	ID                  int64     `grove:"id,pk"                bson:"_id"`
	Object              string    `grove:"object"               bson:"object"`
	Active              bool      `grove:"active"               bson:"active"`
	Name                string    `grove:"name"                 bson:"name"`
	Amount              int64     `grove:"amount"               bson:"amount"`
	Currency            string    `grove:"currency"             bson:"currency"`
	Caption             string    `grove:"caption"              bson:"caption"`
	Description         string    `grove:"description"          bson:"description"`
	Interval            string    `grove:"interval"             bson:"interval"`
	StatementDescriptor string    `grove:"statement_descriptor" bson:"statement_descriptor"`
	UnitLabel           string    `grove:"unit_label"           bson:"unit_label"`
	URL                 string    `grove:"url"                  bson:"url"`
	Metadata            string    `grove:"metadata"             bson:"metadata"`
	CreatedAt           time.Time `grove:"created_at"           bson:"created_at"`
	UpdatedAt           time.Time `grove:"updated_at"           bson:"updated_at"`
}

func toProductModel(p *product.Product) (*productModel, error) {
	var metadata string
	if len(p.Metadata) > 0 {
		data, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, fmt.Errorf("product %d: metadata: %w", p.ID, err)
		}
		metadata = string(data)
	}
	return &productModel{
		ID:                  p.ID,
		Object:              p.Object,
		Active:              p.Active,
		Name:                p.Name,
		Amount:              p.Amount,
		Currency:            p.Currency,
		Caption:             p.Caption,
		Description:         p.Description,
		Interval:            string(p.Interval),
		StatementDescriptor: p.StatementDescriptor,
		UnitLabel:           p.UnitLabel,
		URL:                 p.URL,
		Metadata:            metadata,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}, nil
}

func fromProductModel(m *productModel) (*product.Product, error) {
	var metadata map[string]any
	if m.Metadata != "" {
		if err := json.Unmarshal([]byte(m.Metadata), &metadata); err != nil {
			return nil, fmt.Errorf("product %d: metadata: %w", m.ID, err)
		}
	}
	return &product.Product{
		Entity:              types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                  m.ID,
		Object:              m.Object,
		Active:              m.Active,
		Name:                m.Name,
		Amount:              m.Amount,
		Currency:            m.Currency,
		Caption:             m.Caption,
		Description:         m.Description,
		Interval:            product.Interval(m.Interval),
		StatementDescriptor: m.StatementDescriptor,
		UnitLabel:           m.UnitLabel,
		URL:                 m.URL,
		Metadata:            metadata,
	}, nil
}

// ==================== Order models ====================

type orderModel struct {
	grove.BaseModel `grove:"table:bookkeeper_orders"`

	ID                int64                `grove:"id,pk"              bson:"_id"`
	Object            string               `grove:"object"             bson:"object"`
	Amount            int64                `grove:"amount"             bson:"amount"`
	AmountReturned    int64                `grove:"amount_returned"    bson:"amount_returned"`
	Currency          string               `grove:"currency"           bson:"currency"`
	Customer          int64                `grove:"customer"           bson:"customer"`
	Subject           string               `grove:"subject"            bson:"subject"`
	Email             string               `grove:"email"              bson:"email"`
	SeriesID          string               `grove:"series_id"          bson:"series_id"`
	StartDate         *time.Time           `grove:"start_date"         bson:"start_date,omitempty"`
	EndDate           *time.Time           `grove:"end_date"           bson:"end_date,omitempty"`
	Charge            *chargeModel         `grove:"charge"             bson:"charge,omitempty"`
	Items             []itemModel          `grove:"items"              bson:"items"`
	StatusTransitions map[string]time.Time `grove:"status_transitions" bson:"status_transitions"`
	Status            string               `grove:"status"             bson:"status"`
	Version           int64                `grove:"version"            bson:"version"`
	CreatedAt         time.Time            `grove:"created_at"         bson:"created_at"`
	UpdatedAt         time.Time            `grove:"updated_at"         bson:"updated_at"`
}

type itemModel struct {
	Object      string `bson:"object"`
	Amount      int64  `bson:"amount"`
	Currency    string `bson:"currency"`
	Description string `bson:"description,omitempty"`
	Parent      *int64 `bson:"parent,omitempty"`
	Quantity    int64  `bson:"quantity"`
	Type        string `bson:"type"`
}

type chargeModel struct {
	ID                  string            `bson:"id"`
	Object              string            `bson:"object"`
	Amount              int64             `bson:"amount"`
	AmountRefunded      int64             `bson:"amount_refunded"`
	Created             time.Time         `bson:"created"`
	Currency            string            `bson:"currency"`
	Customer            int64             `bson:"customer,omitempty"`
	Description         string            `bson:"description,omitempty"`
	Invoice             string            `bson:"invoice,omitempty"`
	Metadata            map[string]string `bson:"metadata,omitempty"`
	Order               int64             `bson:"order"`
	Paid                bool              `bson:"paid"`
	StatementDescriptor string            `bson:"statement_descriptor,omitempty"`
	Status              string            `bson:"status"`
}

func toOrderModel(o *order.Order) *orderModel {
	m := &orderModel{
		ID:             o.ID,
		Object:         o.Object,
		Amount:         o.Amount,
		AmountReturned: o.AmountReturned,
		Currency:       o.Currency,
		Customer:       o.Customer,
		Subject:        o.Subject,
		Email:          o.Email,
		SeriesID:       o.SeriesID,
		StartDate:      o.StartDate,
		EndDate:        o.EndDate,
		Items:          make([]itemModel, len(o.Items)),
		Status:         string(o.Status),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for i, it := range o.Items {
		m.Items[i] = itemModel{
			Object:      it.Object,
			Amount:      it.Amount,
			Currency:    it.Currency,
			Description: it.Description,
			Parent:      it.Parent,
			Quantity:    it.Quantity,
			Type:        string(it.Type),
		}
	}
	if len(o.StatusTransitions) > 0 {
		m.StatusTransitions = make(map[string]time.Time, len(o.StatusTransitions))
		for status, at := range o.StatusTransitions {
			m.StatusTransitions[string(status)] = at
		}
	}
	if c := o.Charge; c != nil {
		m.Charge = &chargeModel{
			ID:                  c.ID,
			Object:              c.Object,
			Amount:              c.Amount,
			AmountRefunded:      c.AmountRefunded,
			Created:             c.Created,
			Currency:            c.Currency,
			Customer:            c.Customer,
			Description:         c.Description,
			Invoice:             c.Invoice,
			Metadata:            c.Metadata,
			Order:               c.Order,
			Paid:                c.Paid,
			StatementDescriptor: c.StatementDescriptor,
			Status:              c.Status,
		}
	}
	return m
}

func fromOrderModel(m *orderModel) *order.Order {
	o := &order.Order{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             m.ID,
		Object:         m.Object,
		Amount:         m.Amount,
		AmountReturned: m.AmountReturned,
		Currency:       m.Currency,
		Customer:       m.Customer,
		Subject:        m.Subject,
		Email:          m.Email,
		SeriesID:       m.SeriesID,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		Status:         order.Status(m.Status),
	}
	if len(m.Items) > 0 {
		o.Items = make([]order.Item, len(m.Items))
		for i, it := range m.Items {
			o.Items[i] = order.Item{
				Object:      it.Object,
				Amount:      it.Amount,
				Currency:    it.Currency,
				Description: it.Description,
				Parent:      it.Parent,
				Quantity:    it.Quantity,
				Type:        order.ItemType(it.Type),
			}
		}
	}
	if len(m.StatusTransitions) > 0 {
		o.StatusTransitions = make(map[order.Status]time.Time, len(m.StatusTransitions))
		for status, at := range m.StatusTransitions {
			o.StatusTransitions[order.Status(status)] = at
		}
	}
	if c := m.Charge; c != nil {
		o.Charge = &order.Charge{
			ID:                  c.ID,
			Object:              c.Object,
			Amount:              c.Amount,
			AmountRefunded:      c.AmountRefunded,
			Created:             c.Created,
			Currency:            c.Currency,
			Customer:            c.Customer,
			Description:         c.Description,
			Invoice:             c.Invoice,
			Metadata:            c.Metadata,
			Order:               c.Order,
			Paid:                c.Paid,
			StatementDescriptor: c.StatementDescriptor,
			Status:              c.Status,
		}
	}
	return o
}

// ==================== Quota models ====================

type quotaModel struct {
	grove.BaseModel `grove:"table:bookkeeper_quotas"`

	ID        int64     `grove:"id,pk"      bson:"_id"`
	Object    string    `grove:"object"     bson:"object"`
	QuotaType string    `grove:"quota_type" bson:"quota_type"`
	Feature   string    `grove:"feature"    bson:"feature"`
	SoftLimit int64     `grove:"soft_limit" bson:"soft_limit"`
	HardLimit int64     `grove:"hard_limit" bson:"hard_limit"`
	Usage     int64     `grove:"usage"      bson:"usage"`
	Unit      string    `grove:"unit"       bson:"unit"`
	Subject   string    `grove:"subject"    bson:"subject"`
	Name      string    `grove:"name"       bson:"name"`
	Version   int64     `grove:"version"    bson:"version"`
	CreatedAt time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt time.Time `grove:"updated_at" bson:"updated_at"`
}

func toQuotaModel(q *quota.Quota) *quotaModel {
	return &quotaModel{
		ID:        q.ID,
		Object:    q.Object,
		QuotaType: q.QuotaType,
		Feature:   q.Feature,
		SoftLimit: q.SoftLimit,
		HardLimit: q.HardLimit,
		Usage:     q.Usage,
		Unit:      q.Unit,
		Subject:   q.Subject,
		Name:      q.Name,
		CreatedAt: q.CreatedAt,
		UpdatedAt: q.UpdatedAt,
	}
}

func fromQuotaModel(m *quotaModel) *quota.Quota {
	return &quota.Quota{
		Entity:    types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:        m.ID,
		Object:    m.Object,
		QuotaType: m.QuotaType,
		Feature:   m.Feature,
		SoftLimit: m.SoftLimit,
		HardLimit: m.HardLimit,
		Usage:     m.Usage,
		Unit:      m.Unit,
		Subject:   m.Subject,
		Name:      m.Name,
	}
}

type usageEventModel struct {
	grove.BaseModel `grove:"table:bookkeeper_usage_events"`

	ID         string    `grove:"id,pk"       bson:"_id"`
	QuotaID    int64     `grove:"quota_id"    bson:"quota_id"`
	Subject    string    `grove:"subject"     bson:"subject"`
	Feature    string    `grove:"feature"     bson:"feature"`
	Delta      int64     `grove:"delta"       bson:"delta"`
	UsageAfter int64     `grove:"usage_after" bson:"usage_after"`
	State      string    `grove:"state"       bson:"state"`
	Reference  string    `grove:"reference"   bson:"reference"`
	Timestamp  time.Time `grove:"timestamp"   bson:"timestamp"`
}

func toUsageEventModel(e *quota.UsageEvent) *usageEventModel {
	return &usageEventModel{
		ID:         e.ID.String(),
		QuotaID:    e.QuotaID,
		Subject:    e.Subject,
		Feature:    e.Feature,
		Delta:      e.Delta,
		UsageAfter: e.UsageAfter,
		State:      string(e.State),
		Reference:  e.Reference,
		Timestamp:  e.Timestamp,
	}
}

func fromUsageEventModel(m *usageEventModel) (*quota.UsageEvent, error) {
	eventID, err := id.ParseUsageEventID(m.ID)
	if err != nil {
		return nil, err
	}
	return &quota.UsageEvent{
		ID:         eventID,
		QuotaID:    m.QuotaID,
		Subject:    m.Subject,
		Feature:    m.Feature,
		Delta:      m.Delta,
		UsageAfter: m.UsageAfter,
		State:      quota.State(m.State),
		Reference:  m.Reference,
		Timestamp:  m.Timestamp,
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:bookkeeper_payments"`

	ID               string    `grove:"id,pk"             bson:"_id"`
	OrderID          int64     `grove:"order_id"          bson:"order_id"`
	TransactionID    string    `grove:"transaction_id"    bson:"transaction_id"`
	Payload          string    `grove:"payload"           bson:"payload"`
	Status           string    `grove:"status"            bson:"status"`
	AlreadyFinalized bool      `grove:"already_finalized" bson:"already_finalized"`
	ReceivedAt       time.Time `grove:"received_at"       bson:"received_at"`
}

func toPaymentModel(r *payment.Record) (*paymentModel, error) {
	payload := "{}"
	if r.Payment != nil {
		data, err := json.Marshal(r.Payment)
		if err != nil {
			return nil, fmt.Errorf("payment %s: payload: %w", r.ID, err)
		}
		payload = string(data)
	}
	return &paymentModel{
		ID:               r.ID.String(),
		OrderID:          r.OrderID,
		TransactionID:    r.TransactionID,
		Payload:          payload,
		Status:           string(r.Status),
		AlreadyFinalized: r.AlreadyFinalized,
		ReceivedAt:       r.ReceivedAt,
	}, nil
}

func fromPaymentModel(m *paymentModel) (*payment.Record, error) {
	paymentID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, err
	}
	p := new(payment.Payment)
	if err := json.Unmarshal([]byte(m.Payload), p); err != nil {
		return nil, fmt.Errorf("payment %s: payload: %w", m.ID, err)
	}
	return &payment.Record{
		ID:               paymentID,
		OrderID:          m.OrderID,
		TransactionID:    m.TransactionID,
		Payment:          p,
		Status:           order.Status(m.Status),
		AlreadyFinalized: m.AlreadyFinalized,
		ReceivedAt:       m.ReceivedAt,
	}, nil
}
