package postgres

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

// ==================== Product models ====================

type productModel struct {
	grove.BaseModel `grove:"table:bookkeeper_products"`

	ID                  int64           `grove:"id,pk"`
	Object              string          `grove:"object"`
	Active              bool            `grove:"active"`
	Name                string          `grove:"name"`
	Amount              int64           `grove:"amount"`
	Currency            string          `grove:"currency"`
	Caption             string          `grove:"caption"`
	Description         string          `grove:"description"`
	Interval            string          `grove:"interval"`
	StatementDescriptor string          `grove:"statement_descriptor"`
	UnitLabel           string          `grove:"unit_label"`
	URL                 string          `grove:"url"`
	Metadata            json.RawMessage `grove:"metadata,type:jsonb"`
	CreatedAt           time.Time       `grove:"created_at"`
	UpdatedAt           time.Time       `grove:"updated_at"`
}

func toProductModel(p *product.Product) (*productModel, error) {
	metadata, err := marshalJSON(p.Metadata, "{}")
	if err != nil {
		return nil, fmt.Errorf("product %d: metadata: %w", p.ID, err)
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
	if err := unmarshalJSON(m.Metadata, &metadata); err != nil {
		return nil, fmt.Errorf("product %d: metadata: %w", m.ID, err)
	}
	return &product.Product{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
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

	ID                int64           `grove:"id,pk"`
	Object            string          `grove:"object"`
	Amount            int64           `grove:"amount"`
	AmountReturned    int64           `grove:"amount_returned"`
	Currency          string          `grove:"currency"`
	Customer          int64           `grove:"customer"`
	Subject           string          `grove:"subject"`
	Email             string          `grove:"email"`
	SeriesID          string          `grove:"series_id"`
	StartDate         *time.Time      `grove:"start_date"`
	EndDate           *time.Time      `grove:"end_date"`
	Charge            json.RawMessage `grove:"charge,type:jsonb"`
	Items             json.RawMessage `grove:"items,type:jsonb"`
	StatusTransitions json.RawMessage `grove:"status_transitions,type:jsonb"`
	Status            string          `grove:"status"`
	Version           int64           `grove:"version"`
	CreatedAt         time.Time       `grove:"created_at"`
	UpdatedAt         time.Time       `grove:"updated_at"`
}

func toOrderModel(o *order.Order) (*orderModel, error) {
	items, err := marshalJSON(o.Items, "[]")
	if err != nil {
		return nil, fmt.Errorf("order %d: items: %w", o.ID, err)
	}
	transitions, err := marshalJSON(o.StatusTransitions, "{}")
	if err != nil {
		return nil, fmt.Errorf("order %d: status transitions: %w", o.ID, err)
	}
	var charge json.RawMessage
	if o.Charge != nil {
		if charge, err = json.Marshal(o.Charge); err != nil {
			return nil, fmt.Errorf("order %d: charge: %w", o.ID, err)
		}
	}

	return &orderModel{
		ID:                o.ID,
		Object:            o.Object,
		Amount:            o.Amount,
		AmountReturned:    o.AmountReturned,
		Currency:          o.Currency,
		Customer:          o.Customer,
		Subject:           o.Subject,
		Email:             o.Email,
		SeriesID:          o.SeriesID,
		StartDate:         o.StartDate,
		EndDate:           o.EndDate,
		Charge:            charge,
		Items:             items,
		StatusTransitions: transitions,
		Status:            string(o.Status),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}, nil
}

func fromOrderModel(m *orderModel) (*order.Order, error) {
	o := &order.Order{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
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
	if err := unmarshalJSON(m.Items, &o.Items); err != nil {
		return nil, fmt.Errorf("order %d: items: %w", m.ID, err)
	}
	if err := unmarshalJSON(m.StatusTransitions, &o.StatusTransitions); err != nil {
		return nil, fmt.Errorf("order %d: status transitions: %w", m.ID, err)
	}
	if len(m.Charge) > 0 && string(m.Charge) != "null" {
		o.Charge = new(order.Charge)
		if err := json.Unmarshal(m.Charge, o.Charge); err != nil {
			return nil, fmt.Errorf("order %d: charge: %w", m.ID, err)
		}
	}
	return o, nil
}

// ==================== Quota models ====================

type quotaModel struct {
	grove.BaseModel `grove:"table:bookkeeper_quotas"`

	ID        int64     `grove:"id,pk"`
	Object    string    `grove:"object"`
	QuotaType string    `grove:"quota_type"`
	Feature   string    `grove:"feature"`
	SoftLimit int64     `grove:"soft_limit"`
	HardLimit int64     `grove:"hard_limit"`
	Usage     int64     `grove:"usage"`
	Unit      string    `grove:"unit"`
	Subject   string    `grove:"subject"`
	Name      string    `grove:"name"`
	Version   int64     `grove:"version"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
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
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
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

	ID         string    `grove:"id,pk"`
	QuotaID    int64     `grove:"quota_id"`
	Subject    string    `grove:"subject"`
	Feature    string    `grove:"feature"`
	Delta      int64     `grove:"delta"`
	UsageAfter int64     `grove:"usage_after"`
	State      string    `grove:"state"`
	Reference  string    `grove:"reference"`
	Timestamp  time.Time `grove:"timestamp"`
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

	ID               string          `grove:"id,pk"`
	OrderID          int64           `grove:"order_id"`
	TransactionID    string          `grove:"transaction_id"`
	Payload          json.RawMessage `grove:"payload,type:jsonb"`
	Status           string          `grove:"status"`
	AlreadyFinalized bool            `grove:"already_finalized"`
	ReceivedAt       time.Time       `grove:"received_at"`
}

func toPaymentModel(r *payment.Record) (*paymentModel, error) {
	payload, err := marshalJSON(r.Payment, "{}")
	if err != nil {
		return nil, fmt.Errorf("payment %s: payload: %w", r.ID, err)
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
	if err := json.Unmarshal(m.Payload, p); err != nil {
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

// marshalJSON encodes v, substituting empty for a nil value so NOT NULL
// jsonb columns always receive a document.
func marshalJSON(v any, empty string) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return json.RawMessage(empty), nil
	}
	return data, nil
}

func unmarshalJSON(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}
