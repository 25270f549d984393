// Package payment defines the canonical payment record produced from a
// processor notification, and the record stored for each notification
// reconciled against an order.
package payment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/order"
)

// Processor field names.
const (
	KeyAccountID            = "account_id"
	KeyTimestamp            = "timestamp"
	KeyCount                = "count"
	KeyHash                 = "hash"
	KeyTransactionID        = "transaction_id"
	KeyAuthorizationCode    = "authorization_code"
	KeyAuthorizationMessage = "authorization_message"
	KeyRequestAmount        = "request_amount"
	KeyTransactionAmount    = "transaction_amount"
	KeyOrderID              = "orderid"
	KeyProducts             = "products"
	KeyTransactionApproved  = "transaction_approved"
	KeyTransactionTimestamp = "transaction_timestamp"

	// KeyResponses wraps the real fields in some processor payloads.
	KeyResponses = "responses"
)

// RequiredKeys must be present and non-blank in every notification.
var RequiredKeys = []string{KeyAccountID, KeyTimestamp, KeyCount, KeyHash}

// OptionalKeys are the recognized text fields that may be omitted.
var OptionalKeys = []string{
	KeyTransactionID,
	KeyAuthorizationCode,
	KeyAuthorizationMessage,
	KeyRequestAmount,
	KeyTransactionAmount,
	KeyOrderID,
	KeyProducts,
	KeyTransactionTimestamp,
}

// Recognized reports whether key is part of the canonical record.
func Recognized(key string) bool {
	switch key {
	case KeyAccountID, KeyTimestamp, KeyCount, KeyHash,
		KeyTransactionID, KeyAuthorizationCode, KeyAuthorizationMessage,
		KeyRequestAmount, KeyTransactionAmount, KeyOrderID, KeyProducts,
		KeyTransactionApproved, KeyTransactionTimestamp:
		return true
	}
	return false
}

// Payment is the canonical form of a processor notification. Optional
// fields are nil when the processor omitted them and point to "" when it
// sent them empty. Unrecognized fields are kept verbatim in Extensions.
type Payment struct {
	AccountID string
	Timestamp string
	Count     string
	Hash      string

	TransactionID        *string
	AuthorizationCode    *string
	AuthorizationMessage *string
	RequestAmount        *string
	TransactionAmount    *string
	OrderID              *string
	Products             *string
	TransactionApproved  *bool
	TransactionTimestamp *string

	Extensions map[string]any
}

func (p *Payment) optional(key string) **string {
	switch key {
	case KeyTransactionID:
		return &p.TransactionID
	case KeyAuthorizationCode:
		return &p.AuthorizationCode
	case KeyAuthorizationMessage:
		return &p.AuthorizationMessage
	case KeyRequestAmount:
		return &p.RequestAmount
	case KeyTransactionAmount:
		return &p.TransactionAmount
	case KeyOrderID:
		return &p.OrderID
	case KeyProducts:
		return &p.Products
	case KeyTransactionTimestamp:
		return &p.TransactionTimestamp
	}
	return nil
}

func (p *Payment) required(key string) *string {
	switch key {
	case KeyAccountID:
		return &p.AccountID
	case KeyTimestamp:
		return &p.Timestamp
	case KeyCount:
		return &p.Count
	case KeyHash:
		return &p.Hash
	}
	return nil
}

// Set assigns a recognized text field by its processor key. It returns
// false for the approval flag and for unrecognized keys.
func (p *Payment) Set(key, value string) bool {
	if f := p.required(key); f != nil {
		*f = value
		return true
	}
	if f := p.optional(key); f != nil {
		v := value
		*f = &v
		return true
	}
	return false
}

// Get returns a recognized text field by its processor key.
func (p *Payment) Get(key string) (string, bool) {
	if f := p.required(key); f != nil {
		return *f, true
	}
	if f := p.optional(key); f != nil && *f != nil {
		return **f, true
	}
	return "", false
}

// Approved reports whether the processor approved the transaction. A
// missing flag is not an approval.
func (p *Payment) Approved() bool {
	return p.TransactionApproved != nil && *p.TransactionApproved
}

// TransactionRef returns the transaction id, or "" when absent.
func (p *Payment) TransactionRef() string {
	if p.TransactionID == nil {
		return ""
	}
	return *p.TransactionID
}

// OrderRef parses the order id carried by the payment.
func (p *Payment) OrderRef() (int64, bool) {
	if p.OrderID == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(*p.OrderID), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// MarshalJSON encodes the payment in the flat processor shape. Extension
// fields are merged back at the top level; recognized fields win on a
// name clash.
func (p Payment) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Extensions)+13)
	for k, v := range p.Extensions {
		out[k] = v
	}
	for _, k := range RequiredKeys {
		v, _ := p.Get(k)
		out[k] = v
	}
	for _, k := range OptionalKeys {
		if v, ok := p.Get(k); ok {
			out[k] = v
		}
	}
	if p.TransactionApproved != nil {
		out[KeyTransactionApproved] = strconv.FormatBool(*p.TransactionApproved)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the flat shape written by MarshalJSON. It is the
// storage codec and expects recognized fields as strings; processor
// payloads go through the normalizer instead.
func (p *Payment) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return err
	}

	*p = Payment{}
	for k, v := range doc {
		if k == KeyTransactionApproved {
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("payment: field %q: expected string", k)
			}
			b, err := strconv.ParseBool(s)
			if err != nil {
				return fmt.Errorf("payment: field %q: %w", k, err)
			}
			p.TransactionApproved = &b
			continue
		}
		if !Recognized(k) {
			if p.Extensions == nil {
				p.Extensions = make(map[string]any)
			}
			p.Extensions[k] = v
			continue
		}
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("payment: field %q: expected string", k)
		}
		p.Set(k, s)
	}
	return nil
}

// Record is a reconciled notification, stored once per transaction id.
type Record struct {
	ID               id.PaymentID `json:"id"`
	OrderID          int64        `json:"order_id"`
	TransactionID    string       `json:"transaction_id,omitempty"`
	Payment          *Payment     `json:"payment"`
	Status           order.Status `json:"status"`
	AlreadyFinalized bool         `json:"already_finalized"`
	ReceivedAt       time.Time    `json:"received_at"`
}
