package bookkeeper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/types"
)

// TransitionReason explains the outcome of applying a payment.
type TransitionReason string

const (
	ReasonApproved       TransitionReason = "approved"
	ReasonDeclined       TransitionReason = "declined"
	ReasonAmountMismatch TransitionReason = "amount_mismatch"
	ReasonInvalidAmount  TransitionReason = "invalid_amount"
	ReasonFinalized      TransitionReason = "already_finalized"
)

// Transition describes the effect of ApplyPayment on an order.
type Transition struct {
	Order            *order.Order
	From             order.Status
	To               order.Status
	Reason           TransitionReason
	At               time.Time
	AlreadyFinalized bool

	// ClockFallback is set when the processor sent a transaction timestamp
	// that could not be parsed and At came from the clock instead.
	ClockFallback bool
}

// transactionTimeLayouts are tried in order before Unix seconds.
var transactionTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ApplyPayment advances o from created to paid or failed according to p.
// The order is modified in place. now is used when the processor supplied
// no usable transaction timestamp.
//
// The payment must reference o by id, otherwise ErrOrderNotFound is
// returned. An order that has already left created is not modified and
// ErrAlreadyFinalized is returned alongside a Transition describing its
// current status.
func ApplyPayment(o *order.Order, p *payment.Payment, now time.Time) (Transition, error) {
	if o == nil || p == nil {
		return Transition{}, ErrInvalidInput
	}
	if ref, ok := p.OrderRef(); !ok || ref != o.ID {
		return Transition{}, fmt.Errorf("%w: payment references order %q, not %d",
			ErrOrderNotFound, orderRefText(p), o.ID)
	}

	tr := Transition{Order: o, From: o.Status, To: o.Status}
	if o.Status != order.StatusCreated {
		tr.AlreadyFinalized = true
		tr.Reason = ReasonFinalized
		return tr, ErrAlreadyFinalized
	}

	tr.To, tr.Reason = decide(o, p)
	tr.At, tr.ClockFallback = transactionTime(p, now)

	if !o.Advance(tr.To, tr.At) {
		return Transition{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, tr.From, tr.To)
	}
	updateCharge(o, p, tr.At)
	o.Touch(now)

	return tr, nil
}

func decide(o *order.Order, p *payment.Payment) (order.Status, TransitionReason) {
	if !p.Approved() {
		return order.StatusFailed, ReasonDeclined
	}
	if p.TransactionAmount == nil || p.RequestAmount == nil {
		return order.StatusFailed, ReasonInvalidAmount
	}

	txn, err := types.ParseMoney(*p.TransactionAmount, o.Currency)
	if err != nil {
		return order.StatusFailed, ReasonInvalidAmount
	}
	req, err := types.ParseMoney(*p.RequestAmount, o.Currency)
	if err != nil {
		return order.StatusFailed, ReasonInvalidAmount
	}

	total := o.Total()
	if !txn.Equal(total) || !req.Equal(total) {
		return order.StatusFailed, ReasonAmountMismatch
	}
	return order.StatusPaid, ReasonApproved
}

// transactionTime returns the processor's transaction time, or now. The
// second result reports a timestamp that was present but unparseable.
func transactionTime(p *payment.Payment, now time.Time) (time.Time, bool) {
	if p.TransactionTimestamp == nil || strings.TrimSpace(*p.TransactionTimestamp) == "" {
		return now.UTC(), false
	}
	s := strings.TrimSpace(*p.TransactionTimestamp)

	for _, layout := range transactionTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), false
	}
	return now.UTC(), true
}

// updateCharge reflects the outcome on the order's charge, creating one
// from the payment when the order has none yet.
func updateCharge(o *order.Order, p *payment.Payment, at time.Time) {
	if o.Charge == nil {
		o.Charge = &order.Charge{
			ID:       p.TransactionRef(),
			Object:   order.ChargeObjectType,
			Amount:   o.Amount,
			Created:  at,
			Currency: o.Currency,
			Customer: o.Customer,
			Order:    o.ID,
		}
		if p.AuthorizationMessage != nil {
			o.Charge.Description = *p.AuthorizationMessage
		}
		if p.AuthorizationCode != nil {
			o.Charge.Metadata = map[string]string{payment.KeyAuthorizationCode: *p.AuthorizationCode}
		}
	}

	o.Charge.Paid = o.Status == order.StatusPaid
	if o.Charge.Paid {
		o.Charge.Status = order.ChargeSucceeded
	} else {
		o.Charge.Status = order.ChargeFailed
	}
}

func orderRefText(p *payment.Payment) string {
	if p.OrderID == nil {
		return ""
	}
	return *p.OrderID
}
