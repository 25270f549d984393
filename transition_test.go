package bookkeeper_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
)

func strPtr(s string) *string { return &s }

func createdOrder(id, amount int64, currency string) *order.Order {
	return &order.Order{
		ID:                id,
		Object:            order.ObjectType,
		Amount:            amount,
		Currency:          currency,
		Customer:          7,
		Subject:           "CN=Jane,O=Example",
		Status:            order.StatusCreated,
		StatusTransitions: map[order.Status]time.Time{order.StatusCreated: fixedNow.Add(-time.Hour)},
	}
}

func newPayment(orderID string, approved bool, txnAmount, reqAmount string) *payment.Payment {
	p := &payment.Payment{
		AccountID:           "1001",
		Timestamp:           "1583020800",
		Count:               "1",
		Hash:                "h",
		TransactionID:       strPtr("txn-1"),
		OrderID:             strPtr(orderID),
		TransactionApproved: &approved,
	}
	if txnAmount != "" {
		p.TransactionAmount = strPtr(txnAmount)
	}
	if reqAmount != "" {
		p.RequestAmount = strPtr(reqAmount)
	}
	return p
}

func TestApplyPaymentOutcomes(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		payment  *payment.Payment
		want     order.Status
		reason   bookkeeper.TransitionReason
	}{
		{"approved minor units", "usd", newPayment("42", true, "50000", "50000"), order.StatusPaid, bookkeeper.ReasonApproved},
		{"approved major units", "usd", newPayment("42", true, "500.00", "500"), order.StatusPaid, bookkeeper.ReasonApproved},
		{"declined", "usd", newPayment("42", false, "50000", "50000"), order.StatusFailed, bookkeeper.ReasonDeclined},
		{"transaction amount short", "usd", newPayment("42", true, "49999", "50000"), order.StatusFailed, bookkeeper.ReasonAmountMismatch},
		{"request amount differs", "usd", newPayment("42", true, "50000", "60000"), order.StatusFailed, bookkeeper.ReasonAmountMismatch},
		{"missing amount", "usd", newPayment("42", true, "", "50000"), order.StatusFailed, bookkeeper.ReasonInvalidAmount},
		{"garbage amount", "usd", newPayment("42", true, "5O000", "50000"), order.StatusFailed, bookkeeper.ReasonInvalidAmount},
		{"zero decimal currency", "jpy", newPayment("42", true, "50000.0", "50000"), order.StatusPaid, bookkeeper.ReasonApproved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := createdOrder(42, 50000, tt.currency)

			tr, err := bookkeeper.ApplyPayment(o, tt.payment, fixedNow)
			require.NoError(t, err)

			assert.Equal(t, order.StatusCreated, tr.From)
			assert.Equal(t, tt.want, tr.To)
			assert.Equal(t, tt.reason, tr.Reason)
			assert.Equal(t, tt.want, o.Status)
			assert.Contains(t, o.StatusTransitions, tt.want)
			assert.Contains(t, o.StatusTransitions, order.StatusCreated)
		})
	}
}

func TestApplyPaymentOrderMismatch(t *testing.T) {
	o := createdOrder(42, 50000, "usd")

	for _, ref := range []string{"43", "", "abc", "-42"} {
		_, err := bookkeeper.ApplyPayment(o, newPayment(ref, true, "50000", "50000"), fixedNow)
		assert.ErrorIs(t, err, bookkeeper.ErrOrderNotFound, "ref %q", ref)
	}
	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Nil(t, o.Charge)
}

func TestApplyPaymentAlreadyFinalized(t *testing.T) {
	o := createdOrder(42, 50000, "usd")
	_, err := bookkeeper.ApplyPayment(o, newPayment("42", true, "50000", "50000"), fixedNow)
	require.NoError(t, err)

	paidAt := o.StatusTransitions[order.StatusPaid]
	before := o.Clone()

	tr, err := bookkeeper.ApplyPayment(o, newPayment("42", false, "50000", "50000"), fixedNow.Add(time.Hour))
	assert.ErrorIs(t, err, bookkeeper.ErrAlreadyFinalized)
	assert.True(t, tr.AlreadyFinalized)
	assert.Equal(t, order.StatusPaid, tr.From)
	assert.Equal(t, bookkeeper.ReasonFinalized, tr.Reason)

	assert.Equal(t, before, o, "a finalized order is not modified")
	assert.Equal(t, paidAt, o.StatusTransitions[order.StatusPaid])
	assert.NotContains(t, o.StatusTransitions, order.StatusFailed)
}

func TestApplyPaymentTransactionTime(t *testing.T) {
	tests := []struct {
		name     string
		stamp    *string
		want     time.Time
		fallback bool
	}{
		{"absent", nil, fixedNow, false},
		{"rfc3339", strPtr("2020-02-29T23:59:59-05:00"), time.Date(2020, 3, 1, 4, 59, 59, 0, time.UTC), false},
		{"naive", strPtr("2020-02-29T10:00:00"), time.Date(2020, 2, 29, 10, 0, 0, 0, time.UTC), false},
		{"space separated", strPtr("2020-02-29 10:00:00"), time.Date(2020, 2, 29, 10, 0, 0, 0, time.UTC), false},
		{"unix seconds", strPtr("1583020800"), time.Unix(1583020800, 0).UTC(), false},
		{"unparseable", strPtr("yesterday"), fixedNow, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := createdOrder(42, 50000, "usd")
			p := newPayment("42", true, "50000", "50000")
			p.TransactionTimestamp = tt.stamp

			tr, err := bookkeeper.ApplyPayment(o, p, fixedNow)
			require.NoError(t, err)

			assert.True(t, tr.At.Equal(tt.want), "got %s want %s", tr.At, tt.want)
			assert.Equal(t, tt.fallback, tr.ClockFallback)
			assert.True(t, o.StatusTransitions[order.StatusPaid].Equal(tt.want))
		})
	}
}

func TestApplyPaymentSynthesizesCharge(t *testing.T) {
	o := createdOrder(42, 50000, "usd")
	p := newPayment("42", true, "50000", "50000")
	p.AuthorizationCode = strPtr("A1B2")
	p.AuthorizationMessage = strPtr("APPROVED")

	_, err := bookkeeper.ApplyPayment(o, p, fixedNow)
	require.NoError(t, err)

	require.NotNil(t, o.Charge)
	assert.Equal(t, "txn-1", o.Charge.ID)
	assert.Equal(t, order.ChargeObjectType, o.Charge.Object)
	assert.Equal(t, int64(50000), o.Charge.Amount)
	assert.Equal(t, "usd", o.Charge.Currency)
	assert.Equal(t, int64(42), o.Charge.Order)
	assert.Equal(t, "APPROVED", o.Charge.Description)
	assert.Equal(t, "A1B2", o.Charge.Metadata[payment.KeyAuthorizationCode])
	assert.True(t, o.Charge.Paid)
	assert.Equal(t, order.ChargeSucceeded, o.Charge.Status)
	assert.True(t, o.UpdatedAt.Equal(fixedNow))
}

func TestApplyPaymentUpdatesExistingCharge(t *testing.T) {
	o := createdOrder(42, 50000, "usd")
	o.Charge = &order.Charge{ID: "ch_existing", Object: order.ChargeObjectType, Status: order.ChargePending}

	_, err := bookkeeper.ApplyPayment(o, newPayment("42", false, "50000", "50000"), fixedNow)
	require.NoError(t, err)

	assert.Equal(t, "ch_existing", o.Charge.ID)
	assert.False(t, o.Charge.Paid)
	assert.Equal(t, order.ChargeFailed, o.Charge.Status)
}

func TestApplyPaymentNilInput(t *testing.T) {
	_, err := bookkeeper.ApplyPayment(nil, newPayment("42", true, "1", "1"), fixedNow)
	assert.ErrorIs(t, err, bookkeeper.ErrInvalidInput)

	_, err = bookkeeper.ApplyPayment(createdOrder(42, 1, "usd"), nil, fixedNow)
	assert.ErrorIs(t, err, bookkeeper.ErrInvalidInput)
}
