// Package storetest holds the behavioral tests every store.Store backend
// must pass. Backends call Run from their own tests with a factory that
// returns a fresh, migrated store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/id"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
	"github.com/DataONEorg/bookkeeper/store"
)

// Factory returns an empty store ready for use. It is called once per
// subtest.
type Factory func(t *testing.T) store.Store

var errAbort = errors.New("storetest: abort update")

var base = time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)

// Run executes the shared store contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Products", func(t *testing.T) { testProducts(t, newStore(t)) })
	t.Run("Orders", func(t *testing.T) { testOrders(t, newStore(t)) })
	t.Run("UpdateOrder", func(t *testing.T) { testUpdateOrder(t, newStore(t)) })
	t.Run("Quotas", func(t *testing.T) { testQuotas(t, newStore(t)) })
	t.Run("ConcurrentUpdateQuota", func(t *testing.T) { testConcurrentUpdateQuota(t, newStore(t)) })
	t.Run("Usage", func(t *testing.T) { testUsage(t, newStore(t)) })
	t.Run("Payments", func(t *testing.T) { testPayments(t, newStore(t)) })
}

func testProducts(t *testing.T, s store.Store) {
	ctx := context.Background()

	p := &product.Product{
		ID:       1000,
		Object:   product.ObjectType,
		Active:   true,
		Name:     "Organization",
		Amount:   180000,
		Currency: "usd",
		Interval: product.IntervalYear,
		Entity:   bookkeeper.Entity{CreatedAt: base, UpdatedAt: base},
	}
	p.SetFeatures([]product.Feature{{
		Name:  "custom_portal",
		Quota: &product.QuotaTemplate{QuotaType: "portal", SoftLimit: 3, HardLimit: 3, Unit: "portal"},
	}})
	require.NoError(t, s.CreateProduct(ctx, p))
	assert.ErrorIs(t, s.CreateProduct(ctx, p), bookkeeper.ErrAlreadyExists)
	require.NoError(t, s.CreateProduct(ctx, &product.Product{ID: 1001, Name: "Legacy", Currency: "usd"}))

	got, err := s.GetProduct(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, "Organization", got.Name)
	assert.Equal(t, product.IntervalYear, got.Interval)
	features, err := got.QuotaFeatures()
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, int64(3), features[0].Quota.HardLimit)

	active, err := s.ListProducts(ctx, product.ListOpts{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, int64(1000), active[0].ID)

	got.Name = "Organization Plus"
	require.NoError(t, s.UpdateProduct(ctx, got))
	got, err = s.GetProduct(ctx, 1000)
	require.NoError(t, err)
	assert.Equal(t, "Organization Plus", got.Name)

	assert.ErrorIs(t, s.UpdateProduct(ctx, &product.Product{ID: 9}), bookkeeper.ErrProductNotFound)
	_, err = s.GetProduct(ctx, 9)
	assert.ErrorIs(t, err, bookkeeper.ErrProductNotFound)
}

func newOrder(orderID int64, subject string) *order.Order {
	parent := int64(1000)
	return &order.Order{
		Entity:   bookkeeper.Entity{CreatedAt: base, UpdatedAt: base},
		ID:       orderID,
		Object:   order.ObjectType,
		Amount:   50000,
		Currency: "usd",
		Customer: 7,
		Subject:  subject,
		Items: []order.Item{{
			Object:   order.ItemObjectType,
			Amount:   50000,
			Currency: "usd",
			Parent:   &parent,
			Quantity: 1,
			Type:     order.ItemSKU,
		}},
		StatusTransitions: map[order.Status]time.Time{order.StatusCreated: base},
		Status:            order.StatusCreated,
	}
}

func testOrders(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateOrder(ctx, newOrder(1, "alice")))
	require.NoError(t, s.CreateOrder(ctx, newOrder(2, "alice")))
	require.NoError(t, s.CreateOrder(ctx, newOrder(3, "bob")))
	assert.ErrorIs(t, s.CreateOrder(ctx, newOrder(1, "carol")), bookkeeper.ErrAlreadyExists)

	got, err := s.GetOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Subject)
	require.Len(t, got.Items, 1)
	require.NotNil(t, got.Items[0].Parent)
	assert.Equal(t, int64(1000), *got.Items[0].Parent)
	assert.True(t, got.StatusTransitions[order.StatusCreated].Equal(base))
	assert.Nil(t, got.Charge)

	alice, err := s.ListOrders(ctx, order.ListOpts{Subject: "alice"})
	require.NoError(t, err)
	require.Len(t, alice, 2)
	assert.Equal(t, int64(1), alice[0].ID)

	page, err := s.ListOrders(ctx, order.ListOpts{Limit: 1, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, int64(3), page[0].ID)

	_, err = s.GetOrder(ctx, 404)
	assert.ErrorIs(t, err, bookkeeper.ErrOrderNotFound)
}

func testUpdateOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateOrder(ctx, newOrder(42, "alice")))

	_, err := s.UpdateOrder(ctx, 42, func(o *order.Order) error {
		o.Status = order.StatusPaid
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	got, err := s.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCreated, got.Status)

	paidAt := base.Add(time.Hour)
	updated, err := s.UpdateOrder(ctx, 42, func(o *order.Order) error {
		o.Advance(order.StatusPaid, paidAt)
		o.Charge = &order.Charge{ID: "txn-42", Object: order.ChargeObjectType, Amount: o.Amount, Paid: true, Status: order.ChargeSucceeded}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, updated.Status)

	got, err = s.GetOrder(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPaid, got.Status)
	assert.True(t, got.StatusTransitions[order.StatusPaid].Equal(paidAt))
	require.NotNil(t, got.Charge)
	assert.Equal(t, "txn-42", got.Charge.ID)

	_, err = s.UpdateOrder(ctx, 404, func(*order.Order) error { return nil })
	assert.ErrorIs(t, err, bookkeeper.ErrOrderNotFound)

	// Concurrent transitions: exactly one caller observes created.
	require.NoError(t, s.CreateOrder(ctx, newOrder(43, "alice")))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateOrder(ctx, 43, func(o *order.Order) error {
				if !o.Advance(order.StatusPaid, paidAt) {
					return errAbort
				}
				return nil
			})
			if err == nil {
				mu.Lock()
				winner++
				mu.Unlock()
				return
			}
			if !errors.Is(err, errAbort) && !errors.Is(err, bookkeeper.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, winner)
}

func newQuota(quotaID int64, subject string, hard int64) *quota.Quota {
	return &quota.Quota{
		Entity:    bookkeeper.Entity{CreatedAt: base, UpdatedAt: base},
		ID:        quotaID,
		Object:    quota.ObjectType,
		QuotaType: "portal",
		Feature:   "custom_portal",
		SoftLimit: hard,
		HardLimit: hard,
		Unit:      "portal",
		Subject:   subject,
		Name:      "Organization",
	}
}

func testQuotas(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.CreateQuota(ctx, newQuota(1, "alice", 3)))
	require.NoError(t, s.CreateQuota(ctx, newQuota(2, "bob", 3)))
	assert.ErrorIs(t, s.CreateQuota(ctx, newQuota(3, "alice", 5)), bookkeeper.ErrAlreadyExists)

	got, err := s.GetQuotaFor(ctx, "alice", "custom_portal")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ID)

	byID, err := s.GetQuota(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "bob", byID.Subject)

	list, err := s.ListQuotas(ctx, quota.ListOpts{Subject: "bob"})
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = s.UpdateQuota(ctx, "alice", "custom_portal", func(q *quota.Quota) error {
		q.Usage = 3
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	updated, err := s.UpdateQuota(ctx, "alice", "custom_portal", func(q *quota.Quota) error {
		q.Usage += 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Usage)

	got, err = s.GetQuota(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Usage)

	_, err = s.UpdateQuota(ctx, "carol", "custom_portal", func(*quota.Quota) error { return nil })
	assert.ErrorIs(t, err, bookkeeper.ErrQuotaNotFound)

	require.NoError(t, s.DeleteQuota(ctx, 1))
	assert.ErrorIs(t, s.DeleteQuota(ctx, 1), bookkeeper.ErrQuotaNotFound)
	_, err = s.GetQuotaFor(ctx, "alice", "custom_portal")
	assert.ErrorIs(t, err, bookkeeper.ErrQuotaNotFound)
}

func testConcurrentUpdateQuota(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateQuota(ctx, newQuota(1, "alice", 10)))

	var wg sync.WaitGroup
	for range 30 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := s.UpdateQuota(ctx, "alice", "custom_portal", func(q *quota.Quota) error {
					if !q.Fits(1) {
						return errAbort
					}
					q.Usage++
					return nil
				})
				if errors.Is(err, bookkeeper.ErrConflict) {
					continue
				}
				if err != nil && !errors.Is(err, errAbort) {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
		}()
	}
	wg.Wait()

	got, err := s.GetQuotaFor(ctx, "alice", "custom_portal")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Usage)
}

func testUsage(t *testing.T, s store.Store) {
	ctx := context.Background()
	for i := range 4 {
		require.NoError(t, s.AppendUsage(ctx, &quota.UsageEvent{
			ID:         id.NewUsageEventID(),
			QuotaID:    1,
			Subject:    "alice",
			Feature:    "custom_portal",
			Delta:      1,
			UsageAfter: int64(i + 1),
			State:      quota.StateOK,
			Reference:  "txn",
			Timestamp:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListUsage(ctx, 1, quota.UsageQueryOpts{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(1), all[0].UsageAfter)
	assert.Equal(t, int64(4), all[3].UsageAfter)

	window, err := s.ListUsage(ctx, 1, quota.UsageQueryOpts{Start: base.Add(time.Minute), End: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, int64(2), window[0].UsageAfter)

	none, err := s.ListUsage(ctx, 2, quota.UsageQueryOpts{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testPayments(t *testing.T, s store.Store) {
	ctx := context.Background()

	txn := "txn-1"
	approved := true
	first := &payment.Record{
		ID:            id.NewPaymentID(),
		OrderID:       42,
		TransactionID: txn,
		Payment: &payment.Payment{
			AccountID:           "1001",
			Timestamp:           "1583020800",
			Count:               "1",
			Hash:                "h",
			TransactionID:       &txn,
			TransactionApproved: &approved,
			Extensions:          map[string]any{"card_brand": "VISA"},
		},
		Status:     order.StatusPaid,
		ReceivedAt: base,
	}
	require.NoError(t, s.RecordPayment(ctx, first))

	dup := *first
	dup.ID = id.NewPaymentID()
	assert.ErrorIs(t, s.RecordPayment(ctx, &dup), bookkeeper.ErrAlreadyExists)

	second := &payment.Record{
		ID:               id.NewPaymentID(),
		OrderID:          42,
		TransactionID:    "txn-2",
		Payment:          &payment.Payment{AccountID: "1001", Timestamp: "1", Count: "1", Hash: "h"},
		Status:           order.StatusPaid,
		AlreadyFinalized: true,
		ReceivedAt:       base.Add(time.Minute),
	}
	require.NoError(t, s.RecordPayment(ctx, second))

	got, err := s.GetPayment(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.OrderID)
	assert.True(t, got.Payment.Approved())
	assert.Equal(t, "VISA", got.Payment.Extensions["card_brand"])

	latest, err := s.LatestPayment(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "txn-2", latest.TransactionID)
	assert.True(t, latest.AlreadyFinalized)

	list, err := s.ListPayments(ctx, 42)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "txn-1", list[0].TransactionID)

	_, err = s.GetPayment(ctx, id.NewPaymentID())
	assert.ErrorIs(t, err, bookkeeper.ErrPaymentNotFound)
	_, err = s.LatestPayment(ctx, 7)
	assert.ErrorIs(t, err, bookkeeper.ErrPaymentNotFound)
}
