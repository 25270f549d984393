package bookkeeper_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/product"
	"github.com/DataONEorg/bookkeeper/quota"
	"github.com/DataONEorg/bookkeeper/store/memory"
)

var fixedNow = time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingStore counts product reads on top of the memory store.
type countingStore struct {
	*memory.Store
	productReads atomic.Int32
}

func (s *countingStore) GetProduct(ctx context.Context, productID int64) (*product.Product, error) {
	s.productReads.Add(1)
	return s.Store.GetProduct(ctx, productID)
}

func newTestBookkeeper(t *testing.T, opts ...bookkeeper.Option) (*bookkeeper.Bookkeeper, *countingStore) {
	t.Helper()

	s := &countingStore{Store: memory.New()}
	opts = append([]bookkeeper.Option{
		bookkeeper.WithLogger(quietLogger()),
		bookkeeper.WithClock(func() time.Time { return fixedNow }),
	}, opts...)

	bk := bookkeeper.New(s, opts...)
	require.NoError(t, bk.Start(context.Background()))
	t.Cleanup(func() { _ = bk.Stop() })
	return bk, s
}

// organizationProduct is a yearly plan whose custom_portal feature carries
// a 3/3 portal quota.
func organizationProduct(id int64) *product.Product {
	p := &product.Product{
		ID:       id,
		Active:   true,
		Name:     "Organization",
		Amount:   180000,
		Currency: "USD",
		Interval: product.IntervalYear,
	}
	p.SetFeatures([]product.Feature{
		{
			Name:  "custom_portal",
			Label: "Branded Portals",
			Quota: &product.QuotaTemplate{QuotaType: "portal", SoftLimit: 3, HardLimit: 3, Unit: "portal"},
		},
		{Name: "custom_search_filters", Label: "Custom Search Filters"},
	})
	return p
}

func createOrder(t *testing.T, bk *bookkeeper.Bookkeeper, o *order.Order) *order.Order {
	t.Helper()
	require.NoError(t, bk.CreateOrder(context.Background(), o))
	return o
}

func createQuota(t *testing.T, bk *bookkeeper.Bookkeeper, q *quota.Quota) *quota.Quota {
	t.Helper()
	require.NoError(t, bk.CreateQuota(context.Background(), q))
	return q
}

// payload builds a flat processor notification.
func payload(t *testing.T, fields map[string]any) []byte {
	t.Helper()
	doc := map[string]any{
		"account_id": "1001",
		"timestamp":  "1583020800",
		"count":      "1",
		"hash":       "6d1e6b0c",
	}
	for k, v := range fields {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	return data
}

func approvedPayment(t *testing.T, orderID, amount, txn string) []byte {
	t.Helper()
	return payload(t, map[string]any{
		"orderid":              orderID,
		"transaction_id":       txn,
		"transaction_approved": "true",
		"transaction_amount":   amount,
		"request_amount":       amount,
	})
}

func int64Ptr(v int64) *int64 { return &v }
