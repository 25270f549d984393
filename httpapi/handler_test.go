package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/httpapi"
	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/quota"
	"github.com/DataONEorg/bookkeeper/store/memory"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newServer(t *testing.T) (*httptest.Server, *bookkeeper.Bookkeeper) {
	t.Helper()
	bk := bookkeeper.New(memory.New(),
		bookkeeper.WithLogger(quiet()),
		bookkeeper.WithClock(func() time.Time { return time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC) }),
	)
	require.NoError(t, bk.Start(context.Background()))
	t.Cleanup(func() { _ = bk.Stop() })

	srv := httptest.NewServer(httpapi.New(bk, httpapi.WithLogger(quiet()), httpapi.WithMaxBodyBytes(4096)))
	t.Cleanup(srv.Close)
	return srv, bk
}

func notification(orderID, txn string) string {
	return fmt.Sprintf(`{"account_id":"1001","timestamp":"1583020800","count":"1","hash":"6d1e6b0c",`+
		`"orderid":%q,"transaction_id":%q,"transaction_approved":"true",`+
		`"transaction_amount":"50000","request_amount":"50000"}`, orderID, txn)
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body["error"]
}

func post(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/payments", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func get(t *testing.T, srv *httptest.Server, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestPostPaymentPaysOrder(t *testing.T) {
	srv, bk := newServer(t)
	require.NoError(t, bk.CreateOrder(context.Background(),
		&order.Order{ID: 42, Amount: 50000, Currency: "USD", Subject: "CN=Jane,O=Example"}))

	resp := post(t, srv, notification("42", "txn-42"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var res bookkeeper.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, int64(42), res.OrderID)
	assert.Equal(t, order.StatusPaid, res.Status)
	assert.False(t, res.AlreadyFinalized)

	// Redelivery is still a 200, flagged as already finalized.
	resp = post(t, srv, notification("42", "txn-42"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again bookkeeper.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&again))
	assert.True(t, again.AlreadyFinalized)
	assert.Equal(t, order.StatusPaid, again.Status)
}

func TestPostPaymentStatusMapping(t *testing.T) {
	srv, _ := newServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", `{"orderid":`, http.StatusBadRequest},
		{"missing hash", `{"account_id":"1","timestamp":"1","count":"1","orderid":"42"}`, http.StatusBadRequest},
		{"unknown order", notification("999", "txn-999"), http.StatusNotFound},
		{"too large", `{"pad":"` + strings.Repeat("x", 5000) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp))
		})
	}
}

func TestGetOrder(t *testing.T) {
	srv, bk := newServer(t)
	require.NoError(t, bk.CreateOrder(context.Background(),
		&order.Order{ID: 7, Amount: 50000, Currency: "USD", Subject: "alice"}))

	resp := get(t, srv, "/orders/7")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var o order.Order
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&o))
	assert.Equal(t, int64(7), o.ID)
	assert.Equal(t, order.StatusCreated, o.Status)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/orders/8").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/orders/abc").StatusCode)
}

func TestListOrderPayments(t *testing.T) {
	srv, bk := newServer(t)
	require.NoError(t, bk.CreateOrder(context.Background(),
		&order.Order{ID: 5, Amount: 50000, Currency: "USD", Subject: "alice"}))

	resp := get(t, srv, "/orders/5/payments")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty []*payment.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	assert.Empty(t, empty)

	require.Equal(t, http.StatusOK, post(t, srv, notification("5", "txn-5")).StatusCode)

	resp = get(t, srv, "/orders/5/payments")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records []*payment.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "txn-5", records[0].TransactionID)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/orders/6/payments").StatusCode)
}

func TestListQuotas(t *testing.T) {
	srv, bk := newServer(t)
	ctx := context.Background()
	require.NoError(t, bk.CreateQuota(ctx, &quota.Quota{ID: 1, Subject: "alice", Feature: "custom_portal", QuotaType: "portal", SoftLimit: 3, HardLimit: 3}))
	require.NoError(t, bk.CreateQuota(ctx, &quota.Quota{ID: 2, Subject: "bob", Feature: "custom_portal", QuotaType: "portal", SoftLimit: 1, HardLimit: 1}))

	resp := get(t, srv, "/quotas?subject=alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var quotas []*quota.Quota
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quotas))
	require.Len(t, quotas, 1)
	assert.Equal(t, "alice", quotas[0].Subject)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/quotas?limit=-1").StatusCode)
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", bookkeeper.ErrMalformedPaymentPayload), http.StatusBadRequest},
		{bookkeeper.ErrOrderNotFound, http.StatusNotFound},
		{bookkeeper.ErrQuotaNotFound, http.StatusNotFound},
		{bookkeeper.ErrLockTimeout, http.StatusServiceUnavailable},
		{bookkeeper.ErrConflict, http.StatusServiceUnavailable},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, httpapi.StatusFor(tt.err), tt.err.Error())
	}
}
