package bookkeeper_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/payment"
)

func TestNormalizeFlatPayload(t *testing.T) {
	n := bookkeeper.NewNormalizer()

	p, err := n.Normalize([]byte(`{
		"account_id": "1001",
		"timestamp": "1583020800",
		"count": 1,
		"hash": "6d1e6b0c",
		"transaction_id": "txn-1",
		"authorization_code": "",
		"transaction_approved": "true",
		"transaction_amount": 50000,
		"request_amount": "50000",
		"orderid": "42",
		"card_brand": "VISA",
		"fid": 7
	}`))
	require.NoError(t, err)

	assert.Equal(t, "1001", p.AccountID)
	assert.Equal(t, "1", p.Count, "numbers are kept as text")
	require.NotNil(t, p.TransactionAmount)
	assert.Equal(t, "50000", *p.TransactionAmount)
	require.NotNil(t, p.AuthorizationCode)
	assert.Empty(t, *p.AuthorizationCode, "sent empty is distinct from omitted")
	assert.Nil(t, p.AuthorizationMessage)
	assert.Nil(t, p.TransactionTimestamp)
	assert.True(t, p.Approved())

	assert.Equal(t, "VISA", p.Extensions["card_brand"])
	assert.Equal(t, json.Number("7"), p.Extensions["fid"])
	assert.NotContains(t, p.Extensions, "orderid")
}

func TestNormalizeResponsesWrapper(t *testing.T) {
	n := bookkeeper.NewNormalizer()

	p, err := n.Normalize([]byte(`{
		"account_id": "1001",
		"timestamp": "1583020800",
		"count": "2",
		"hash": "abc",
		"responses": [
			{"transaction_id": "txn-9", "orderid": "42", "transaction_approved": "false", "network": "visa"},
			{"transaction_id": "ignored"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "txn-9", p.TransactionRef())
	require.NotNil(t, p.TransactionApproved)
	assert.False(t, *p.TransactionApproved)
	assert.Equal(t, "visa", p.Extensions["network"])
	assert.NotContains(t, p.Extensions, payment.KeyResponses)
}

func TestNormalizeResponsesOverlayWinsOverTopLevel(t *testing.T) {
	p, err := bookkeeper.NewNormalizer().NormalizeMap(map[string]any{
		"account_id":     "1001",
		"timestamp":      "1",
		"count":          "1",
		"hash":           "h",
		"transaction_id": "outer",
		"responses":      []any{map[string]any{"transaction_id": "inner"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "inner", p.TransactionRef())
}

func TestNormalizeEmptyResponsesIsKept(t *testing.T) {
	p, err := bookkeeper.NewNormalizer().Normalize(payload(t, map[string]any{
		"responses": []any{},
	}))
	require.NoError(t, err)
	assert.Contains(t, p.Extensions, payment.KeyResponses)
}

func TestNormalizeMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"array", `[{"account_id": "1"}]`},
		{"null", `null`},
		{"trailing data", `{"account_id":"1","timestamp":"1","count":"1","hash":"h"} {}`},
		{"missing hash", `{"account_id":"1","timestamp":"1","count":"1"}`},
		{"blank account", `{"account_id":"  ","timestamp":"1","count":"1","hash":"h"}`},
		{"null required", `{"account_id":"1","timestamp":null,"count":"1","hash":"h"}`},
		{"object in recognized field", `{"account_id":"1","timestamp":"1","count":"1","hash":"h","orderid":{"id":42}}`},
		{"bad approval", `{"account_id":"1","timestamp":"1","count":"1","hash":"h","transaction_approved":"maybe"}`},
		{"responses element not object", `{"account_id":"1","timestamp":"1","count":"1","hash":"h","responses":["x"]}`},
		{"nested responses", `{"responses":[{"account_id":"1","timestamp":"2","count":"3","hash":"h","responses":[{"foo":"bar"}]}]}`},
		{"nested empty responses", `{"responses":[{"account_id":"1","timestamp":"2","count":"3","hash":"h","responses":[]}]}`},
		{"required only inside responses missing", `{"responses":[{"account_id":"1","timestamp":"1","count":"1"}]}`},
	}

	n := bookkeeper.NewNormalizer()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize([]byte(tt.raw))
			assert.ErrorIs(t, err, bookkeeper.ErrMalformedPaymentPayload)
		})
	}
}

func TestNormalizeNullOptionalIsUnset(t *testing.T) {
	p, err := bookkeeper.NewNormalizer().Normalize(payload(t, map[string]any{
		"transaction_id": "txn",
	}))
	require.NoError(t, err)
	require.NotNil(t, p.TransactionID)

	p, err = bookkeeper.NewNormalizer().Normalize([]byte(
		`{"account_id":"1","timestamp":"1","count":"1","hash":"h","transaction_id":null,"transaction_approved":null}`))
	require.NoError(t, err)
	assert.Nil(t, p.TransactionID)
	assert.Nil(t, p.TransactionApproved)
}

func TestNormalizePayloadLimit(t *testing.T) {
	n := bookkeeper.NewNormalizer(bookkeeper.WithMaxPayloadBytes(64))
	raw := payload(t, map[string]any{"note": strings.Repeat("x", 100)})

	_, err := n.Normalize(raw)
	assert.ErrorIs(t, err, bookkeeper.ErrMalformedPaymentPayload)

	_, err = bookkeeper.NewNormalizer(bookkeeper.WithMaxPayloadBytes(0)).Normalize(raw)
	assert.NoError(t, err)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	payloads := map[string]string{
		"flat": `{"account_id":"1001","timestamp":"1583020800","count":"1","hash":"h",
			"transaction_id":"txn","transaction_approved":"TRUE","transaction_amount":"500.00",
			"request_amount":"500.00","orderid":"42","products":"1000","authorization_message":""}`,
		"wrapped": `{"account_id":"1001","timestamp":"1583020800","count":"1","hash":"h",
			"responses":[{"transaction_id":"txn","transaction_approved":true,"avs":{"zip":"Y","street":"N"}}]}`,
		"numeric extensions": `{"account_id":"1001","timestamp":"1583020800","count":3,"hash":"h",
			"fid":12345678901234567890,"ratio":0.1,"tags":["a","b"],"empty":null}`,
		"empty responses": `{"account_id":"1","timestamp":"1","count":"1","hash":"h","responses":[]}`,
		"scalar responses": `{"account_id":"1","timestamp":"1","count":"1","hash":"h","responses":"none"}`,
		"wrapped with list extension": `{"responses":[{"account_id":"1","timestamp":"2","count":"3","hash":"h","items":[{"foo":"bar"}]}]}`,
	}

	n := bookkeeper.NewNormalizer()
	for name, raw := range payloads {
		t.Run(name, func(t *testing.T) {
			first, err := n.Normalize([]byte(raw))
			require.NoError(t, err)

			data, err := json.Marshal(first)
			require.NoError(t, err)

			second, err := n.Normalize(data)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestNormalizeWithoutUseNumber(t *testing.T) {
	n := bookkeeper.NewNormalizer(bookkeeper.WithUseNumber(false))
	p, err := n.Normalize(payload(t, map[string]any{"fid": 7, "count": 2}))
	require.NoError(t, err)

	assert.Equal(t, "2", p.Count)
	assert.Equal(t, float64(7), p.Extensions["fid"])
}
