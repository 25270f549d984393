package payment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestSetGet(t *testing.T) {
	var p Payment

	assert.True(t, p.Set(KeyAccountID, "acct"))
	assert.True(t, p.Set(KeyOrderID, "42"))
	assert.True(t, p.Set(KeyAuthorizationMessage, ""))
	assert.False(t, p.Set(KeyTransactionApproved, "true"))
	assert.False(t, p.Set("card_brand", "visa"))

	v, ok := p.Get(KeyAccountID)
	assert.True(t, ok)
	assert.Equal(t, "acct", v)

	v, ok = p.Get(KeyAuthorizationMessage)
	assert.True(t, ok, "empty string is present")
	assert.Empty(t, v)

	_, ok = p.Get(KeyTransactionID)
	assert.False(t, ok, "omitted field is absent")
}

func TestOrderRef(t *testing.T) {
	tests := []struct {
		name  string
		value *string
		want  int64
		ok    bool
	}{
		{"absent", nil, 0, false},
		{"numeric", strPtr("42"), 42, true},
		{"padded", strPtr(" 42 "), 42, true},
		{"zero", strPtr("0"), 0, false},
		{"text", strPtr("order-42"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Payment{OrderID: tt.value}
			got, ok := p.OrderRef()
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApproved(t *testing.T) {
	yes, no := true, false
	assert.False(t, (&Payment{}).Approved())
	assert.False(t, (&Payment{TransactionApproved: &no}).Approved())
	assert.True(t, (&Payment{TransactionApproved: &yes}).Approved())
}

func TestMarshalJSONWireShape(t *testing.T) {
	approved := true
	p := Payment{
		AccountID:           "acct",
		Timestamp:           "1583020800",
		Count:               "1",
		Hash:                "abc",
		TransactionID:       strPtr("txn-1"),
		OrderID:             strPtr("42"),
		TransactionApproved: &approved,
		Extensions:          map[string]any{"card_brand": "VISA", KeyOrderID: "shadowed"},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))

	assert.Equal(t, "acct", got[KeyAccountID])
	assert.Equal(t, "txn-1", got[KeyTransactionID])
	assert.Equal(t, "42", got[KeyOrderID])
	assert.Equal(t, "true", got[KeyTransactionApproved])
	assert.Equal(t, "VISA", got["card_brand"])
	assert.NotContains(t, got, KeyAuthorizationCode)
}

func TestRecordStorageCodec(t *testing.T) {
	approved := false
	in := Record{
		OrderID:       42,
		TransactionID: "txn-1",
		Payment: &Payment{
			AccountID:           "acct",
			Timestamp:           "1583020800",
			Count:               "1",
			Hash:                "abc",
			TransactionID:       strPtr("txn-1"),
			AuthorizationCode:   strPtr(""),
			TransactionApproved: &approved,
			Extensions:          map[string]any{"fid": json.Number("7")},
		},
		Status: "failed",
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Record
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotNil(t, out.Payment)
	assert.Equal(t, in.Payment, out.Payment)
	assert.Equal(t, in.Status, out.Status)
}

func TestUnmarshalRejectsNonString(t *testing.T) {
	var p Payment
	err := json.Unmarshal([]byte(`{"account_id": 7}`), &p)
	assert.Error(t, err)
}
