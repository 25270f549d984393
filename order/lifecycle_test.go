package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusPaid, true},
		{StatusCreated, StatusFailed, true},
		{StatusCreated, StatusCanceled, true},
		{StatusCreated, StatusRefunded, false},
		{StatusPaid, StatusRefunded, true},
		{StatusPaid, StatusFailed, false},
		{StatusPaid, StatusCanceled, false},
		{StatusFailed, StatusPaid, false},
		{StatusCanceled, StatusPaid, false},
		{StatusRefunded, StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.False(t, Terminal(StatusCreated))
	assert.False(t, Terminal(StatusPaid))
	assert.True(t, Terminal(StatusFailed))
	assert.True(t, Terminal(StatusCanceled))
	assert.True(t, Terminal(StatusRefunded))
}

func TestAdvance(t *testing.T) {
	created := time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
	paidAt := created.Add(time.Hour)

	o := &Order{ID: 42, Status: StatusCreated, StatusTransitions: map[Status]time.Time{StatusCreated: created}}

	require.True(t, o.Advance(StatusPaid, paidAt))
	assert.Equal(t, StatusPaid, o.Status)
	assert.Equal(t, paidAt, o.StatusTransitions[StatusPaid])
	assert.Equal(t, created, o.StatusTransitions[StatusCreated])

	assert.False(t, o.Advance(StatusFailed, paidAt.Add(time.Hour)))
	assert.Equal(t, StatusPaid, o.Status)
	assert.NotContains(t, o.StatusTransitions, StatusFailed)
}

func TestAdvanceInitializesTransitions(t *testing.T) {
	o := &Order{Status: StatusCreated}
	require.True(t, o.Advance(StatusFailed, time.Now()))
	assert.Len(t, o.StatusTransitions, 1)
}

func TestCloneIsDeep(t *testing.T) {
	parent := int64(1000)
	o := &Order{
		ID:                42,
		Items:             []Item{{Type: ItemSKU, Quantity: 1, Parent: &parent}},
		Charge:            &Charge{ID: "ch_1", Metadata: map[string]string{"k": "v"}},
		StatusTransitions: map[Status]time.Time{StatusCreated: time.Now()},
		Status:            StatusCreated,
	}

	c := o.Clone()
	*c.Items[0].Parent = 7
	c.Charge.Metadata["k"] = "changed"
	c.StatusTransitions[StatusPaid] = time.Now()

	assert.Equal(t, int64(1000), *o.Items[0].Parent)
	assert.Equal(t, "v", o.Charge.Metadata["k"])
	assert.NotContains(t, o.StatusTransitions, StatusPaid)
}

func TestSKUItems(t *testing.T) {
	o := &Order{Items: []Item{
		{Type: ItemTax, Quantity: 1},
		{Type: ItemSKU, Quantity: 2},
		{Type: ItemDiscount, Quantity: 1},
		{Type: ItemSKU, Quantity: 1},
	}}
	items := o.SKUItems()
	require.Len(t, items, 2)
	assert.Equal(t, int64(2), items[0].Quantity)
}
