package plugin

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/bookkeeper/order"
	"github.com/DataONEorg/bookkeeper/payment"
	"github.com/DataONEorg/bookkeeper/quota"
)

type recorder struct {
	name string
	mu   sync.Mutex
	seen []string
	fail bool
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) add(s string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, s)
	if r.fail {
		return errors.New("boom")
	}
	return nil
}

func (r *recorder) OnOrderPaid(_ context.Context, _ *order.Order, _ *payment.Payment) error {
	return r.add("paid")
}

func (r *recorder) OnQuotaReserved(_ context.Context, _ *quota.Quota, _ int64) error {
	return r.add("reserved")
}

func (r *recorder) OnReconciled(_ context.Context, _ int64, status string, _ int, _ time.Duration) error {
	return r.add("reconciled:" + status)
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnShutdown(context.Context) error {
	time.Sleep(200 * time.Millisecond)
	return nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&recorder{name: "a"}))
	assert.Error(t, r.Register(&recorder{name: "a"}))
	assert.Equal(t, 1, r.Count())
	assert.NotNil(t, r.Get("a"))
	assert.Nil(t, r.Get("missing"))
}

func TestEmitDispatchesToImplementers(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{name: "rec"}
	require.NoError(t, r.Register(rec))
	require.NoError(t, r.Register(slow{}))

	ctx := context.Background()
	r.EmitQuotaReserved(ctx, &quota.Quota{}, 1)
	r.EmitReconciled(ctx, 42, "paid", 0, time.Millisecond)
	r.EmitOrderFailed(ctx, &order.Order{}, nil)

	assert.Equal(t, []string{"reserved", "reconciled:paid"}, rec.seen)
}

func TestEmitSwallowsPluginErrors(t *testing.T) {
	r := NewRegistry()
	rec := &recorder{name: "rec", fail: true}
	require.NoError(t, r.Register(rec))

	r.EmitQuotaReserved(context.Background(), &quota.Quota{}, 1)
	assert.Len(t, rec.seen, 1)
}

func TestEmitTimesOutSlowPlugins(t *testing.T) {
	r := NewRegistry().WithTimeout(20 * time.Millisecond)
	require.NoError(t, r.Register(slow{}))

	start := time.Now()
	r.EmitShutdown(context.Background())
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestImplementedInterfaces(t *testing.T) {
	got := implementedInterfaces(&recorder{name: "rec"})
	assert.ElementsMatch(t, []string{"OnOrderPaid", "OnQuotaReserved", "OnReconciled"}, got)
}
