package bookkeeper_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataONEorg/bookkeeper"
	"github.com/DataONEorg/bookkeeper/quota"
)

const testSubject = "CN=Jane,O=Example"

func portalQuota(soft, hard, usage int64) *quota.Quota {
	return &quota.Quota{
		ID:        1,
		QuotaType: "portal",
		Feature:   "custom_portal",
		SoftLimit: soft,
		HardLimit: hard,
		Usage:     usage,
		Unit:      "portal",
		Subject:   testSubject,
		Name:      "Organization",
	}
}

func TestCheckAndReserve(t *testing.T) {
	tests := []struct {
		name      string
		soft      int64
		hard      int64
		usage     int64
		delta     int64
		wantUsage int64
		wantState quota.State
		wantErr   error
	}{
		{"within soft limit", 3, 5, 0, 2, 2, quota.StateOK, nil},
		{"reaches soft limit", 3, 5, 1, 2, 3, quota.StateOK, nil},
		{"crosses soft limit", 3, 5, 2, 2, 4, quota.StateSoftLimitExceeded, nil},
		{"reaches hard limit", 3, 5, 2, 3, 5, quota.StateSoftLimitExceeded, nil},
		{"exceeds hard limit", 3, 3, 2, 2, 2, "", bookkeeper.ErrHardLimitExceeded},
		{"zero delta on full quota", 3, 3, 3, 0, 3, quota.StateOK, nil},
		{"negative delta", 3, 3, 0, -1, 0, "", bookkeeper.ErrInvalidDelta},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bk, _ := newTestBookkeeper(t)
			ctx := context.Background()
			createQuota(t, bk, portalQuota(tt.soft, tt.hard, tt.usage))

			res, err := bk.CheckAndReserve(ctx, testSubject, "custom_portal", tt.delta)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, res)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantUsage, res.Usage)
				assert.Equal(t, tt.wantState, res.State)
			}

			q, err := bk.GetQuotaFor(ctx, testSubject, "custom_portal")
			require.NoError(t, err)
			assert.Equal(t, tt.wantUsage, q.Usage)
		})
	}
}

func TestCheckAndReserveHardLimitError(t *testing.T) {
	bk, _ := newTestBookkeeper(t)
	createQuota(t, bk, portalQuota(3, 3, 2))

	_, err := bk.CheckAndReserve(context.Background(), testSubject, "custom_portal", 2)

	var hle *bookkeeper.HardLimitError
	require.True(t, errors.As(err, &hle))
	assert.Equal(t, testSubject, hle.Subject)
	assert.Equal(t, "custom_portal", hle.Feature)
	assert.Equal(t, int64(2), hle.Usage)
	assert.Equal(t, int64(2), hle.Delta)
	assert.Equal(t, int64(3), hle.HardLimit)
	assert.True(t, bookkeeper.IsQuotaError(err))
}

func TestCheckAndReserveMissingQuota(t *testing.T) {
	bk, _ := newTestBookkeeper(t)

	_, err := bk.CheckAndReserve(context.Background(), testSubject, "custom_portal", 1)
	assert.ErrorIs(t, err, bookkeeper.ErrQuotaNotFound)
	assert.True(t, bookkeeper.IsNotFound(err))
}

func TestReleaseClampsAtZero(t *testing.T) {
	bk, _ := newTestBookkeeper(t)
	ctx := context.Background()
	createQuota(t, bk, portalQuota(3, 5, 2))

	res, err := bk.Release(ctx, testSubject, "custom_portal", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Usage)
	assert.Equal(t, quota.StateOK, res.State)

	res, err = bk.Release(ctx, testSubject, "custom_portal", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Usage)

	_, err = bk.Release(ctx, testSubject, "custom_portal", -1)
	assert.ErrorIs(t, err, bookkeeper.ErrInvalidDelta)
}

func TestReserveThenReleaseRestoresUsage(t *testing.T) {
	bk, _ := newTestBookkeeper(t)
	ctx := context.Background()
	createQuota(t, bk, portalQuota(3, 5, 1))

	_, err := bk.CheckAndReserve(ctx, testSubject, "custom_portal", 3)
	require.NoError(t, err)
	res, err := bk.Release(ctx, testSubject, "custom_portal", 3)
	require.NoError(t, err)

	assert.Equal(t, int64(1), res.Usage)
}

func TestQuotaUsageJournal(t *testing.T) {
	bk, _ := newTestBookkeeper(t)
	ctx := context.Background()
	q := createQuota(t, bk, portalQuota(1, 5, 0))

	_, err := bk.CheckAndReserve(ctx, testSubject, "custom_portal", 2, bookkeeper.WithReference("txn-1"))
	require.NoError(t, err)
	_, err = bk.Release(ctx, testSubject, "custom_portal", 3, bookkeeper.WithReference("txn-2"))
	require.NoError(t, err)
	_, err = bk.CheckAndReserve(ctx, testSubject, "custom_portal", 9)
	require.Error(t, err)

	events, err := bk.ListUsage(ctx, q.ID, quota.UsageQueryOpts{})
	require.NoError(t, err)
	require.Len(t, events, 2, "rejected reservations are not journaled")

	assert.Equal(t, int64(2), events[0].Delta)
	assert.Equal(t, int64(2), events[0].UsageAfter)
	assert.Equal(t, quota.StateSoftLimitExceeded, events[0].State)
	assert.Equal(t, "txn-1", events[0].Reference)

	assert.Equal(t, int64(-2), events[1].Delta, "journal records the clamped amount")
	assert.Equal(t, int64(0), events[1].UsageAfter)
	assert.Equal(t, "txn-2", events[1].Reference)
}

func TestConcurrentReservationsNeverExceedHardLimit(t *testing.T) {
	bk, _ := newTestBookkeeper(t)
	ctx := context.Background()
	createQuota(t, bk, portalQuota(5, 10, 0))

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := bk.CheckAndReserve(ctx, testSubject, "custom_portal", 1)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, bookkeeper.ErrHardLimitExceeded):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), accepted.Load())
	assert.Equal(t, int64(40), rejected.Load())

	q, err := bk.GetQuotaFor(ctx, testSubject, "custom_portal")
	require.NoError(t, err)
	assert.Equal(t, int64(10), q.Usage)
}

func TestCreateQuotaValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(q *quota.Quota)
		want   error
	}{
		{"missing id", func(q *quota.Quota) { q.ID = 0 }, bookkeeper.ErrInvalidInput},
		{"missing subject", func(q *quota.Quota) { q.Subject = " " }, bookkeeper.ErrInvalidInput},
		{"missing feature", func(q *quota.Quota) { q.Feature = "" }, bookkeeper.ErrInvalidInput},
		{"negative limit", func(q *quota.Quota) { q.SoftLimit = -1 }, bookkeeper.ErrInvalidQuota},
		{"soft above hard", func(q *quota.Quota) { q.SoftLimit = 6 }, bookkeeper.ErrInvalidQuota},
		{"usage above hard", func(q *quota.Quota) { q.Usage = 6 }, bookkeeper.ErrInvalidQuota},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bk, _ := newTestBookkeeper(t)
			q := portalQuota(3, 5, 0)
			tt.mutate(q)
			assert.ErrorIs(t, bk.CreateQuota(context.Background(), q), tt.want)
		})
	}
}

func TestCreateQuotaDuplicateSubjectFeature(t *testing.T) {
	bk, _ := newTestBookkeeper(t)
	createQuota(t, bk, portalQuota(3, 5, 0))

	dup := portalQuota(3, 5, 0)
	dup.ID = 2
	assert.ErrorIs(t, bk.CreateQuota(context.Background(), dup), bookkeeper.ErrAlreadyExists)
}

func TestProvisionQuotas(t *testing.T) {
	bk, _ := newTestBookkeeper(t)
	ctx := context.Background()
	require.NoError(t, bk.CreateProduct(ctx, organizationProduct(1000)))

	created, err := bk.ProvisionQuotas(ctx, testSubject, 1000)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "custom_portal", created[0].Feature)
	assert.Equal(t, int64(3), created[0].HardLimit)
	assert.Equal(t, "Organization", created[0].Name)

	again, err := bk.ProvisionQuotas(ctx, testSubject, 1000)
	require.NoError(t, err)
	assert.Empty(t, again)

	_, err = bk.ProvisionQuotas(ctx, testSubject, 9999)
	assert.ErrorIs(t, err, bookkeeper.ErrProductNotFound)

	_, err = bk.ProvisionQuotas(ctx, "", 1000)
	assert.ErrorIs(t, err, bookkeeper.ErrInvalidInput)
}
