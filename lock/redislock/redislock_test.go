package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, opts ...Option) (*Locker, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]Option{WithRetryDelay(5 * time.Millisecond)}, opts...)
	return New(client, opts...), mr
}

func TestLockExcludesSecondHolder(t *testing.T) {
	l, mr := setup(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "bookkeeper:order:42")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:bookkeeper:order:42"))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "bookkeeper:order:42")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, mr.Exists("lock:bookkeeper:order:42"))

	unlock2, err := l.Lock(ctx, "bookkeeper:order:42")
	require.NoError(t, err)
	unlock2()
}

func TestLockWaitsForRelease(t *testing.T) {
	l, _ := setup(t)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := l.Lock(ctx, "k")
		if err == nil {
			u()
		}
		close(acquired)
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held lock")
	default:
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock")
	}
}

func TestLockExpiresAfterTTL(t *testing.T) {
	l, mr := setup(t, WithTTL(time.Second))
	ctx := context.Background()

	stale, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	unlock, err := l.Lock(ctx, "k")
	require.NoError(t, err)

	// The expired holder must not release the new holder's lock.
	stale()
	assert.True(t, mr.Exists("lock:k"))

	unlock()
	assert.False(t, mr.Exists("lock:k"))
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr(), 2, 10*time.Millisecond)
	require.NoError(t, err)
	_ = client.Close()

	_, err = Connect(context.Background(), "not a url", 1, 0)
	assert.ErrorIs(t, err, ErrFailedToParseURL)
}
