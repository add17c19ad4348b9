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

func newLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	l := New(rdb, ttl)
	l.retry = 5 * time.Millisecond
	return l, mr
}

func TestLock_SecondOwnerWaitsForRelease(t *testing.T) {
	l, mr := newLocker(t, time.Minute)

	unlock, err := l.Lock(context.Background(), "order:o1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("lock:order:o1"))
	assert.Equal(t, time.Minute, mr.TTL("lock:order:o1"))

	acquired := make(chan func(), 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		second, err := l.Lock(ctx, "order:o1")
		if err == nil {
			acquired <- second
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second owner acquired a held lock")
	case <-time.After(30 * time.Millisecond):
	}

	unlock()
	select {
	case second, ok := <-acquired:
		require.True(t, ok, "second owner gave up")
		second()
	case <-time.After(time.Second):
		t.Fatal("second owner never acquired the released lock")
	}
	assert.False(t, mr.Exists("lock:order:o1"))
}

func TestLock_TimesOutWithErrNotAcquired(t *testing.T) {
	l, _ := newLocker(t, time.Minute)

	unlock, err := l.Lock(context.Background(), "order:o2")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "order:o2")
	require.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLock_IndependentKeysDoNotContend(t *testing.T) {
	l, _ := newLocker(t, time.Minute)

	a, err := l.Lock(context.Background(), "order:a")
	require.NoError(t, err)
	defer a()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	b, err := l.Lock(ctx, "order:b")
	require.NoError(t, err)
	b()
}

func TestUnlock_AfterExpiryKeepsNewOwnersKey(t *testing.T) {
	l, mr := newLocker(t, time.Second)

	stale, err := l.Lock(context.Background(), "order:o3")
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists("lock:order:o3"))

	current, err := l.Lock(context.Background(), "order:o3")
	require.NoError(t, err)
	owner, err := mr.Get("lock:order:o3")
	require.NoError(t, err)

	stale()
	got, err := mr.Get("lock:order:o3")
	require.NoError(t, err, "expired holder released the new owner's lock")
	assert.Equal(t, owner, got)

	current()
	assert.False(t, mr.Exists("lock:order:o3"))
}

func TestLock_BackendErrorIsNotContention(t *testing.T) {
	l, mr := newLocker(t, time.Minute)
	mr.SetError("ERR backend unavailable")

	_, err := l.Lock(context.Background(), "order:o4")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotAcquired)
}
