package quota

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTracker(NewRedisCounter(rdb)), mr
}

func TestBucket(t *testing.T) {
	ts := time.Date(2026, 10, 17, 9, 59, 59, 0, time.UTC)
	assert.Equal(t, "2026-10-17T09", Bucket(ts))

	// non UTC input lands in the UTC bucket
	loc := time.FixedZone("UTC+3", 3*3600)
	assert.Equal(t, "2026-10-17T09", Bucket(time.Date(2026, 10, 17, 12, 15, 0, 0, loc)))
}

func TestNextBucketStart(t *testing.T) {
	cases := []struct {
		in   time.Time
		want time.Time
	}{
		{time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC), time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)},
		{time.Date(2026, 10, 17, 9, 59, 59, 999, time.UTC), time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)},
		{time.Date(2026, 10, 17, 23, 30, 0, 0, time.UTC), time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)},
	}
	for _, c := range cases {
		got := NextBucketStart(c.in)
		assert.True(t, c.want.Equal(got), "in=%s got=%s", c.in, got)
		assert.NotEqual(t, Bucket(c.in), Bucket(got))
	}
}

func TestTryConsume_HardCap(t *testing.T) {
	tr, mr := newTracker(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		n, ok, err := tr.TryConsume(ctx, 7, "2026-10-17T09", 3)
		require.NoError(t, err)
		assert.Equal(t, int64(i), n)
		assert.True(t, ok)
	}
	n, ok, err := tr.TryConsume(ctx, 7, "2026-10-17T09", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.False(t, ok)

	assert.Equal(t, time.Hour, mr.TTL(Key(7, "2026-10-17T09")))
}

func TestTryConsume_PartitionedBySenderAndBucket(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	_, ok, err := tr.TryConsume(ctx, 1, "2026-10-17T09", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	_, ok, _ = tr.TryConsume(ctx, 2, "2026-10-17T09", 1)
	assert.True(t, ok, "other sender has its own counter")

	_, ok, _ = tr.TryConsume(ctx, 1, "2026-10-17T10", 1)
	assert.True(t, ok, "next hour starts from zero")

	_, ok, _ = tr.TryConsume(ctx, 1, "2026-10-17T09", 1)
	assert.False(t, ok)
}

func TestTryConsume_ExpiryResetsBucket(t *testing.T) {
	tr, mr := newTracker(t)
	ctx := context.Background()

	_, ok, _ := tr.TryConsume(ctx, 1, "b", 1)
	require.True(t, ok)
	_, ok, _ = tr.TryConsume(ctx, 1, "b", 1)
	require.False(t, ok)

	// a later increment must not push the expiry out
	mr.FastForward(30 * time.Minute)
	_, _, _ = tr.TryConsume(ctx, 1, "b", 1)
	assert.Equal(t, 30*time.Minute, mr.TTL(Key(1, "b")))

	mr.FastForward(30 * time.Minute)
	n, ok, err := tr.TryConsume(ctx, 1, "b", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.True(t, ok)
}

func TestTryConsume_ConcurrentCallersNeverExceedLimit(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	const limit = 10
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := tr.TryConsume(ctx, 99, "2026-10-17T09", limit)
			if err == nil && ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(limit), allowed.Load())
}

func TestTryConsume_StoreDown(t *testing.T) {
	tr, mr := newTracker(t)
	mr.Close()

	_, ok, err := tr.TryConsume(context.Background(), 1, "b", 5)
	assert.Error(t, err)
	assert.False(t, ok)
}
