// Package quota enforces the per-sender hourly send cap.
//
// Counters live in an external store so every worker process shares them.
// A bucket is one calendar hour in UTC; the first increment into a bucket
// attaches a one hour expiry so stale buckets disappear without a sweep.
package quota

import (
	"context"
	"fmt"
	"time"
)

// BucketTTL is attached to a counter on its first increment.
const BucketTTL = time.Hour

// Counter is an atomic increment-and-expire primitive.
type Counter interface {
	// Incr increments key by one and returns the new value. When the key is
	// created by this call, ttl is attached to it in the same atomic step.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Bucket returns the hour bucket for t, e.g. "2026-10-17T09".
func Bucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// NextBucketStart returns minute 0, second 0 of the hour after t.
func NextBucketStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour).Add(time.Hour)
}

func Key(senderID int64, bucket string) string {
	return fmt.Sprintf("rate-limit:%d:%s", senderID, bucket)
}

type Tracker struct {
	counter Counter
}

func NewTracker(c Counter) *Tracker {
	return &Tracker{counter: c}
}

// TryConsume counts one send for senderID in bucket and reports whether the
// new count is still within hourlyLimit. Rejected attempts are counted too, so
// the bucket stays closed for the rest of the hour.
func (t *Tracker) TryConsume(ctx context.Context, senderID int64, bucket string, hourlyLimit int) (int64, bool, error) {
	n, err := t.counter.Incr(ctx, Key(senderID, bucket), BucketTTL)
	if err != nil {
		return 0, false, fmt.Errorf("quota incr: %w", err)
	}
	return n, n <= int64(hourlyLimit), nil
}
