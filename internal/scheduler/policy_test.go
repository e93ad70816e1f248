package scheduler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
)

func TestPolicy_Backoff(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	assert.Equal(t, time.Second, p.Backoff(0))
	assert.Equal(t, time.Second, p.Backoff(1))
	assert.Equal(t, 2*time.Second, p.Backoff(2))
	assert.Equal(t, 4*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(4))
	assert.Equal(t, 10*time.Second, p.Backoff(5))
	assert.Equal(t, 10*time.Second, p.Backoff(40))
}

func TestPolicy_Next(t *testing.T) {
	p := DefaultPolicy()
	now := time.Date(2026, 10, 17, 9, 42, 13, 0, time.UTC)
	job := campaign.DeliveryJob{Attempts: 0, MaxAttempts: 3}
	boom := errors.New("smtp down")

	t.Run("delivered", func(t *testing.T) {
		tr := p.Next(job, Result{Outcome: OutcomeDelivered}, now)
		assert.Equal(t, campaign.JobDelivered, tr.State)
		assert.True(t, tr.Terminal())
		assert.Equal(t, 0, tr.Attempts)
	})

	t.Run("deferred goes to next hour and keeps attempts", func(t *testing.T) {
		j := job
		j.Attempts = 1
		tr := p.Next(j, Result{Outcome: OutcomeDeferred}, now)
		assert.Equal(t, campaign.JobDeferred, tr.State)
		assert.False(t, tr.Terminal())
		assert.Equal(t, 1, tr.Attempts)
		assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), tr.DueAt)
	})

	t.Run("deferral recorded after the hour rolled keeps the checked bucket", func(t *testing.T) {
		recorded := time.Date(2026, 10, 17, 10, 0, 0, 100_000_000, time.UTC)
		res := Result{Outcome: OutcomeDeferred, NotBefore: time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)}
		tr := p.Next(job, res, recorded)
		assert.Equal(t, campaign.JobDeferred, tr.State)
		assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), tr.DueAt)
	})

	t.Run("retry backs off", func(t *testing.T) {
		tr := p.Next(job, Result{Outcome: OutcomeRetry, Err: boom}, now)
		assert.Equal(t, campaign.JobRetryScheduled, tr.State)
		assert.Equal(t, 1, tr.Attempts)
		assert.Equal(t, now.Add(time.Second), tr.DueAt)

		j := job
		j.Attempts = 1
		tr = p.Next(j, Result{Outcome: OutcomeRetry, Err: boom}, now)
		assert.Equal(t, 2, tr.Attempts)
		assert.Equal(t, now.Add(2*time.Second), tr.DueAt)
	})

	t.Run("retry on the last attempt is permanent", func(t *testing.T) {
		j := job
		j.Attempts = 2
		tr := p.Next(j, Result{Outcome: OutcomeRetry, Err: boom}, now)
		assert.Equal(t, campaign.JobFailedPermanent, tr.State)
		assert.Equal(t, 3, tr.Attempts)
		assert.True(t, tr.Terminal())
	})

	t.Run("permanent failure", func(t *testing.T) {
		tr := p.Next(job, Result{Outcome: OutcomePermanentFailure, Err: boom}, now)
		assert.Equal(t, campaign.JobFailedPermanent, tr.State)
	})

	t.Run("job without max attempts uses policy", func(t *testing.T) {
		j := campaign.DeliveryJob{Attempts: 2}
		tr := p.Next(j, Result{Outcome: OutcomeRetry, Err: boom}, now)
		assert.Equal(t, campaign.JobFailedPermanent, tr.State)
	})
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "delivered", OutcomeDelivered.String())
	assert.Equal(t, "deferred", OutcomeDeferred.String())
	assert.Equal(t, "retry", OutcomeRetry.String())
	assert.Equal(t, "permanent_failure", OutcomePermanentFailure.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}
