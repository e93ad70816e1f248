package scheduler

import (
	"time"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/quota"
)

// Outcome is what the executor reports for one job firing.
type Outcome int

const (
	OutcomeDelivered Outcome = iota + 1
	OutcomeDeferred
	OutcomeRetry
	OutcomePermanentFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeRetry:
		return "retry"
	case OutcomePermanentFailure:
		return "permanent_failure"
	}
	return "unknown"
}

type Result struct {
	Outcome Outcome
	Err     error
	// NotBefore is set on deferral: the start of the bucket after the one that
	// rejected the job, taken at quota-check time.
	NotBefore time.Time
}

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Hour}
}

// Backoff returns the wait before retry number attempt (1-based):
// BaseDelay, 2*BaseDelay, 4*BaseDelay, ... capped at MaxDelay.
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Transition is the job's next state after one execution. For non-terminal
// states DueAt is when the job becomes eligible again.
type Transition struct {
	From     campaign.JobState
	State    campaign.JobState
	Attempts int
	DueAt    time.Time
}

func (t Transition) Terminal() bool { return t.State.Terminal() }

// Next applies the state machine
//
//	running -> delivered | deferred | retry_scheduled | failed_permanent
//
// Deferral moves the job to the next hour bucket and does not use an attempt.
func (p Policy) Next(job campaign.DeliveryJob, res Result, now time.Time) Transition {
	tr := Transition{From: campaign.JobRunning, Attempts: job.Attempts}

	switch res.Outcome {
	case OutcomeDelivered:
		tr.State = campaign.JobDelivered
	case OutcomeDeferred:
		tr.State = campaign.JobDeferred
		tr.DueAt = res.NotBefore
		if tr.DueAt.IsZero() {
			tr.DueAt = quota.NextBucketStart(now)
		}
	case OutcomeRetry:
		tr.Attempts = job.Attempts + 1
		if tr.Attempts >= p.maxAttempts(job) {
			tr.State = campaign.JobFailedPermanent
			break
		}
		tr.State = campaign.JobRetryScheduled
		tr.DueAt = now.Add(p.Backoff(tr.Attempts))
	default:
		tr.Attempts = job.Attempts + 1
		tr.State = campaign.JobFailedPermanent
	}
	return tr
}

func (p Policy) maxAttempts(job campaign.DeliveryJob) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 1
}
