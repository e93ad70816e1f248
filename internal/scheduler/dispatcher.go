// Package scheduler fires durable delivery jobs at or after their due time.
//
// A Dispatcher owns three kinds of goroutines: one poller that claims due jobs
// from the Queue, a fixed pool of workers that run the Executor, and one
// supervisor that receives every Result and applies the job state machine.
// Execution never touches job bookkeeping; the supervisor is the only writer of
// job state.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/pkg/metrics"
)

// Queue is the durable delayed queue. AcquireDueJobs must hand a job to at
// most one caller while its lease is live. Each claimed job is held for lease
// plus its own DelayBetween, since the worker keeps the job through the pause.
type Queue interface {
	AcquireDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]campaign.DeliveryJob, error)
	RescheduleJob(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastErr string) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
}

type Executor interface {
	Execute(ctx context.Context, job campaign.DeliveryJob) Result
}

type EventPublisher interface {
	Publish(ctx context.Context, v any) error
}

type Config struct {
	Concurrency  int
	PollInterval time.Duration
	Lease        time.Duration
	Policy       Policy
}

func (c *Config) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 5 * time.Minute
	}
	if c.Policy.BaseDelay <= 0 {
		c.Policy = DefaultPolicy()
	}
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithEvents(p EventPublisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// WithObserver registers a callback invoked by the supervisor after each
// transition has been persisted.
func WithObserver(fn func(campaign.DeliveryJob, Result, Transition)) Option {
	return func(d *Dispatcher) { d.observe = fn }
}

type Dispatcher struct {
	queue   Queue
	exec    Executor
	events  EventPublisher
	cfg     Config
	log     *zap.SugaredLogger
	now     func() time.Time
	observe func(campaign.DeliveryJob, Result, Transition)

	inflight atomic.Int64
	wake     chan struct{}
	deferLog rate.Sometimes
}

type completion struct {
	job      campaign.DeliveryJob
	res      Result
	worker   int
	started  time.Time
	finished time.Time
}

func New(q Queue, exec Executor, cfg Config, opts ...Option) *Dispatcher {
	cfg.setDefaults()
	d := &Dispatcher{
		queue:    q,
		exec:     exec,
		cfg:      cfg,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		deferLog: rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = logx.Named("scheduler")
	}
	return d
}

// Run polls until ctx is cancelled, then lets workers finish the jobs they
// hold and drains the supervisor before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	jobs := make(chan campaign.DeliveryJob, d.cfg.Concurrency)
	results := make(chan completion, d.cfg.Concurrency)

	var workers sync.WaitGroup
	for i := 0; i < d.cfg.Concurrency; i++ {
		workers.Add(1)
		go func(idx int) {
			defer workers.Done()
			d.worker(ctx, idx, jobs, results)
		}(i)
	}

	supervised := make(chan struct{})
	go func() {
		defer close(supervised)
		for c := range results {
			d.record(c)
		}
	}()

	d.log.Infow("dispatcher_started",
		"concurrency", d.cfg.Concurrency,
		"poll_interval", d.cfg.PollInterval.String(),
		"lease", d.cfg.Lease.String(),
		"max_attempts", d.cfg.Policy.MaxAttempts,
	)

	d.poll(ctx, jobs)

	close(jobs)
	workers.Wait()
	close(results)
	<-supervised

	d.log.Infow("dispatcher_stopped")
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (d *Dispatcher) poll(ctx context.Context, jobs chan<- campaign.DeliveryJob) {
	t := time.NewTicker(d.cfg.PollInterval)
	defer t.Stop()
	for {
		d.pollOnce(ctx, jobs)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-d.wake:
		}
	}
}

// pollOnce claims at most as many jobs as there are idle workers, so a claimed
// job never waits behind a busy pool while its lease runs.
func (d *Dispatcher) pollOnce(ctx context.Context, jobs chan<- campaign.DeliveryJob) int {
	free := d.cfg.Concurrency - int(d.inflight.Load())
	if free <= 0 {
		return 0
	}
	claimed, err := d.queue.AcquireDueJobs(ctx, d.now(), free, d.cfg.Lease)
	if err != nil {
		if ctx.Err() == nil {
			d.log.Errorw("acquire_due_jobs_error", "error", err)
		}
		return 0
	}
	for _, j := range claimed {
		d.inflight.Add(1)
		metrics.JobsInFlight.Inc()
		metrics.JobsAcquired.Inc()
		jobs <- j
	}
	return len(claimed)
}

func (d *Dispatcher) worker(ctx context.Context, idx int, jobs <-chan campaign.DeliveryJob, results chan<- completion) {
	// jobs already claimed must run even when shutdown started
	execCtx := context.WithoutCancel(ctx)
	for job := range jobs {
		t0 := time.Now()
		start := d.now()
		res := d.exec.Execute(execCtx, job)
		results <- completion{job: job, res: res, worker: idx, started: start, finished: d.now()}

		metrics.WorkerProcessDuration.Observe(time.Since(t0).Seconds())
		metrics.JobsInFlight.Dec()
		d.inflight.Add(-1)
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

func (d *Dispatcher) record(c completion) {
	job := c.job
	tr := d.cfg.Policy.Next(job, c.res, c.finished)
	metrics.JobOutcomes.WithLabelValues(c.res.Outcome.String()).Inc()

	fields := []any{
		"job_id", job.ID,
		"email_id", job.EmailID,
		"sender_id", job.SenderID,
		"worker", c.worker,
		"outcome", c.res.Outcome.String(),
		"state", tr.State,
		"attempts", tr.Attempts,
	}
	errMsg := ""
	if c.res.Err != nil {
		errMsg = c.res.Err.Error()
		fields = append(fields, "error", errMsg)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if tr.Terminal() {
		err = d.queue.DeleteJob(ctx, job.ID)
	} else {
		err = d.queue.RescheduleJob(ctx, job.ID, tr.DueAt, tr.Attempts, errMsg)
		fields = append(fields, "next_due", tr.DueAt)
	}
	if err != nil {
		// the lease will expire and the job is picked up again
		d.log.Errorw("job_state_persist_error", append(fields, "persist_error", err)...)
	}

	switch tr.State {
	case campaign.JobDelivered:
		d.log.Infow("job_delivered", fields...)
	case campaign.JobDeferred:
		metrics.QuotaDeferrals.Inc()
		d.log.Debugw("job_deferred", fields...)
		d.deferLog.Do(func() { d.log.Infow("quota_deferred", fields...) })
	case campaign.JobRetryScheduled:
		d.log.Infow("job_retry_scheduled", fields...)
	case campaign.JobFailedPermanent:
		metrics.JobsFailedPermanent.Inc()
		d.log.Warnw("job_failed_permanent", fields...)
	}

	d.publish(ctx, job, c, tr, errMsg)

	if d.observe != nil {
		d.observe(job, c.res, tr)
	}
}

func (d *Dispatcher) publish(ctx context.Context, job campaign.DeliveryJob, c completion, tr Transition, errMsg string) {
	if d.events == nil {
		return
	}
	ev := campaign.DeliveryEvent{
		JobID:    job.ID,
		EmailID:  job.EmailID,
		SenderID: job.SenderID,
		Outcome:  c.res.Outcome.String(),
		State:    tr.State,
		Attempts: tr.Attempts,
		Error:    errMsg,
		At:       c.finished,
	}
	if !tr.Terminal() {
		due := tr.DueAt
		ev.NextDue = &due
	}
	if err := d.events.Publish(ctx, ev); err != nil {
		d.log.Warnw("event_publish_error", "job_id", job.ID, "error", err)
	}
}
