// Package delivery runs a single delivery attempt for a job: quota check,
// idempotence check, transport send and the email status update.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/mailer"
	"github.com/Mutter0815/MailScheduler/internal/quota"
	"github.com/Mutter0815/MailScheduler/internal/scheduler"
	"github.com/Mutter0815/MailScheduler/internal/store"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/pkg/metrics"
)

type Store interface {
	GetEmail(ctx context.Context, id int64) (campaign.Email, error)
	MarkEmailSent(ctx context.Context, id int64, at time.Time) error
	MarkEmailFailed(ctx context.Context, id int64, lastErr string) error
	RecordEmailError(ctx context.Context, id int64, lastErr string) error
}

type Quota interface {
	TryConsume(ctx context.Context, senderID int64, bucket string, hourlyLimit int) (int64, bool, error)
}

type Executor struct {
	store       Store
	quota       Quota
	transport   mailer.Transport
	sendTimeout time.Duration
	now         func() time.Time
	log         *zap.SugaredLogger
}

type Option func(*Executor)

func WithSendTimeout(d time.Duration) Option {
	return func(e *Executor) { e.sendTimeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) { e.log = l }
}

func NewExecutor(st Store, q Quota, tr mailer.Transport, opts ...Option) *Executor {
	e := &Executor{
		store:       st,
		quota:       q,
		transport:   tr,
		sendTimeout: 30 * time.Second,
		now:         time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logx.Named("delivery")
	}
	return e
}

var _ scheduler.Executor = (*Executor)(nil)

// Execute performs one attempt. Email status only moves forward:
// PENDING -> SENT on success, PENDING -> FAILED once the job has no attempts
// left. Earlier failures leave the email PENDING and ask for a retry.
func (e *Executor) Execute(ctx context.Context, job campaign.DeliveryJob) scheduler.Result {
	fields := []any{
		"job_id", job.ID,
		"email_id", job.EmailID,
		"sender_id", job.SenderID,
		"attempt", job.Attempts + 1,
	}

	checkedAt := e.now()
	bucket := quota.Bucket(checkedAt)
	count, allowed, err := e.quota.TryConsume(ctx, job.SenderID, bucket, job.HourlyLimit)
	if err != nil {
		return e.fail(ctx, job, err, fields)
	}
	if !allowed {
		e.log.Debugw("quota_exceeded", append(fields, "bucket", bucket, "count", count, "hourly_limit", job.HourlyLimit)...)
		return scheduler.Result{Outcome: scheduler.OutcomeDeferred, NotBefore: quota.NextBucketStart(checkedAt)}
	}

	em, err := e.store.GetEmail(ctx, job.EmailID)
	if errors.Is(err, store.ErrNotFound) {
		e.log.Warnw("email_missing", fields...)
		return scheduler.Result{Outcome: scheduler.OutcomeDelivered}
	}
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("load email: %w", err), fields)
	}
	if em.Status != campaign.StatusPending {
		e.log.Infow("email_already_final", append(fields, "status", em.Status)...)
		return scheduler.Result{Outcome: scheduler.OutcomeDelivered}
	}

	msg := mailer.Message{To: em.To, Subject: em.Subject, Body: em.Body}
	if em.Sender != nil {
		msg.From = em.Sender.Email
		msg.FromName = em.Sender.Name
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	start := time.Now()
	err = e.transport.Send(sendCtx, msg)
	cancel()
	metrics.TransportSendDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return e.fail(ctx, job, err, fields)
	}

	if err := e.store.MarkEmailSent(ctx, em.ID, e.now().UTC()); err != nil {
		if !errors.Is(err, store.ErrNotPending) {
			// delivered but not recorded; a retry may send it again
			return e.fail(ctx, job, fmt.Errorf("mark sent: %w", err), fields)
		}
		e.log.Warnw("mark_sent_conflict", fields...)
	}
	e.log.Infow("send_success", append(fields, "to", em.To)...)

	if d := job.DelayBetween(); d > 0 {
		pause(ctx, d)
	}
	return scheduler.Result{Outcome: scheduler.OutcomeDelivered}
}

func (e *Executor) fail(ctx context.Context, job campaign.DeliveryJob, cause error, fields []any) scheduler.Result {
	fields = append(fields, "error", cause)

	if job.FinalAttempt() {
		if err := e.store.MarkEmailFailed(ctx, job.EmailID, cause.Error()); err != nil && !errors.Is(err, store.ErrNotPending) {
			e.log.Errorw("db_mark_failed_error", append(fields, "db_error", err)...)
		}
		e.log.Warnw("send_failed_final", fields...)
		return scheduler.Result{Outcome: scheduler.OutcomePermanentFailure, Err: cause}
	}

	if err := e.store.RecordEmailError(ctx, job.EmailID, cause.Error()); err != nil {
		e.log.Warnw("db_record_error_failed", append(fields, "db_error", err)...)
	}
	e.log.Infow("send_failed", fields...)
	return scheduler.Result{Outcome: scheduler.OutcomeRetry, Err: cause}
}

func pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
