package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/scheduler"
)

func newJob(emailID int64) campaign.DeliveryJob {
	return campaign.DeliveryJob{
		ID:          uuid.New(),
		EmailID:     emailID,
		SenderID:    1,
		HourlyLimit: 10,
		MaxAttempts: 3,
	}
}

func newExec(t *testing.T, st Store, q Quota, tr *fakeTransport, opts ...Option) *Executor {
	opts = append([]Option{WithLogger(zaptest.NewLogger(t).Sugar())}, opts...)
	return NewExecutor(st, q, tr, opts...)
}

func TestExecute_Sends(t *testing.T) {
	st := newMemStore(pendingEmail(1, "a@x.com"))
	tr := &fakeTransport{}
	now := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	q := &fakeQuota{}
	ex := newExec(t, st, q, tr, WithClock(func() time.Time { return now }))

	res := ex.Execute(context.Background(), newJob(1))

	assert.Equal(t, scheduler.OutcomeDelivered, res.Outcome)
	assert.NoError(t, res.Err)
	sent := tr.sentMails()
	require.Len(t, sent, 1)
	assert.Equal(t, "from@example.com", sent[0].msg.From)
	assert.Equal(t, "a@x.com", sent[0].msg.To)
	assert.Equal(t, "Hi", sent[0].msg.Subject)
	assert.Equal(t, "Body", sent[0].msg.Body)

	e := st.email(1)
	assert.Equal(t, campaign.StatusSent, e.Status)
	require.NotNil(t, e.SentAt)
	assert.True(t, now.Equal(*e.SentAt))
	assert.Equal(t, []string{"2026-10-17T09"}, q.buckets)
}

func TestExecute_QuotaRejectedDefers(t *testing.T) {
	st := newMemStore(pendingEmail(1, "a@x.com"), pendingEmail(2, "b@x.com"))
	tr := &fakeTransport{}
	ex := newExec(t, st, &fakeQuota{}, tr)

	j1, j2 := newJob(1), newJob(2)
	j1.HourlyLimit, j2.HourlyLimit = 1, 1

	assert.Equal(t, scheduler.OutcomeDelivered, ex.Execute(context.Background(), j1).Outcome)
	res := ex.Execute(context.Background(), j2)

	assert.Equal(t, scheduler.OutcomeDeferred, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Equal(t, 1, tr.callCount())
	assert.Equal(t, campaign.StatusPending, st.email(2).Status)
	assert.Nil(t, st.email(2).SentAt)
}

func TestExecute_DeferralCarriesBucketRollover(t *testing.T) {
	st := newMemStore(pendingEmail(1, "a@x.com"))
	checked := time.Date(2026, 10, 17, 9, 59, 59, 900_000_000, time.UTC)
	ex := newExec(t, st, &fakeQuota{}, &fakeTransport{}, WithClock(func() time.Time { return checked }))

	j := newJob(1)
	j.HourlyLimit = 0
	res := ex.Execute(context.Background(), j)

	assert.Equal(t, scheduler.OutcomeDeferred, res.Outcome)
	assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), res.NotBefore)

	tr := scheduler.DefaultPolicy().Next(j, res, checked.Add(200*time.Millisecond))
	assert.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), tr.DueAt)
}

func TestExecute_IdempotentForSentEmail(t *testing.T) {
	st := newMemStore(pendingEmail(1, "a@x.com"))
	tr := &fakeTransport{}
	ex := newExec(t, st, &fakeQuota{}, tr)
	job := newJob(1)

	require.Equal(t, scheduler.OutcomeDelivered, ex.Execute(context.Background(), job).Outcome)
	sentAt := *st.email(1).SentAt

	res := ex.Execute(context.Background(), job)
	assert.Equal(t, scheduler.OutcomeDelivered, res.Outcome)
	assert.Equal(t, 1, tr.callCount(), "second run must not call the transport")
	assert.Equal(t, campaign.StatusSent, st.email(1).Status)
	assert.True(t, sentAt.Equal(*st.email(1).SentAt))
}

func TestExecute_MissingEmailIsNoop(t *testing.T) {
	tr := &fakeTransport{}
	ex := newExec(t, newMemStore(), &fakeQuota{}, tr)

	res := ex.Execute(context.Background(), newJob(404))
	assert.Equal(t, scheduler.OutcomeDelivered, res.Outcome)
	assert.Equal(t, 0, tr.callCount())
}

func TestExecute_TransportFailureRetriesThenFails(t *testing.T) {
	st := newMemStore(pendingEmail(1, "a@x.com"))
	tr := &fakeTransport{err: errors.New("dial tcp: connection refused")}
	ex := newExec(t, st, &fakeQuota{}, tr)
	job := newJob(1)

	res := ex.Execute(context.Background(), job)
	assert.Equal(t, scheduler.OutcomeRetry, res.Outcome)
	assert.Error(t, res.Err)
	e := st.email(1)
	assert.Equal(t, campaign.StatusPending, e.Status, "email stays pending while attempts remain")
	assert.Contains(t, e.LastError, "connection refused")

	job.Attempts = 2
	res = ex.Execute(context.Background(), job)
	assert.Equal(t, scheduler.OutcomePermanentFailure, res.Outcome)
	e = st.email(1)
	assert.Equal(t, campaign.StatusFailed, e.Status)
	assert.Nil(t, e.SentAt)
}

func TestExecute_RetryThenSuccessEndsSent(t *testing.T) {
	st := newMemStore(pendingEmail(1, "a@x.com"))
	tr := &fakeTransport{err: errors.New("451 temporary")}
	ex := newExec(t, st, &fakeQuota{}, tr)
	job := newJob(1)

	require.Equal(t, scheduler.OutcomeRetry, ex.Execute(context.Background(), job).Outcome)

	tr.mu.Lock()
	tr.err = nil
	tr.mu.Unlock()
	job.Attempts = 1
	require.Equal(t, scheduler.OutcomeDelivered, ex.Execute(context.Background(), job).Outcome)

	e := st.email(1)
	assert.Equal(t, campaign.StatusSent, e.Status)
	assert.Empty(t, e.LastError)
}

func TestExecute_SendTimeoutIsTransportFailure(t *testing.T) {
	st := newMemStore(pendingEmail(1, "a@x.com"))
	tr := &fakeTransport{block: true}
	ex := newExec(t, st, &fakeQuota{}, tr, WithSendTimeout(30*time.Millisecond))

	res := ex.Execute(context.Background(), newJob(1))
	assert.Equal(t, scheduler.OutcomeRetry, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

func TestExecute_InfrastructureErrorsRetry(t *testing.T) {
	t.Run("quota store down", func(t *testing.T) {
		tr := &fakeTransport{}
		ex := newExec(t, newMemStore(pendingEmail(1, "a@x.com")), &fakeQuota{err: errors.New("redis: connection refused")}, tr)
		res := ex.Execute(context.Background(), newJob(1))
		assert.Equal(t, scheduler.OutcomeRetry, res.Outcome)
		assert.Equal(t, 0, tr.callCount())
	})

	t.Run("database down", func(t *testing.T) {
		st := newMemStore(pendingEmail(1, "a@x.com"))
		st.loadErr = errors.New("pq: too many connections")
		tr := &fakeTransport{}
		ex := newExec(t, st, &fakeQuota{}, tr)
		res := ex.Execute(context.Background(), newJob(1))
		assert.Equal(t, scheduler.OutcomeRetry, res.Outcome)
		assert.Equal(t, 0, tr.callCount())
	})
}

func TestExecute_PausesOnlyAfterSuccess(t *testing.T) {
	t.Run("success holds the caller", func(t *testing.T) {
		st := newMemStore(pendingEmail(1, "a@x.com"))
		ex := newExec(t, st, &fakeQuota{}, &fakeTransport{})
		job := newJob(1)
		job.DelayBetweenMs = 2000

		start := time.Now()
		res := ex.Execute(context.Background(), job)
		assert.Equal(t, scheduler.OutcomeDelivered, res.Outcome)
		assert.GreaterOrEqual(t, time.Since(start), 2000*time.Millisecond)
	})

	t.Run("failure returns at once", func(t *testing.T) {
		st := newMemStore(pendingEmail(1, "a@x.com"))
		ex := newExec(t, st, &fakeQuota{}, &fakeTransport{err: errors.New("boom")})
		job := newJob(1)
		job.DelayBetweenMs = 2000

		start := time.Now()
		ex.Execute(context.Background(), job)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})
}
