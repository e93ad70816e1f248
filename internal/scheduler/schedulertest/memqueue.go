// Package schedulertest provides an in-memory Queue for tests.
package schedulertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
)

type entry struct {
	job         campaign.DeliveryJob
	lockedUntil time.Time
}

// MemQueue mirrors the Postgres queue semantics: due scheduled jobs and
// running jobs with an expired lease are claimable; claiming sets a lease.
type MemQueue struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*entry
	deleted  map[uuid.UUID]campaign.DeliveryJob
	acquired map[uuid.UUID]int
}

func NewMemQueue() *MemQueue {
	return &MemQueue{
		jobs:     map[uuid.UUID]*entry{},
		deleted:  map[uuid.UUID]campaign.DeliveryJob{},
		acquired: map[uuid.UUID]int{},
	}
}

func (q *MemQueue) Add(j campaign.DeliveryJob) campaign.DeliveryJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.ID == uuid.Nil {
		j.ID = uuid.New()
	}
	j.State = campaign.JobScheduled
	q.jobs[j.ID] = &entry{job: j}
	return j
}

func (q *MemQueue) AcquireDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]campaign.DeliveryJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*entry
	for _, e := range q.jobs {
		switch e.job.State {
		case campaign.JobScheduled:
			if !e.job.DueAt.After(now) {
				due = append(due, e)
			}
		case campaign.JobRunning:
			if e.lockedUntil.Before(now) {
				due = append(due, e)
			}
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].job.DueAt.Before(due[k].job.DueAt) })
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]campaign.DeliveryJob, 0, len(due))
	for _, e := range due {
		e.job.State = campaign.JobRunning
		e.lockedUntil = now.Add(lease + e.job.DelayBetween())
		q.acquired[e.job.ID]++
		out = append(out, e.job)
	}
	return out, nil
}

func (q *MemQueue) RescheduleJob(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastErr string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return nil
	}
	e.job.State = campaign.JobScheduled
	e.job.DueAt = dueAt
	e.job.Attempts = attempts
	e.job.LastError = lastErr
	e.lockedUntil = time.Time{}
	return nil
}

func (q *MemQueue) DeleteJob(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.jobs[id]; ok {
		q.deleted[id] = e.job
		delete(q.jobs, id)
	}
	return nil
}

// Job returns the live job, if it was not deleted.
func (q *MemQueue) Job(id uuid.UUID) (campaign.DeliveryJob, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[id]
	if !ok {
		return campaign.DeliveryJob{}, false
	}
	return e.job, true
}

func (q *MemQueue) Deleted(id uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.deleted[id]
	return ok
}

func (q *MemQueue) Acquired(id uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.acquired[id]
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
