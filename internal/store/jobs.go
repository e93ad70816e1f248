package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
)

func (s *Store) InsertJob(ctx context.Context, tx *sql.Tx, j campaign.DeliveryJob) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO delivery_jobs (id, email_id, sender_id, hourly_limit, delay_between_ms, attempts, max_attempts, state, due_at)
		VALUES ($1,$2,$3,$4,$5,0,$6,'scheduled',$7)
	`, j.ID, j.EmailID, j.SenderID, j.HourlyLimit, j.DelayBetweenMs, j.MaxAttempts, j.DueAt)
	return err
}

// AcquireDueJobs claims up to limit jobs whose due time has passed, plus running
// jobs whose lease expired (their worker died). Claimed rows are marked running
// and locked until now+lease+delay_between_ms; concurrent pollers skip locked
// rows.
func (s *Store) AcquireDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]campaign.DeliveryJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.DB.QueryContext(ctx, `
		WITH due AS (
			SELECT id
			FROM delivery_jobs
			WHERE (state = 'scheduled' AND due_at <= $1)
			   OR (state = 'running' AND locked_until < $1)
			ORDER BY due_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE delivery_jobs j
		   SET state = 'running',
		       locked_until = $3::timestamptz + j.delay_between_ms * INTERVAL '1 millisecond',
		       updated_at = $1
		  FROM due
		 WHERE j.id = due.id
		RETURNING j.id, j.email_id, j.sender_id, j.hourly_limit, j.delay_between_ms,
		          j.attempts, j.max_attempts, j.state, j.due_at, COALESCE(j.last_error, '')
	`, now, limit, now.Add(lease))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []campaign.DeliveryJob
	for rows.Next() {
		var (
			j     campaign.DeliveryJob
			state string
		)
		if err := rows.Scan(&j.ID, &j.EmailID, &j.SenderID, &j.HourlyLimit, &j.DelayBetweenMs,
			&j.Attempts, &j.MaxAttempts, &state, &j.DueAt, &j.LastError); err != nil {
			return nil, err
		}
		j.State = campaign.JobState(state)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// RescheduleJob puts a job back to scheduled with a new due time.
func (s *Store) RescheduleJob(ctx context.Context, id uuid.UUID, dueAt time.Time, attempts int, lastErr string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE delivery_jobs
		   SET state='scheduled', due_at=$2, attempts=$3, last_error=$4, locked_until=NULL, updated_at=NOW()
		 WHERE id=$1
	`, id, dueAt, attempts, sql.NullString{String: lastErr, Valid: lastErr != ""})
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteJob discards a job that reached a terminal outcome.
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM delivery_jobs WHERE id=$1`, id)
	return err
}

func (s *Store) CountJobs(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM delivery_jobs`).Scan(&n)
	return n, err
}
