package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
)

const selectEmail = `
	SELECT e.id, e.sender_id, e.to_address, e.subject, e.body, e.scheduled_at,
	       e.status, e.sent_at, COALESCE(e.last_error, ''), e.created_at,
	       s.id, s.email, s.name, s.created_at
	FROM emails e
	JOIN senders s ON s.id = e.sender_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(r rowScanner) (campaign.Email, error) {
	var (
		e      campaign.Email
		snd    campaign.Sender
		status string
		sentAt sql.NullTime
	)
	err := r.Scan(&e.ID, &e.SenderID, &e.To, &e.Subject, &e.Body, &e.ScheduledAt,
		&status, &sentAt, &e.LastError, &e.CreatedAt,
		&snd.ID, &snd.Email, &snd.Name, &snd.CreatedAt)
	if err != nil {
		return campaign.Email{}, err
	}
	e.Status = campaign.Status(status)
	if sentAt.Valid {
		t := sentAt.Time
		e.SentAt = &t
	}
	e.Sender = &snd
	return e, nil
}

func (s *Store) InsertEmail(ctx context.Context, tx *sql.Tx, e campaign.Email) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO emails (sender_id, to_address, subject, body, scheduled_at, status)
		VALUES ($1,$2,$3,$4,$5,'PENDING') RETURNING id
	`, e.SenderID, e.To, e.Subject, e.Body, e.ScheduledAt).Scan(&id)
	return id, err
}

func (s *Store) GetEmail(ctx context.Context, id int64) (campaign.Email, error) {
	e, err := scanEmail(s.DB.QueryRowContext(ctx, selectEmail+` WHERE e.id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Email{}, ErrNotFound
	}
	return e, err
}

func (s *Store) ListEmailsByStatus(ctx context.Context, status campaign.Status, limit, offset int) ([]campaign.Email, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	order := "e.id DESC"
	switch status {
	case campaign.StatusPending:
		order = "e.scheduled_at ASC, e.id ASC"
	case campaign.StatusSent:
		order = "e.sent_at DESC, e.id DESC"
	}

	rows, err := s.DB.QueryContext(ctx,
		selectEmail+` WHERE e.status = $1 ORDER BY `+order+` LIMIT $2 OFFSET $3`,
		string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []campaign.Email{}
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkEmailSent moves a PENDING email to SENT and stamps sent_at.
func (s *Store) MarkEmailSent(ctx context.Context, id int64, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE emails
		   SET status='SENT', sent_at=$2, last_error=NULL
		 WHERE id=$1 AND status='PENDING'
	`, id, at)
	return checkTransition(res, err)
}

// MarkEmailFailed moves a PENDING email to FAILED.
func (s *Store) MarkEmailFailed(ctx context.Context, id int64, lastErr string) error {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE emails
		   SET status='FAILED', last_error=$2
		 WHERE id=$1 AND status='PENDING'
	`, id, lastErr)
	return checkTransition(res, err)
}

// RecordEmailError keeps the latest transport error on a still pending email.
func (s *Store) RecordEmailError(ctx context.Context, id int64, lastErr string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE emails SET last_error=$2 WHERE id=$1 AND status='PENDING'
	`, id, lastErr)
	return err
}

func checkTransition(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

type EmailStats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

func (s *Store) GetEmailStats(ctx context.Context) (EmailStats, error) {
	var st EmailStats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  COUNT(*)                                         AS total,
		  COUNT(*) FILTER (WHERE status='PENDING')         AS pending,
		  COUNT(*) FILTER (WHERE status='SENT')            AS sent,
		  COUNT(*) FILTER (WHERE status='FAILED')          AS failed
		FROM emails
	`).Scan(&st.Total, &st.Pending, &st.Sent, &st.Failed)
	if err != nil {
		return EmailStats{}, err
	}
	return st, nil
}
