// Package scheduling turns a campaign request into one Email and one
// DeliveryJob per recipient, and serves the read side of the email API.
package scheduling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/store"
	"github.com/Mutter0815/MailScheduler/pkg/logx"
	"github.com/Mutter0815/MailScheduler/pkg/metrics"
)

const DefaultSenderName = "Default Sender"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("email not found")
)

type Store interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	ResolveSender(ctx context.Context, email, name string) (campaign.Sender, error)
	InsertEmail(ctx context.Context, tx *sql.Tx, e campaign.Email) (int64, error)
	InsertJob(ctx context.Context, tx *sql.Tx, j campaign.DeliveryJob) error
	GetEmail(ctx context.Context, id int64) (campaign.Email, error)
	ListEmailsByStatus(ctx context.Context, status campaign.Status, limit, offset int) ([]campaign.Email, error)
	GetEmailStats(ctx context.Context) (store.EmailStats, error)
	CountJobs(ctx context.Context) (int, error)
}

type Stats struct {
	store.EmailStats
	QueuedJobs int `json:"queued_jobs"`
}

type Service struct {
	store       Store
	validate    *validator.Validate
	maxAttempts int
	now         func() time.Time
	newID       func() uuid.UUID
	log         *zap.SugaredLogger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(gen func() uuid.UUID) Option {
	return func(s *Service) { s.newID = gen }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(st Store, maxAttempts int, opts ...Option) *Service {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})

	s := &Service{
		store:       st,
		validate:    v,
		maxAttempts: maxAttempts,
		now:         time.Now,
		newID:       uuid.New,
	}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logx.Named("scheduling")
	}
	return s
}

// Validate checks a request without touching storage.
func (s *Service) Validate(req campaign.ScheduleReq) error {
	var problems []string
	if err := s.validate.Struct(req); err != nil {
		var ves validator.ValidationErrors
		if !errors.As(err, &ves) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, fe := range ves {
			problems = append(problems, describe(fe))
		}
	}
	if req.StartTime.IsZero() {
		problems = append(problems, "start_time is required")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fmt.Sprintf("%s must be a valid email address (got %q)", fe.Field(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}

// ScheduleCampaign creates one PENDING email and one delivery job per
// recipient, each pair in its own transaction. On a failure partway through it
// returns the pairs created so far together with the error.
func (s *Service) ScheduleCampaign(ctx context.Context, req campaign.ScheduleReq) ([]campaign.ScheduledJob, error) {
	if err := s.Validate(req); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.SenderName)
	if name == "" {
		name = DefaultSenderName
	}
	snd, err := s.store.ResolveSender(ctx, req.SenderEmail, name)
	if err != nil {
		return nil, fmt.Errorf("resolve sender: %w", err)
	}

	start := req.StartTime.UTC()
	now := s.now().UTC()
	due := start
	if due.Before(now) {
		due = now
	}

	out := make([]campaign.ScheduledJob, 0, len(req.Recipients))
	for _, to := range req.Recipients {
		jobID := s.newID()
		var emailID int64
		err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
			id, err := s.store.InsertEmail(ctx, tx, campaign.Email{
				SenderID:    snd.ID,
				To:          strings.TrimSpace(to),
				Subject:     req.Subject,
				Body:        req.Body,
				ScheduledAt: start,
				Status:      campaign.StatusPending,
			})
			if err != nil {
				return fmt.Errorf("insert email: %w", err)
			}
			emailID = id
			return s.store.InsertJob(ctx, tx, campaign.DeliveryJob{
				ID:             jobID,
				EmailID:        id,
				SenderID:       snd.ID,
				HourlyLimit:    req.HourlyLimit,
				DelayBetweenMs: req.DelayBetweenEmails,
				MaxAttempts:    s.maxAttempts,
				State:          campaign.JobScheduled,
				DueAt:          due,
			})
		})
		if err != nil {
			s.log.Errorw("schedule_recipient_error",
				"sender_id", snd.ID, "to", to, "created", len(out), "error", err)
			return out, fmt.Errorf("schedule %s: %w", to, err)
		}
		metrics.EmailsScheduledTotal.Inc()
		out = append(out, campaign.ScheduledJob{EmailID: emailID, JobID: jobID})
	}

	s.log.Infow("campaign_scheduled",
		"sender_id", snd.ID,
		"recipients", len(out),
		"start_time", start,
		"due_at", due,
		"hourly_limit", req.HourlyLimit,
		"delay_between_ms", req.DelayBetweenEmails,
	)
	return out, nil
}

// ListByStatus accepts PENDING, SENT or FAILED in any case.
func (s *Service) ListByStatus(ctx context.Context, status string, limit, offset int) ([]campaign.Email, error) {
	st, ok := campaign.ParseStatus(status)
	if !ok {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	return s.store.ListEmailsByStatus(ctx, st, limit, offset)
}

func (s *Service) GetByID(ctx context.Context, id int64) (campaign.Email, error) {
	e, err := s.store.GetEmail(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return campaign.Email{}, ErrNotFound
	}
	return e, err
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	es, err := s.store.GetEmailStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("email stats: %w", err)
	}
	n, err := s.store.CountJobs(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count jobs: %w", err)
	}
	return Stats{EmailStats: es, QueuedJobs: n}, nil
}
