package campaign

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSent    Status = "SENT"
	StatusFailed  Status = "FAILED"
)

// ParseStatus accepts the upper or lower case form.
func ParseStatus(s string) (Status, bool) {
	switch Status(strings.ToUpper(s)) {
	case StatusPending:
		return StatusPending, true
	case StatusSent:
		return StatusSent, true
	case StatusFailed:
		return StatusFailed, true
	}
	return "", false
}

type Sender struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Email is one delivery unit: a single recipient of a campaign.
type Email struct {
	ID          int64      `json:"id"`
	SenderID    int64      `json:"sender_id"`
	Sender      *Sender    `json:"sender,omitempty"`
	To          string     `json:"to"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Status      Status     `json:"status"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type JobState string

const (
	JobScheduled       JobState = "scheduled"
	JobRunning         JobState = "running"
	JobDelivered       JobState = "delivered"
	JobDeferred        JobState = "deferred"
	JobRetryScheduled  JobState = "retry_scheduled"
	JobFailedPermanent JobState = "failed_permanent"
)

func (s JobState) Terminal() bool {
	return s == JobDelivered || s == JobFailedPermanent
}

// DeliveryJob is the durable work item behind one Email. Pacing parameters are
// copied from the campaign so execution never reads campaign config again.
type DeliveryJob struct {
	ID             uuid.UUID `json:"id"`
	EmailID        int64     `json:"email_id"`
	SenderID       int64     `json:"sender_id"`
	HourlyLimit    int       `json:"hourly_limit"`
	DelayBetweenMs int64     `json:"delay_between_ms"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	State          JobState  `json:"state"`
	DueAt          time.Time `json:"due_at"`
	LastError      string    `json:"last_error,omitempty"`
}

// FinalAttempt reports whether a failure of the current execution exhausts the
// job's attempts.
func (j DeliveryJob) FinalAttempt() bool {
	return j.Attempts+1 >= j.MaxAttempts
}

func (j DeliveryJob) DelayBetween() time.Duration {
	return time.Duration(j.DelayBetweenMs) * time.Millisecond
}

// ScheduleReq is a campaign: one subject/body sent to every recipient.
// DelayBetweenEmails is in milliseconds.
type ScheduleReq struct {
	Subject            string    `json:"subject"               validate:"required"`
	Body               string    `json:"body"                  validate:"required"`
	Recipients         []string  `json:"recipients"            validate:"required,min=1,dive,required,email"`
	StartTime          time.Time `json:"start_time"`
	DelayBetweenEmails int64     `json:"delay_between_emails"  validate:"gte=0"`
	HourlyLimit        int       `json:"hourly_limit"          validate:"gte=1"`
	SenderEmail        string    `json:"sender_email"          validate:"required,email"`
	SenderName         string    `json:"sender_name,omitempty" validate:"omitempty,max=200"`
}

type ScheduledJob struct {
	EmailID int64     `json:"email_id"`
	JobID   uuid.UUID `json:"job_id"`
}

type ScheduleResp struct {
	Message string         `json:"message"`
	Jobs    []ScheduledJob `json:"jobs"`
}

// DeliveryEvent is published after every job execution.
type DeliveryEvent struct {
	JobID    uuid.UUID  `json:"job_id"`
	EmailID  int64      `json:"email_id"`
	SenderID int64      `json:"sender_id"`
	Outcome  string     `json:"outcome"`
	State    JobState   `json:"state"`
	Attempts int        `json:"attempts"`
	NextDue  *time.Time `json:"next_due,omitempty"`
	Error    string     `json:"error,omitempty"`
	At       time.Time  `json:"at"`
}
