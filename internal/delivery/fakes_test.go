package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
	"github.com/Mutter0815/MailScheduler/internal/mailer"
	"github.com/Mutter0815/MailScheduler/internal/store"
)

type memStore struct {
	mu       sync.Mutex
	emails   map[int64]*campaign.Email
	loadErr  error
	markErrs int
}

func newMemStore(emails ...campaign.Email) *memStore {
	s := &memStore{emails: map[int64]*campaign.Email{}}
	for i := range emails {
		e := emails[i]
		if e.Status == "" {
			e.Status = campaign.StatusPending
		}
		s.emails[e.ID] = &e
	}
	return s
}

func (s *memStore) GetEmail(ctx context.Context, id int64) (campaign.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return campaign.Email{}, s.loadErr
	}
	e, ok := s.emails[id]
	if !ok {
		return campaign.Email{}, store.ErrNotFound
	}
	return *e, nil
}

func (s *memStore) MarkEmailSent(ctx context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.emails[id]
	if !ok || e.Status != campaign.StatusPending {
		return store.ErrNotPending
	}
	e.Status = campaign.StatusSent
	e.SentAt = &at
	e.LastError = ""
	return nil
}

func (s *memStore) MarkEmailFailed(ctx context.Context, id int64, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markErrs++
	e, ok := s.emails[id]
	if !ok || e.Status != campaign.StatusPending {
		return store.ErrNotPending
	}
	e.Status = campaign.StatusFailed
	e.LastError = lastErr
	return nil
}

func (s *memStore) RecordEmailError(ctx context.Context, id int64, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.emails[id]; ok && e.Status == campaign.StatusPending {
		e.LastError = lastErr
	}
	return nil
}

func (s *memStore) email(id int64) campaign.Email {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.emails[id]
}

type sentMail struct {
	msg mailer.Message
	at  time.Time
}

type fakeTransport struct {
	mu    sync.Mutex
	sent  []sentMail
	calls int
	err   error
	block bool
}

func (f *fakeTransport) Send(ctx context.Context, m mailer.Message) error {
	f.mu.Lock()
	f.calls++
	err, block := f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent = append(f.sent, sentMail{msg: m, at: time.Now()})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTransport) sentMails() []sentMail {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMail(nil), f.sent...)
}

type fakeQuota struct {
	mu      sync.Mutex
	counts  map[string]int64
	err     error
	buckets []string
}

func (q *fakeQuota) TryConsume(ctx context.Context, senderID int64, bucket string, limit int) (int64, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, false, q.err
	}
	if q.counts == nil {
		q.counts = map[string]int64{}
	}
	q.buckets = append(q.buckets, bucket)
	k := fmt.Sprintf("%d/%s", senderID, bucket)
	q.counts[k]++
	return q.counts[k], q.counts[k] <= int64(limit), nil
}

func sender() *campaign.Sender {
	return &campaign.Sender{ID: 1, Email: "from@example.com", Name: "Default Sender"}
}

func pendingEmail(id int64, to string) campaign.Email {
	return campaign.Email{
		ID:       id,
		SenderID: 1,
		Sender:   sender(),
		To:       to,
		Subject:  "Hi",
		Body:     "Body",
		Status:   campaign.StatusPending,
	}
}
