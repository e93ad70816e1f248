package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Mutter0815/MailScheduler/internal/campaign"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrNotPending is returned when a status transition targets an email that
	// already left PENDING.
	ErrNotPending = errors.New("email is not pending")
)

type Store struct {
	DB *sql.DB
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) FindSenderByEmail(ctx context.Context, email string) (campaign.Sender, error) {
	var snd campaign.Sender
	err := s.DB.QueryRowContext(ctx, `
		SELECT id, email, name, created_at
		FROM senders
		WHERE email = $1
	`, email).Scan(&snd.ID, &snd.Email, &snd.Name, &snd.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Sender{}, ErrNotFound
	}
	return snd, err
}

// CreateSender inserts a sender. If the address already exists nothing is
// inserted and sql.ErrNoRows is returned.
func (s *Store) CreateSender(ctx context.Context, email, name string) (campaign.Sender, error) {
	var snd campaign.Sender
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO senders (email, name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO NOTHING
		RETURNING id, email, name, created_at
	`, email, name).Scan(&snd.ID, &snd.Email, &snd.Name, &snd.CreatedAt)
	return snd, err
}

// ResolveSender returns the sender for email, creating it on first use. A
// concurrent insert of the same address is absorbed by the unique constraint
// and the existing row is read back.
func (s *Store) ResolveSender(ctx context.Context, email, name string) (campaign.Sender, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	snd, err := s.FindSenderByEmail(ctx, email)
	if err == nil {
		return snd, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return campaign.Sender{}, fmt.Errorf("find sender: %w", err)
	}

	snd, err = s.CreateSender(ctx, email, name)
	if err == nil {
		return snd, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return campaign.Sender{}, fmt.Errorf("create sender: %w", err)
	}

	snd, err = s.FindSenderByEmail(ctx, email)
	if err != nil {
		return campaign.Sender{}, fmt.Errorf("find sender after conflict: %w", err)
	}
	return snd, nil
}
