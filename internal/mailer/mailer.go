// Package mailer is the outbound transport used by the delivery executor.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	"gopkg.in/gomail.v2"
)

type Message struct {
	From     string
	FromName string
	To       string
	Subject  string
	Body     string
}

// Transport delivers one message. Implementations must honour ctx so the caller
// can bound the send; an expired context is reported as an error.
type Transport interface {
	Send(ctx context.Context, m Message) error
}

type SMTPConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	InsecureSkipVerify bool
}

type SMTP struct {
	dialer *gomail.Dialer
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &SMTP{dialer: d}
}

func (s *SMTP) Host() string { return s.dialer.Host }

// Send dials, delivers and closes. gomail has no context support, so the dial
// runs in its own goroutine and Send returns as soon as ctx is done. That
// goroutine is not stopped: a message reported as timed out may still be
// delivered, and a retry can then send it twice. Delivery is at-least-once.
func (s *SMTP) Send(ctx context.Context, m Message) error {
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.From, m.FromName)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Body)

	errc := make(chan error, 1)
	go func() { errc <- s.dialer.DialAndSend(msg) }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", m.To, ctx.Err())
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", m.To, err)
		}
		return nil
	}
}
