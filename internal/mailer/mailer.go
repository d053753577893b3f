package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/sony/gobreaker"
)

// Sender delivers transactional email. Implementations must be safe for
// concurrent use.
type Sender interface {
	SendOTP(ctx context.Context, to, code string) error
	SendPaymentNotification(ctx context.Context, n PaymentNotification) error
}

// PaymentNotification describes one side of a completed transfer.
type PaymentNotification struct {
	To           string
	Name         string
	Sent         bool // false means received
	Amount       int64
	OtherParty   string
	Message      string
	BalanceAfter int64
}

type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// SMTP sends mail through a plain SMTP relay. Calls go through a circuit
// breaker so a dead relay fails fast instead of stalling request handlers.
type SMTP struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

func NewSMTP(cfg Config) *SMTP {
	return &SMTP{
		cfg: cfg,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "smtp",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

func (s *SMTP) SendOTP(ctx context.Context, to, code string) error {
	subject := "Your OTP Verification Code"
	body := fmt.Sprintf(
		"Hello,\r\n\r\nUse the following one-time password to verify your account: %s\r\n\r\n"+
			"The code is valid for the next 10 minutes. If you didn't request this, ignore this email.\r\n",
		code,
	)
	return s.send(ctx, to, subject, body)
}

func (s *SMTP) SendPaymentNotification(ctx context.Context, n PaymentNotification) error {
	subject := "Payment Received"
	verb := "received"
	if n.Sent {
		subject = "Payment Sent Successfully"
		verb = "sent"
	}
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nYou have %s a payment of %d to/from %s.\r\n",
		n.Name, verb, n.Amount, n.OtherParty,
	)
	if n.Message != "" {
		body += fmt.Sprintf("Message: %s\r\n", n.Message)
	}
	body += fmt.Sprintf("Your balance is now %d.\r\n", n.BalanceAfter)
	return s.send(ctx, n.To, subject, body)
}

func (s *SMTP) send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		s.cfg.From, to, subject, body,
	))
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Password, s.cfg.Host)
	}

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, smtp.SendMail(addr, auth, s.cfg.From, []string{to}, msg)
	})
	if err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// Nop discards all mail. Used in development when no relay is configured.
type Nop struct{}

func (Nop) SendOTP(context.Context, string, string) error { return nil }

func (Nop) SendPaymentNotification(context.Context, PaymentNotification) error { return nil }
