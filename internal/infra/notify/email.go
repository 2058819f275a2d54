package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"

	"matrimony-billing/internal/domain/ports/adapter"
)

type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Email sends alerts over SMTP.
type Email struct {
	sender mailSender
	from   string
	to     []string
}

func NewSMTPDialer(host string, port int, username, password string) *gomail.Dialer {
	return gomail.NewDialer(host, port, username, password)
}

func NewEmail(sender mailSender, from string, to []string) *Email {
	return &Email{sender: sender, from: from, to: to}
}

func (e *Email) Notify(ctx context.Context, a adapter.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", e.from)
	m.SetHeader("To", e.to...)
	subject := "[billing] " + a.Kind
	if a.PaymentID != "" {
		subject += " " + a.PaymentID
	}
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", Format(a))
	if err := e.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
