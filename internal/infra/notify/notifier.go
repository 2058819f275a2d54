package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/infra/worker"
)

// Format renders an alert as plain text for chat and mail channels.
func Format(a adapter.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[billing] %s\n", strings.ToUpper(a.Kind))
	if a.PaymentID != "" {
		fmt.Fprintf(&b, "payment: %s\n", a.PaymentID)
	}
	if a.UserID != "" {
		fmt.Fprintf(&b, "user: %s\n", a.UserID)
	}
	b.WriteString(a.Message)
	return b.String()
}

// Multi fans an alert out to every channel. A failing channel does not stop the
// others.
type Multi []adapter.OpsNotifier

func (m Multi) Notify(ctx context.Context, a adapter.Alert) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async hands alerts to the worker pool so callers never wait on Telegram or
// SMTP.
type Async struct {
	inner   adapter.OpsNotifier
	pool    *worker.Pool
	timeout time.Duration
	log     *zerolog.Logger
}

func NewAsync(inner adapter.OpsNotifier, pool *worker.Pool, logger *zerolog.Logger) *Async {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &Async{inner: inner, pool: pool, timeout: 30 * time.Second, log: logger}
}

func (n *Async) Notify(ctx context.Context, a adapter.Alert) error {
	base := context.WithoutCancel(ctx)
	return n.pool.Submit(func(context.Context) error {
		sctx, cancel := context.WithTimeout(base, n.timeout)
		defer cancel()
		if err := n.inner.Notify(sctx, a); err != nil {
			return fmt.Errorf("alert %s for payment %s: %w", a.Kind, a.PaymentID, err)
		}
		return nil
	})
}

// Log writes alerts to the log. Used when no alert channel is configured.
type Log struct{ log *zerolog.Logger }

func NewLog(logger *zerolog.Logger) Log { return Log{log: logger} }

func (n Log) Notify(_ context.Context, a adapter.Alert) error {
	if n.log == nil {
		return nil
	}
	n.log.Warn().Str("kind", a.Kind).Str("payment_id", a.PaymentID).Str("user_id", a.UserID).Msg(a.Message)
	return nil
}
