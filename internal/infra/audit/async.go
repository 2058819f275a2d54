package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/infra/worker"
)

// Async uploads on the worker pool; Archive only fails when the queue is full.
type Async struct {
	inner   adapter.AuditArchive
	pool    *worker.Pool
	timeout time.Duration
}

func NewAsync(inner adapter.AuditArchive, pool *worker.Pool) *Async {
	return &Async{inner: inner, pool: pool, timeout: time.Minute}
}

func (a *Async) Archive(ctx context.Context, paymentID, event string, payload json.RawMessage) error {
	base := context.WithoutCancel(ctx)
	buf := append(json.RawMessage(nil), payload...)
	return a.pool.Submit(func(context.Context) error {
		sctx, cancel := context.WithTimeout(base, a.timeout)
		defer cancel()
		if err := a.inner.Archive(sctx, paymentID, event, buf); err != nil {
			return fmt.Errorf("archive %s/%s: %w", paymentID, event, err)
		}
		return nil
	})
}
