package sched

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/domain/ports/repository"
	"matrimony-billing/internal/infra/logging"
	"matrimony-billing/internal/infra/redis"
	"matrimony-billing/internal/usecase"
)

const reconcileLockKey = "billing:lock:payment-reconciler"

type ReconcilerOptions struct {
	Schedule   string        // cron spec, e.g. "@every 5m"
	StaleAfter time.Duration // pending records younger than this are left to the user flow
	BatchSize  int
	LockTTL    time.Duration
}

// RecordLister is the read side of repository.PaymentRepository the job scans.
type RecordLister interface {
	ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	ListCompletedUnactivated(ctx context.Context, tx repository.Tx, limit int) ([]*model.PaymentRecord, error)
}

// Summary counts what one reconciler pass did.
type Summary struct {
	Scanned int
	Actions map[string]int
	Errors  int
}

// PaymentReconciler repairs records the request path left behind: completed
// payments without an entitlement and pending payments nobody finished.
// Only one replica runs a pass at a time when a locker is configured.
type PaymentReconciler struct {
	uc       usecase.PaymentUseCase
	payments RecordLister
	locker   redis.Locker
	notifier adapter.OpsNotifier
	opts     ReconcilerOptions
	log      *zerolog.Logger

	cron *cron.Cron
}

// NewPaymentReconciler builds the job. locker and notifier may be nil.
func NewPaymentReconciler(
	uc usecase.PaymentUseCase,
	payments RecordLister,
	locker redis.Locker,
	notifier adapter.OpsNotifier,
	opts ReconcilerOptions,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if opts.Schedule == "" {
		opts.Schedule = "@every 5m"
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 15 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 200
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 4 * time.Minute
	}
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	return &PaymentReconciler{uc: uc, payments: payments, locker: locker, notifier: notifier, opts: opts, log: logger}
}

// Start schedules the job; passes run until ctx is done or Stop is called.
func (w *PaymentReconciler) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.opts.Schedule, func() { w.tick(ctx) }); err != nil {
		return fmt.Errorf("payment reconciler: bad schedule %q: %w", w.opts.Schedule, err)
	}
	w.cron = c
	c.Start()
	w.log.Info().Str("schedule", w.opts.Schedule).Msg("payment reconciler started")
	return nil
}

// Stop waits for a running pass to finish.
func (w *PaymentReconciler) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	sum, err := w.RunOnce(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("payment reconciler pass failed")
		return
	}
	if sum.Scanned > 0 {
		w.log.Info().Int("scanned", sum.Scanned).Int("errors", sum.Errors).
			Interface("actions", sum.Actions).Msg("payment reconciler pass")
	}
}

// RunOnce performs a single pass. A pass skipped because another instance holds
// the lock returns an empty summary.
func (w *PaymentReconciler) RunOnce(ctx context.Context) (Summary, error) {
	defer logging.TraceDuration(w.log, "PaymentReconciler.RunOnce")()
	sum := Summary{Actions: map[string]int{}}

	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, reconcileLockKey, w.opts.LockTTL)
		if errors.Is(err, redis.ErrLockHeld) {
			w.log.Debug().Msg("payment reconciler: lock held elsewhere")
			return sum, nil
		}
		if err != nil {
			// Redis down: run anyway, the per-record CAS keeps passes safe.
			w.log.Warn().Err(err).Msg("payment reconciler: lock unavailable")
		} else {
			defer func() {
				if err := w.locker.Unlock(context.WithoutCancel(ctx), reconcileLockKey, token); err != nil {
					w.log.Warn().Err(err).Msg("payment reconciler: unlock failed")
				}
			}()
		}
	}

	unactivated, err := w.payments.ListCompletedUnactivated(ctx, repository.NoTX, w.opts.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list completed unactivated: %w", err)
	}
	w.handle(ctx, unactivated, &sum)

	stale, err := w.payments.ListPendingOlderThan(ctx, repository.NoTX, time.Now().Add(-w.opts.StaleAfter), w.opts.BatchSize)
	if err != nil {
		return sum, fmt.Errorf("list stale pending: %w", err)
	}
	w.handle(ctx, stale, &sum)

	if sum.Errors > 0 && w.notifier != nil {
		alert := adapter.Alert{
			Kind:    "reconciler",
			Message: fmt.Sprintf("%d of %d payments could not be reconciled; see logs", sum.Errors, sum.Scanned),
		}
		if err := w.notifier.Notify(ctx, alert); err != nil {
			w.log.Warn().Err(err).Msg("payment reconciler: alert failed")
		}
	}
	return sum, nil
}

func (w *PaymentReconciler) handle(ctx context.Context, recs []*model.PaymentRecord, sum *Summary) {
	for _, rec := range recs {
		if ctx.Err() != nil {
			return
		}
		sum.Scanned++
		rctx := logging.WithPaymentID(logging.WithUserID(ctx, rec.UserID), rec.ID)
		out, err := w.uc.Reconcile(rctx, rec)
		if err != nil {
			sum.Errors++
			l := logging.With(rctx, w.log)
			l.Error().Err(err).Str("method", string(rec.PaymentMethod)).Msg("reconcile failed")
			continue
		}
		if out != nil && out.Action != "" {
			sum.Actions[out.Action]++
		}
	}
}
