package usecase

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain/ports/repository"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	// Revenue sums completed payments since the given time, per currency.
	Revenue(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error)
	// Backlog counts records awaiting reconciliation: pending past staleBefore,
	// and completed without an entitlement.
	Backlog(ctx context.Context, staleBefore time.Time) (stalePending int, unactivated int, err error)
}

type statsUC struct {
	payments repository.PaymentRepository

	log *zerolog.Logger
}

func NewStatsUseCase(payments repository.PaymentRepository, logger *zerolog.Logger) *statsUC {
	return &statsUC{payments: payments, log: nopIfNil(logger)}
}

func (s *statsUC) Revenue(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	sums, err := s.payments.SumCompletedByCurrency(ctx, repository.NoTX, since)
	if err != nil {
		return nil, err
	}
	if sums == nil {
		sums = map[string]decimal.Decimal{}
	}
	return sums, nil
}

// backlogScanLimit caps how many rows Backlog reads per list.
const backlogScanLimit = 1000

func (s *statsUC) Backlog(ctx context.Context, staleBefore time.Time) (int, int, error) {
	pending, err := s.payments.ListPendingOlderThan(ctx, repository.NoTX, staleBefore, backlogScanLimit)
	if err != nil {
		return 0, 0, err
	}
	unactivated, err := s.payments.ListCompletedUnactivated(ctx, repository.NoTX, backlogScanLimit)
	if err != nil {
		return 0, 0, err
	}
	return len(pending), len(unactivated), nil
}
