package usecase

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/domain/ports/repository"
	ucport "matrimony-billing/internal/domain/ports/usecase"
	"matrimony-billing/internal/infra/metrics"
)

var _ ucport.EntitlementActivator = (*entitlementUC)(nil)

// cacheInvalidator is implemented by caching user-package repositories.
type cacheInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

type entitlementUC struct {
	payments repository.PaymentRepository
	packages repository.UserPackageRepository
	tm       repository.TransactionManager
	table    model.PriceTable
	notifier adapter.OpsNotifier
	log      *zerolog.Logger
}

// NewEntitlementUseCase wires the activator. notifier may be nil.
func NewEntitlementUseCase(
	payments repository.PaymentRepository,
	packages repository.UserPackageRepository,
	tm repository.TransactionManager,
	table model.PriceTable,
	notifier adapter.OpsNotifier,
	logger *zerolog.Logger,
) *entitlementUC {
	return &entitlementUC{
		payments: payments,
		packages: packages,
		tm:       tm,
		table:    table,
		notifier: notifier,
		log:      nopIfNil(logger),
	}
}

// Activate grants rec's package in one transaction: per-user advisory lock,
// claim of the record's activation slot, deactivation of every active grant
// and insertion of the new one. Either all of it commits or none of it does.
//
// Failures other than domain.ErrAlreadyProcessed are returned as a
// *domain.ReconciliationError; the payment stays completed-but-unactivated
// and is picked up again by the reconciler.
func (uc *entitlementUC) Activate(ctx context.Context, rec *model.PaymentRecord) (*model.UserPackage, error) {
	if rec == nil || rec.Status != model.PaymentStatusCompleted {
		return nil, domain.ErrInvalidArgument
	}
	lifetime := false
	if pkg, ok := uc.table.Lookup(rec.PackageType); ok {
		lifetime = pkg.Lifetime
	}

	var granted *model.UserPackage
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.packages.LockUser(ctx, tx, rec.UserID); err != nil {
			return err
		}
		claimed, err := uc.payments.ClaimActivation(ctx, tx, rec.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return domain.ErrAlreadyProcessed
		}
		if _, err := uc.packages.DeactivateAll(ctx, tx, rec.UserID); err != nil {
			return err
		}
		up, err := model.NewUserPackage(rec, lifetime)
		if err != nil {
			return err
		}
		if err := uc.packages.Insert(ctx, tx, up); err != nil {
			return err
		}
		granted = up
		return nil
	})
	if inv, ok := uc.packages.(cacheInvalidator); ok {
		inv.Invalidate(ctx, rec.UserID)
	}

	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyProcessed):
		uc.log.Info().Str("payment_id", rec.ID).Str("user_id", rec.UserID).Msg("entitlement already granted for payment")
		return nil, err
	default:
		rerr := &domain.ReconciliationError{PaymentID: rec.ID, UserID: rec.UserID, Err: err}
		uc.log.Error().Err(err).
			Str("payment_id", rec.ID).Str("user_id", rec.UserID).Str("package", string(rec.PackageType)).
			Msg("entitlement activation failed; payment completed without entitlement")
		metrics.IncReconciliationError("activation")
		uc.alert(ctx, adapter.Alert{
			Kind: "reconciliation", PaymentID: rec.ID, UserID: rec.UserID,
			Message: rerr.Error(),
		})
		return nil, rerr
	}

	metrics.IncEntitlementActivated(string(granted.PackageType))
	uc.log.Info().
		Str("payment_id", rec.ID).Str("user_id", rec.UserID).Str("package", string(granted.PackageType)).
		Msg("entitlement activated")
	return granted, nil
}

func (uc *entitlementUC) Current(ctx context.Context, userID string) (*model.UserPackage, error) {
	return uc.packages.FindActiveByUser(ctx, repository.NoTX, userID)
}

func (uc *entitlementUC) alert(ctx context.Context, a adapter.Alert) {
	if uc.notifier == nil {
		return
	}
	if err := uc.notifier.Notify(ctx, a); err != nil {
		uc.log.Warn().Err(err).Str("payment_id", a.PaymentID).Msg("ops alert failed")
	}
}
