package usecase

import (
	"context"

	"matrimony-billing/internal/domain/model"
)

// EntitlementActivator defines the entitlement operations needed by payment
// orchestration and background workers.
type EntitlementActivator interface {
	// Activate grants the package bought by a completed record. Returns
	// domain.ErrAlreadyProcessed when the record was activated before.
	Activate(ctx context.Context, rec *model.PaymentRecord) (*model.UserPackage, error)
	// Current returns the user's active package or domain.ErrNotFound.
	Current(ctx context.Context, userID string) (*model.UserPackage, error)
}
