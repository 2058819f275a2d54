package repository

import (
	"context"

	"matrimony-billing/internal/domain/model"
)

// UserPackageRepository is the port for entitlement grants.
type UserPackageRepository interface {
	// FindActiveByUser returns domain.ErrNotFound when the user has no active package.
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.UserPackage, error)
	DeactivateAll(ctx context.Context, tx Tx, userID string) (int64, error)
	Insert(ctx context.Context, tx Tx, up *model.UserPackage) error
	CountActive(ctx context.Context, tx Tx, userID string) (int, error)
	// LockUser serialises entitlement changes for one user for the rest of tx.
	LockUser(ctx context.Context, tx Tx, userID string) error
}
