package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain/model"
)

// -----------------------------
// Payment records
// -----------------------------

// PaymentRepository persists payment attempts. Every status transition out of
// 'pending' is a single conditional write; the bool result reports whether this
// caller performed it.
type PaymentRepository interface {
	// CreatePending supersedes (marks failed) every other pending record of the
	// user and inserts rec, in one transaction when tx is nil.
	CreatePending(ctx context.Context, tx Tx, rec *model.PaymentRecord) error
	SetGatewayOrder(ctx context.Context, tx Tx, id, orderID string, gatewayResponse json.RawMessage) error
	MarkCompleted(ctx context.Context, tx Tx, id, transactionID string, gatewayResponse json.RawMessage) (bool, error)
	MarkFailed(ctx context.Context, tx Tx, id, reason string, gatewayResponse json.RawMessage) (bool, error)
	// ClaimActivation sets activated_at on a completed, not yet activated record.
	ClaimActivation(ctx context.Context, tx Tx, id string) (bool, error)

	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentRecord, error)
	FindByGatewayOrderID(ctx context.Context, tx Tx, method model.PaymentMethod, orderID string) (*model.PaymentRecord, error)
	ListPendingOlderThan(ctx context.Context, tx Tx, olderThan time.Time, limit int) ([]*model.PaymentRecord, error)
	ListCompletedUnactivated(ctx context.Context, tx Tx, limit int) ([]*model.PaymentRecord, error)
	ListByStatus(ctx context.Context, tx Tx, status model.PaymentStatus, limit int) ([]*model.PaymentRecord, error)
	SumCompletedByCurrency(ctx context.Context, tx Tx, since time.Time) (map[string]decimal.Decimal, error)
}
