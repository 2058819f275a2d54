//go:build !integration

package api

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/usecase"
)

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

type mockPaymentUC struct {
	CheckoutFunc      func(ctx context.Context, userID string, packageID model.PackageID, method model.PaymentMethod) (*usecase.CheckoutResult, error)
	CaptureFunc       func(ctx context.Context, req usecase.CaptureRequest) (*usecase.PaymentOutcome, error)
	WebhookFunc       func(ctx context.Context, data, signature string) (*usecase.PaymentOutcome, error)
	ReconcileFunc     func(ctx context.Context, rec *model.PaymentRecord) (*usecase.PaymentOutcome, error)
	ReconcileByIDFunc func(ctx context.Context, paymentID string) (*usecase.PaymentOutcome, error)
	GetFunc           func(ctx context.Context, userID, paymentID string) (*model.PaymentRecord, error)
	ListByStatusFunc  func(ctx context.Context, status model.PaymentStatus, limit int) ([]*model.PaymentRecord, error)
}

var _ usecase.PaymentUseCase = (*mockPaymentUC)(nil)

func (m *mockPaymentUC) Checkout(ctx context.Context, userID string, packageID model.PackageID, method model.PaymentMethod) (*usecase.CheckoutResult, error) {
	if m.CheckoutFunc != nil {
		return m.CheckoutFunc(ctx, userID, packageID, method)
	}
	return nil, domain.ErrConfiguration
}

func (m *mockPaymentUC) Capture(ctx context.Context, req usecase.CaptureRequest) (*usecase.PaymentOutcome, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx, req)
	}
	return nil, domain.ErrConfiguration
}

func (m *mockPaymentUC) HandleEpointWebhook(ctx context.Context, data, signature string) (*usecase.PaymentOutcome, error) {
	if m.WebhookFunc != nil {
		return m.WebhookFunc(ctx, data, signature)
	}
	return nil, domain.ErrInvalidSignature
}

func (m *mockPaymentUC) Reconcile(ctx context.Context, rec *model.PaymentRecord) (*usecase.PaymentOutcome, error) {
	if m.ReconcileFunc != nil {
		return m.ReconcileFunc(ctx, rec)
	}
	return &usecase.PaymentOutcome{Payment: rec, Action: "skipped"}, nil
}

func (m *mockPaymentUC) ReconcileByID(ctx context.Context, paymentID string) (*usecase.PaymentOutcome, error) {
	if m.ReconcileByIDFunc != nil {
		return m.ReconcileByIDFunc(ctx, paymentID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentUC) Get(ctx context.Context, userID, paymentID string) (*model.PaymentRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, userID, paymentID)
	}
	return nil, domain.ErrNotFound
}

func (m *mockPaymentUC) ListByStatus(ctx context.Context, status model.PaymentStatus, limit int) ([]*model.PaymentRecord, error) {
	if m.ListByStatusFunc != nil {
		return m.ListByStatusFunc(ctx, status, limit)
	}
	return nil, nil
}

type mockPricingUC struct{}

func (mockPricingUC) Quote(ctx context.Context, userID string, target model.PackageID, method model.PaymentMethod) (*usecase.Quote, error) {
	return nil, domain.ErrUnknownPackage
}

func (mockPricingUC) Packages() []model.Package {
	return []model.Package{{
		ID: "premium", Name: "Premium",
		Prices: map[string]decimal.Decimal{"USD": decimal.RequireFromString("0.5"), "AZN": decimal.RequireFromString("0.85")},
	}}
}

type mockEntitlements struct {
	CurrentFunc func(ctx context.Context, userID string) (*model.UserPackage, error)
}

func (m *mockEntitlements) Activate(ctx context.Context, rec *model.PaymentRecord) (*model.UserPackage, error) {
	return nil, domain.ErrAlreadyProcessed
}

func (m *mockEntitlements) Current(ctx context.Context, userID string) (*model.UserPackage, error) {
	if m.CurrentFunc != nil {
		return m.CurrentFunc(ctx, userID)
	}
	return nil, domain.ErrNotFound
}

type mockStatsUC struct {
	RevenueFunc func(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error)
}

func (m *mockStatsUC) Revenue(ctx context.Context, since time.Time) (map[string]decimal.Decimal, error) {
	if m.RevenueFunc != nil {
		return m.RevenueFunc(ctx, since)
	}
	return map[string]decimal.Decimal{}, nil
}

func (m *mockStatsUC) Backlog(ctx context.Context, staleBefore time.Time) (int, int, error) {
	return 0, 0, nil
}

// mockVerifier accepts "Bearer user-<id>" tokens.
type mockVerifier struct{ err error }

func (m mockVerifier) Verify(ctx context.Context, token string) (*adapter.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(token) > 5 && token[:5] == "user-" {
		return &adapter.Identity{UserID: token[5:]}, nil
	}
	return nil, domain.ErrAuthentication
}
