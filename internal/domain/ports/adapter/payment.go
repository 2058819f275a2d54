package adapter

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain/model"
)

// AccessToken is what Authenticate yields. OAuth providers fill Value with a
// bearer token; signature-based providers return an empty Value with Scheme
// "signature" once their keys are known to be configured.
type AccessToken struct {
	Scheme string
	Value  string
}

// OrderRequest describes a checkout to create at the provider.
type OrderRequest struct {
	PaymentID      string // linking id echoed back by the provider
	IdempotencyKey string
	Amount         decimal.Decimal
	Currency       string
	Description    string
	UserID         string
	PackageID      model.PackageID
}

// Order is the provider handle of a created checkout.
type Order struct {
	OrderID     string
	ApprovalURL string
	Raw         json.RawMessage
}

// CaptureResult is the provider's view of a capture (or a status check for
// providers that capture on their side).
type CaptureResult struct {
	Status        string
	Completed     bool
	Declined      bool   // provider reports a final non-success state
	PaidAmount    string // exactly as reported by the provider
	PaidCurrency  string
	TransactionID string
	Raw           json.RawMessage
}

// PaymentGateway is the hex port for payment providers.
type PaymentGateway interface {
	Method() model.PaymentMethod
	Currency() string

	Authenticate(ctx context.Context) (AccessToken, error)
	// CreateOrder creates the checkout and returns its approval/redirect URL.
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	// CaptureOrder finalises the order. It is never retried by callers.
	CaptureOrder(ctx context.Context, orderID string, tok AccessToken, idempotencyKey string) (*CaptureResult, error)
}

// WebhookNotification is a verified inbound provider callback.
type WebhookNotification struct {
	OrderID       string
	Status        string
	Completed     bool
	Declined      bool // final non-success; anything else is interim
	Amount        string
	Currency      string
	TransactionID string
	Message       string
	Raw           json.RawMessage
}

// WebhookVerifier is implemented by providers that sign their callbacks.
type WebhookVerifier interface {
	// ParseWebhook verifies signature over data before decoding anything in it.
	ParseWebhook(data, signature string) (*WebhookNotification, error)
}
