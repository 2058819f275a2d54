package adapter

import "context"

// Alert is an operator-facing message about something needing manual attention.
type Alert struct {
	Kind      string // e.g. "reconciliation", "gateway_timeout"
	PaymentID string
	UserID    string
	Message   string
}

// OpsNotifier delivers alerts to operators (Telegram, e-mail).
type OpsNotifier interface {
	Notify(ctx context.Context, a Alert) error
}
