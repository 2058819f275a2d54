package payment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.PaymentGateway  = (*NoopPaymentGateway)(nil)
	_ adapter.WebhookVerifier = (*NoopPaymentGateway)(nil)
)

// NoopWebhookKey signs callbacks accepted by NoopPaymentGateway.ParseWebhook.
const NoopWebhookKey = "noop"

type noopIntent struct {
	paymentID string
	amount    string
	currency  string
}

// NoopPaymentGateway is a simple in-memory gateway for development and tests.
// Every order captures successfully for exactly the amount it was created with.
type NoopPaymentGateway struct {
	method model.PaymentMethod

	mu      sync.Mutex
	seq     int64
	intents map[string]noopIntent // order id -> intent
}

func NewNoopPaymentGateway(method model.PaymentMethod) *NoopPaymentGateway {
	if method == "" {
		method = model.PaymentMethodOther
	}
	return &NoopPaymentGateway{method: method, intents: make(map[string]noopIntent)}
}

func (g *NoopPaymentGateway) Method() model.PaymentMethod { return g.method }
func (g *NoopPaymentGateway) Currency() string            { return g.method.Currency() }

func (g *NoopPaymentGateway) Authenticate(ctx context.Context) (adapter.AccessToken, error) {
	return adapter.AccessToken{Scheme: "none"}, nil
}

func (g *NoopPaymentGateway) next() string {
	g.seq++
	return fmt.Sprintf("noop-%d", g.seq)
}

func (g *NoopPaymentGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next()
	g.intents[id] = noopIntent{paymentID: req.PaymentID, amount: req.Amount.StringFixed(2), currency: req.Currency}
	raw, _ := json.Marshal(map[string]string{"id": id, "status": "CREATED"})
	return &adapter.Order{OrderID: id, ApprovalURL: "https://example.test/pay/" + id, Raw: raw}, nil
}

func (g *NoopPaymentGateway) CaptureOrder(ctx context.Context, orderID string, tok adapter.AccessToken, idempotencyKey string) (*adapter.CaptureResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	in, ok := g.intents[orderID]
	if !ok {
		return nil, &domain.GatewayError{Provider: "noop", Op: "capture", StatusCode: 404, Body: `{"error":"order not found"}`}
	}
	raw, _ := json.Marshal(map[string]string{"id": orderID, "status": "COMPLETED"})
	return &adapter.CaptureResult{
		Status: "COMPLETED", Completed: true,
		PaidAmount: in.amount, PaidCurrency: in.currency,
		TransactionID: "ref-" + orderID, Raw: raw,
	}, nil
}

// ParseWebhook accepts base64 JSON data signed with NoopWebhookKey.
func (g *NoopPaymentGateway) ParseWebhook(data, signature string) (*adapter.WebhookNotification, error) {
	if !VerifySignature(NoopWebhookKey, data, signature) {
		return nil, domain.ErrInvalidSignature
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not base64", domain.ErrValidation)
	}
	var in struct {
		OrderID  string `json:"order_id"`
		Status   string `json:"status"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.OrderID == "" {
		return nil, fmt.Errorf("%w: malformed data", domain.ErrValidation)
	}
	return &adapter.WebhookNotification{
		OrderID: in.OrderID, Status: in.Status, Completed: in.Status == "success", Declined: in.Status == "failed",
		Amount: in.Amount, Currency: in.Currency, TransactionID: "ref-" + in.OrderID, Raw: raw,
	}, nil
}
