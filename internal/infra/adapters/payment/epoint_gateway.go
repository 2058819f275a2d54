package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"matrimony-billing/internal/config"
	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
)

const providerEpoint = "epoint"

var (
	_ adapter.PaymentGateway  = (*EpointGateway)(nil)
	_ adapter.WebhookVerifier = (*EpointGateway)(nil)
)

// EpointGateway implements the signed form API. Epoint captures on its side,
// so CaptureOrder is a get-status lookup and webhooks carry the outcome.
//
// The payment record id is sent as order_id and doubles as the gateway order id.
type EpointGateway struct {
	cfg    config.EpointConfig
	client *http.Client
}

func NewEpointGateway(cfg config.EpointConfig, timeout time.Duration) *EpointGateway {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	return &EpointGateway{cfg: cfg, client: newHTTPClient(timeout)}
}

func (g *EpointGateway) Method() model.PaymentMethod { return model.PaymentMethodEpoint }
func (g *EpointGateway) Currency() string            { return g.Method().Currency() }

// Authenticate only checks that both keys are configured; requests are signed.
func (g *EpointGateway) Authenticate(ctx context.Context) (adapter.AccessToken, error) {
	if g.cfg.PublicKey == "" || g.cfg.PrivateKey == "" || g.cfg.APIBase == "" {
		return adapter.AccessToken{}, fmt.Errorf("%w: epoint keys are not set", domain.ErrConfiguration)
	}
	return adapter.AccessToken{Scheme: "signature"}, nil
}

type epointResponse struct {
	Status      string          `json:"status"`
	RedirectURL string          `json:"redirect_url"`
	Transaction string          `json:"transaction"`
	OrderID     string          `json:"order_id"`
	Amount      json.Number     `json:"amount"`
	Currency    string          `json:"currency"`
	Code        json.RawMessage `json:"code"`
	Message     string          `json:"message"`
}

func (g *EpointGateway) post(ctx context.Context, path, op string, payload map[string]any) ([]byte, *epointResponse, error) {
	data, sig, err := encodeData(g.cfg.PrivateKey, payload)
	if err != nil {
		return nil, nil, err
	}
	form := url.Values{"data": {data}, "signature": {sig}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIBase+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := do(g.client, req, providerEpoint, op)
	if err != nil {
		return nil, nil, err
	}
	var out epointResponse
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, nil, decodeError(providerEpoint, op, body, err)
	}
	return body, &out, nil
}

func (g *EpointGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.Order, error) {
	if _, err := g.Authenticate(ctx); err != nil {
		return nil, err
	}
	body, out, err := g.post(ctx, "/request", "create_order", map[string]any{
		"public_key":           g.cfg.PublicKey,
		"amount":               req.Amount.StringFixed(2),
		"currency":             req.Currency,
		"language":             g.cfg.Language,
		"order_id":             req.PaymentID,
		"description":          req.Description,
		"success_redirect_url": g.cfg.SuccessURL,
		"error_redirect_url":   g.cfg.ErrorURL,
	})
	if err != nil {
		return nil, err
	}
	if out.Status != "success" || out.RedirectURL == "" {
		return nil, &domain.GatewayError{Provider: providerEpoint, Op: "create_order", Body: string(body),
			Err: fmt.Errorf("request rejected: %s %s", out.Status, out.Message)}
	}
	return &adapter.Order{OrderID: req.PaymentID, ApprovalURL: out.RedirectURL, Raw: body}, nil
}

// CaptureOrder asks get-status for the outcome of orderID.
func (g *EpointGateway) CaptureOrder(ctx context.Context, orderID string, _ adapter.AccessToken, _ string) (*adapter.CaptureResult, error) {
	if _, err := g.Authenticate(ctx); err != nil {
		return nil, err
	}
	body, out, err := g.post(ctx, "/get-status", "get_status", map[string]any{
		"public_key": g.cfg.PublicKey,
		"order_id":   orderID,
	})
	if err != nil {
		return nil, err
	}
	return &adapter.CaptureResult{
		Status:        out.Status,
		Completed:     isEpointSuccess(out.Status),
		Declined:      isEpointDeclined(out.Status),
		PaidAmount:    out.Amount.String(),
		PaidCurrency:  currencyOrDefault(out.Currency),
		TransactionID: out.Transaction,
		Raw:           body,
	}, nil
}

// ParseWebhook verifies signature over the raw data field before decoding it.
func (g *EpointGateway) ParseWebhook(data, signature string) (*adapter.WebhookNotification, error) {
	if g.cfg.PrivateKey == "" {
		return nil, fmt.Errorf("%w: epoint private key is not set", domain.ErrConfiguration)
	}
	if !VerifySignature(g.cfg.PrivateKey, data, signature) {
		return nil, domain.ErrInvalidSignature
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: data is not base64", domain.ErrValidation)
	}
	var out epointResponse
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: data is not json", domain.ErrValidation)
	}
	if out.OrderID == "" {
		return nil, fmt.Errorf("%w: order_id missing", domain.ErrValidation)
	}
	return &adapter.WebhookNotification{
		OrderID:       out.OrderID,
		Status:        out.Status,
		Completed:     isEpointSuccess(out.Status),
		Declined:      isEpointDeclined(out.Status),
		Amount:        out.Amount.String(),
		Currency:      currencyOrDefault(out.Currency),
		TransactionID: out.Transaction,
		Message:       out.Message,
		Raw:           raw,
	}, nil
}

func isEpointSuccess(status string) bool { return strings.EqualFold(status, "success") }

func isEpointDeclined(status string) bool {
	switch strings.ToLower(status) {
	case "failed", "error", "returned":
		return true
	}
	return false
}

// Epoint settles in AZN only and omits the currency from most responses.
func currencyOrDefault(c string) string {
	if c == "" {
		return model.PaymentMethodEpoint.Currency()
	}
	return c
}

// ErrMissingWebhookFields is returned by DecodeWebhookBody when data or signature is absent.
var ErrMissingWebhookFields = errors.New("data and signature are required")

// DecodeWebhookBody extracts data and signature from a form or JSON body.
func DecodeWebhookBody(contentType string, body []byte) (data, signature string, err error) {
	if strings.HasPrefix(strings.ToLower(contentType), "application/json") {
		var in struct {
			Data      string `json:"data"`
			Signature string `json:"signature"`
		}
		if err := json.Unmarshal(body, &in); err != nil {
			return "", "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		data, signature = in.Data, in.Signature
	} else {
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return "", "", fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		data, signature = vals.Get("data"), vals.Get("signature")
	}
	if data == "" || signature == "" {
		return "", "", fmt.Errorf("%w: %w", domain.ErrValidation, ErrMissingWebhookFields)
	}
	return data, signature, nil
}
