package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"matrimony-billing/internal/config"
	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
)

const providerPayPal = "paypal"

var _ adapter.PaymentGateway = (*PayPalGateway)(nil)

// PayPalGateway implements adapter.PaymentGateway on the Orders v2 REST API
// with client-credentials OAuth.
type PayPalGateway struct {
	cfg    config.PayPalConfig
	client *http.Client

	once sync.Once
	ts   oauth2.TokenSource
}

// NewPayPalGateway never fails on missing credentials; Authenticate reports
// domain.ErrConfiguration instead so the service can start unconfigured.
func NewPayPalGateway(cfg config.PayPalConfig, timeout time.Duration) *PayPalGateway {
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	return &PayPalGateway{cfg: cfg, client: newHTTPClient(timeout)}
}

func (g *PayPalGateway) Method() model.PaymentMethod { return model.PaymentMethodPayPal }
func (g *PayPalGateway) Currency() string            { return g.Method().Currency() }

func (g *PayPalGateway) configured() bool {
	return g.cfg.ClientID != "" && g.cfg.ClientSecret != "" && g.cfg.APIBase != ""
}

func (g *PayPalGateway) tokenSource() oauth2.TokenSource {
	g.once.Do(func() {
		cc := &clientcredentials.Config{
			ClientID:     g.cfg.ClientID,
			ClientSecret: g.cfg.ClientSecret,
			TokenURL:     g.cfg.APIBase + "/v1/oauth2/token",
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		// Refreshes run on the gateway's own client and its timeout.
		base := context.WithValue(context.Background(), oauth2.HTTPClient, g.client)
		g.ts = cc.TokenSource(base)
	})
	return g.ts
}

// Authenticate returns a cached bearer token, fetching a new one when expired.
func (g *PayPalGateway) Authenticate(ctx context.Context) (adapter.AccessToken, error) {
	if !g.configured() {
		return adapter.AccessToken{}, fmt.Errorf("%w: paypal credentials are not set", domain.ErrConfiguration)
	}
	if err := ctx.Err(); err != nil {
		return adapter.AccessToken{}, err
	}
	tok, err := g.tokenSource().Token()
	if err != nil {
		gerr := &domain.GatewayError{Provider: providerPayPal, Op: "authenticate", Timeout: isTimeout(err), Err: err}
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) {
			gerr.Body = string(rerr.Body)
			if rerr.Response != nil {
				gerr.StatusCode = rerr.Response.StatusCode
			}
		}
		return adapter.AccessToken{}, gerr
	}
	return adapter.AccessToken{Scheme: "Bearer", Value: tok.AccessToken}, nil
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalLink struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type paypalOrder struct {
	ID            string       `json:"id"`
	Status        string       `json:"status"`
	Links         []paypalLink `json:"links"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []struct {
				ID       string       `json:"id"`
				Status   string       `json:"status"`
				Amount   paypalAmount `json:"amount"`
				CustomID string       `json:"custom_id"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (g *PayPalGateway) CreateOrder(ctx context.Context, req adapter.OrderRequest) (*adapter.Order, error) {
	tok, err := g.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": req.PaymentID,
			"custom_id":    req.PaymentID,
			"description":  req.Description,
			"amount":       paypalAmount{CurrencyCode: req.Currency, Value: req.Amount.StringFixed(2)},
		}},
		"application_context": map[string]any{
			"brand_name":          g.cfg.BrandName,
			"return_url":          g.cfg.ReturnURL,
			"cancel_url":          g.cfg.CancelURL,
			"user_action":         "PAY_NOW",
			"shipping_preference": "NO_SHIPPING",
		},
	}
	b, _ := json.Marshal(payload)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIBase+"/v2/checkout/orders", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	g.headers(hreq, tok, req.IdempotencyKey)

	body, err := do(g.client, hreq, providerPayPal, "create_order")
	if err != nil {
		return nil, err
	}
	var out paypalOrder
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, decodeError(providerPayPal, "create_order", body, err)
	}
	approve := ""
	for _, l := range out.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			approve = l.Href
			break
		}
	}
	if out.ID == "" || approve == "" {
		return nil, &domain.GatewayError{Provider: providerPayPal, Op: "create_order", Body: string(body), Err: errors.New("order id or approval link missing")}
	}
	return &adapter.Order{OrderID: out.ID, ApprovalURL: approve, Raw: body}, nil
}

// CaptureOrder captures an approved order. The request id is derived from
// the payment id so a repeated call is answered from PayPal's idempotency
// cache instead of charging twice.
func (g *PayPalGateway) CaptureOrder(ctx context.Context, orderID string, tok adapter.AccessToken, idempotencyKey string) (*adapter.CaptureResult, error) {
	if tok.Value == "" {
		var err error
		if tok, err = g.Authenticate(ctx); err != nil {
			return nil, err
		}
	}
	endpoint := fmt.Sprintf("%s/v2/checkout/orders/%s/capture", g.cfg.APIBase, url.PathEscape(orderID))
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader([]byte("{}")))
	if err != nil {
		return nil, err
	}
	g.headers(hreq, tok, "capture-"+idempotencyKey)

	body, err := do(g.client, hreq, providerPayPal, "capture")
	if err != nil {
		return nil, err
	}
	var out paypalOrder
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, decodeError(providerPayPal, "capture", body, err)
	}

	res := &adapter.CaptureResult{Status: out.Status, Raw: body}
	if len(out.PurchaseUnits) > 0 && len(out.PurchaseUnits[0].Payments.Captures) > 0 {
		c := out.PurchaseUnits[0].Payments.Captures[0]
		res.TransactionID = c.ID
		res.PaidAmount = c.Amount.Value
		res.PaidCurrency = c.Amount.CurrencyCode
		res.Completed = out.Status == "COMPLETED" && c.Status == "COMPLETED"
		res.Declined = c.Status == "DECLINED" || c.Status == "FAILED"
		if c.Status != "" && c.Status != out.Status {
			res.Status = out.Status + "/" + c.Status
		}
	}
	return res, nil
}

func (g *PayPalGateway) headers(req *http.Request, tok adapter.AccessToken, requestID string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Prefer", "return=representation")
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}
}
