package api

import (
	"time"

	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/usecase"
)

type checkoutRequest struct {
	PackageID     string `json:"package_id" validate:"required,max=64"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=paypal epoint other"`
}

type captureRequest struct {
	OrderID       string `json:"order_id" validate:"required,max=128"`
	PackageID     string `json:"package_id" validate:"required,max=64"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=paypal epoint other"`
}

type packageView struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Prices   map[string]string `json:"prices"`
	Lifetime bool              `json:"lifetime"`
}

func toPackageView(p model.Package) packageView {
	prices := make(map[string]string, len(p.Prices))
	for cur, v := range p.Prices {
		prices[cur] = usecase.FormatAmount(v)
	}
	return packageView{ID: string(p.ID), Name: p.Name, Prices: prices, Lifetime: p.Lifetime}
}

type paymentView struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id,omitempty"`
	PackageType     string     `json:"package_type"`
	PackageName     string     `json:"package_name"`
	Amount          string     `json:"amount"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	PaymentMethod   string     `json:"payment_method"`
	GatewayOrderID  *string    `json:"gateway_order_id,omitempty"`
	TransactionID   *string    `json:"transaction_id,omitempty"`
	ServerValidated bool       `json:"server_validated"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toPaymentView(p *model.PaymentRecord, withUser bool) paymentView {
	v := paymentView{
		ID:              p.ID,
		PackageType:     string(p.PackageType),
		PackageName:     p.PackageName,
		Amount:          p.AmountString(),
		Currency:        p.Currency,
		Status:          string(p.Status),
		PaymentMethod:   string(p.PaymentMethod),
		GatewayOrderID:  p.GatewayOrderID,
		TransactionID:   p.TransactionID,
		ServerValidated: p.ServerValidated,
		FailureReason:   p.FailureReason,
		ActivatedAt:     p.ActivatedAt,
		CreatedAt:       p.CreatedAt,
	}
	if withUser {
		v.UserID = p.UserID
	}
	return v
}

type entitlementView struct {
	PackageType string    `json:"package_type"`
	PackageName string    `json:"package_name"`
	AmountPaid  string    `json:"amount_paid"`
	IsLifetime  bool      `json:"is_lifetime"`
	ActivatedAt time.Time `json:"activated_at"`
	PaymentID   string    `json:"payment_id"`
}

func toEntitlementView(up *model.UserPackage) *entitlementView {
	if up == nil {
		return nil
	}
	return &entitlementView{
		PackageType: string(up.PackageType),
		PackageName: up.PackageName,
		AmountPaid:  usecase.FormatAmount(up.AmountPaid),
		IsLifetime:  up.IsLifetime,
		ActivatedAt: up.ActivatedAt,
		PaymentID:   up.PaymentID,
	}
}

type checkoutResponse struct {
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id"`
	ApprovalURL string `json:"approval_url"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

type outcomeResponse struct {
	Status             string           `json:"status"`
	PaymentID          string           `json:"payment_id"`
	AlreadyProcessed   bool             `json:"already_processed"`
	EntitlementPending bool             `json:"entitlement_pending,omitempty"`
	Entitlement        *entitlementView `json:"entitlement,omitempty"`
	Action             string           `json:"action,omitempty"`
}

func toOutcome(out *usecase.PaymentOutcome) outcomeResponse {
	return outcomeResponse{
		Status:             string(out.Payment.Status),
		PaymentID:          out.Payment.ID,
		AlreadyProcessed:   out.AlreadyProcessed,
		EntitlementPending: out.EntitlementPending,
		Entitlement:        toEntitlementView(out.Entitlement),
		Action:             out.Action,
	}
}
