package model

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // checkout initiated; awaiting capture or webhook
	PaymentStatusCompleted PaymentStatus = "completed" // server validated amount, currency and status
	PaymentStatusFailed    PaymentStatus = "failed"    // validation failed, gateway rejected, or superseded
	PaymentStatusRefunded  PaymentStatus = "refunded"  // set manually by support
)

// IsTerminal reports whether no further capture may happen for the status.
func (s PaymentStatus) IsTerminal() bool { return s != PaymentStatusPending }

func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch st := PaymentStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return st, nil
	}
	return "", domain.ErrInvalidArgument
}

type PaymentMethod string

const (
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodEpoint PaymentMethod = "epoint"
	PaymentMethodOther  PaymentMethod = "other"
)

// Currency is the settlement currency each gateway charges in.
func (m PaymentMethod) Currency() string {
	switch m {
	case PaymentMethodEpoint:
		return "AZN"
	default:
		return "USD"
	}
}

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentMethodPayPal, PaymentMethodEpoint, PaymentMethodOther:
		return m, nil
	}
	return "", domain.ErrInvalidArgument
}

// PaymentRecord is one payment attempt. ID doubles as the idempotency key for
// every gateway call made on behalf of the record.
type PaymentRecord struct {
	ID              string
	UserID          string
	PackageType     PackageID
	PackageName     string
	Amount          decimal.Decimal
	Currency        string
	Status          PaymentStatus
	PaymentMethod   PaymentMethod
	GatewayOrderID  *string // provider order/transaction handle returned at checkout
	TransactionID   *string // provider capture id; nil until completed
	GatewayResponse json.RawMessage
	ServerValidated bool
	FailureReason   *string
	ActivatedAt     *time.Time // set once the entitlement for this record was granted
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewPendingPayment validates and constructs a pending record.
func NewPendingPayment(userID string, pkg Package, amount decimal.Decimal, method PaymentMethod) (*PaymentRecord, error) {
	if strings.TrimSpace(userID) == "" || pkg.ID == "" || !amount.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &PaymentRecord{
		ID:            uuid.NewString(),
		UserID:        userID,
		PackageType:   pkg.ID,
		PackageName:   pkg.Name,
		Amount:        amount.Round(2),
		Currency:      method.Currency(),
		Status:        PaymentStatusPending,
		PaymentMethod: method,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// AmountString renders the amount at currency minor-unit precision ("0.50").
func (p *PaymentRecord) AmountString() string { return p.Amount.StringFixed(2) }
