package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")

	// Request classification (mapped to HTTP status at the API boundary)
	ErrConfiguration  = errors.New("service is not configured")
	ErrAuthentication = errors.New("authentication required")
	ErrValidation     = errors.New("validation failed")
	ErrRateLimited    = errors.New("too many requests")

	// Payment lifecycle
	ErrGateway           = errors.New("payment gateway error")
	ErrReconciliation    = errors.New("entitlement reconciliation required")
	ErrAlreadyProcessed  = errors.New("payment already processed")
	ErrAmountMismatch    = fmt.Errorf("%w: amount or currency mismatch", ErrValidation)
	ErrNotCompleted      = fmt.Errorf("%w: payment not completed", ErrValidation)
	ErrNoPaymentRequired = fmt.Errorf("%w: no payment required for this package", ErrValidation)
	ErrUnknownPackage    = fmt.Errorf("%w: unknown package", ErrValidation)
	ErrInvalidSignature  = fmt.Errorf("%w: invalid signature", ErrValidation)
)

// GatewayError carries the raw provider response of a failed gateway call so it
// can be stored on the payment record for audit.
type GatewayError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Timeout    bool
	Err        error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s %s: timeout: %v", e.Provider, e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: http %d", e.Provider, e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s failed", e.Provider, e.Op)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrGateway, e.Err}
	}
	return []error{ErrGateway}
}

// ReconciliationError marks a payment that completed without its entitlement
// being granted. The payment itself succeeded.
type ReconciliationError struct {
	PaymentID string
	UserID    string
	Err       error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("entitlement activation failed for payment %s (user %s): %v", e.PaymentID, e.UserID, e.Err)
}

func (e *ReconciliationError) Unwrap() []error { return []error{ErrReconciliation, e.Err} }
