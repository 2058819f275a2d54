package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/domain/ports/repository"
	ucport "matrimony-billing/internal/domain/ports/usecase"
	"matrimony-billing/internal/infra/metrics"
)

const (
	reasonGatewayTimeout  = "gateway timeout; manual reconciliation required"
	reasonAbandoned       = "checkout abandoned"
	reasonPackageMismatch = "package mismatch"
)

// Compile-time check
var _ PaymentUseCase = (*paymentUC)(nil)

type PaymentUseCase interface {
	// Checkout prices the package, records a pending payment and creates the
	// provider order. It returns the URL the user must visit to pay.
	Checkout(ctx context.Context, userID string, packageID model.PackageID, method model.PaymentMethod) (*CheckoutResult, error)
	// Capture finalises a client-approved order after re-validating it server side.
	Capture(ctx context.Context, req CaptureRequest) (*PaymentOutcome, error)
	// HandleEpointWebhook verifies and applies a signed provider callback.
	HandleEpointWebhook(ctx context.Context, data, signature string) (*PaymentOutcome, error)
	// Reconcile drives one stuck record forward (background worker and admin).
	Reconcile(ctx context.Context, rec *model.PaymentRecord) (*PaymentOutcome, error)
	ReconcileByID(ctx context.Context, paymentID string) (*PaymentOutcome, error)

	// Get returns the record only to its owner.
	Get(ctx context.Context, userID, paymentID string) (*model.PaymentRecord, error)
	ListByStatus(ctx context.Context, status model.PaymentStatus, limit int) ([]*model.PaymentRecord, error)
}

// RateLimiter throttles per-user actions. Allow reports false once exhausted.
type RateLimiter interface {
	Allow(ctx context.Context, userID, action string) (bool, error)
}

type CheckoutResult struct {
	Payment     *model.PaymentRecord
	OrderID     string
	ApprovalURL string
}

type CaptureRequest struct {
	UserID    string
	OrderID   string
	PackageID model.PackageID
	Method    model.PaymentMethod // defaults to paypal
}

// PaymentOutcome describes what a capture, webhook or reconcile call did.
type PaymentOutcome struct {
	Payment          *model.PaymentRecord
	AlreadyProcessed bool // another request already moved the record out of pending
	Entitlement      *model.UserPackage
	// EntitlementPending is set when the payment completed but the grant
	// failed and was handed to reconciliation.
	EntitlementPending bool
	Action             string // reconcile only: activated|completed|failed|abandoned|skipped
}

type PaymentOptions struct {
	AbandonAfter time.Duration // pending records older than this are failed by Reconcile
}

type paymentUC struct {
	payments     repository.PaymentRepository
	pricing      PricingUseCase
	entitlements ucport.EntitlementActivator
	gateways     map[model.PaymentMethod]adapter.PaymentGateway
	epoint       adapter.WebhookVerifier
	limiter      RateLimiter
	notifier     adapter.OpsNotifier
	audit        adapter.AuditArchive
	opts         PaymentOptions
	log          *zerolog.Logger
}

// NewPaymentUseCase wires payment orchestration. limiter, notifier, audit and
// epoint may be nil.
func NewPaymentUseCase(
	payments repository.PaymentRepository,
	pricing PricingUseCase,
	entitlements ucport.EntitlementActivator,
	gateways []adapter.PaymentGateway,
	epoint adapter.WebhookVerifier,
	limiter RateLimiter,
	notifier adapter.OpsNotifier,
	audit adapter.AuditArchive,
	opts PaymentOptions,
	logger *zerolog.Logger,
) *paymentUC {
	gw := make(map[model.PaymentMethod]adapter.PaymentGateway, len(gateways))
	for _, g := range gateways {
		if g != nil {
			gw[g.Method()] = g
		}
	}
	if opts.AbandonAfter <= 0 {
		opts.AbandonAfter = 3 * time.Hour
	}
	return &paymentUC{
		payments:     payments,
		pricing:      pricing,
		entitlements: entitlements,
		gateways:     gw,
		epoint:       epoint,
		limiter:      limiter,
		notifier:     notifier,
		audit:        audit,
		opts:         opts,
		log:          nopIfNil(logger),
	}
}

func (u *paymentUC) gateway(method model.PaymentMethod) (adapter.PaymentGateway, error) {
	g, ok := u.gateways[method]
	if !ok {
		// Registered gateways report missing credentials themselves; an
		// unregistered method is the caller's choice.
		return nil, fmt.Errorf("%w: payment method %q is not available", domain.ErrValidation, method)
	}
	return g, nil
}

// ----------------------------------------------------------------------------
// Checkout
// ----------------------------------------------------------------------------

func (u *paymentUC) Checkout(ctx context.Context, userID string, packageID model.PackageID, method model.PaymentMethod) (*CheckoutResult, error) {
	gw, err := u.gateway(method)
	if err != nil {
		return nil, err
	}
	if u.limiter != nil {
		ok, err := u.limiter.Allow(ctx, userID, "checkout")
		if err != nil {
			u.log.Warn().Err(err).Str("user_id", userID).Msg("rate limiter unavailable; allowing checkout")
		} else if !ok {
			return nil, domain.ErrRateLimited
		}
	}

	quote, err := u.pricing.Quote(ctx, userID, packageID, method)
	if err != nil {
		return nil, err
	}
	if !quote.Amount.IsPositive() {
		return nil, domain.ErrNoPaymentRequired
	}

	// Credentials are checked before anything is persisted.
	if _, err := gw.Authenticate(ctx); err != nil {
		return nil, err
	}

	rec, err := model.NewPendingPayment(userID, quote.Package, quote.Amount, method)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := u.payments.CreatePending(ctx, repository.NoTX, rec); err != nil {
		return nil, err
	}
	metrics.IncPayment(string(method), string(model.PaymentStatusPending))

	order, err := gw.CreateOrder(ctx, adapter.OrderRequest{
		PaymentID:      rec.ID,
		IdempotencyKey: rec.ID,
		Amount:         rec.Amount,
		Currency:       rec.Currency,
		Description:    quote.Package.Name,
		UserID:         userID,
		PackageID:      rec.PackageType,
	})
	if err != nil {
		u.fail(ctx, rec, "order creation failed: "+err.Error(), gatewayBody(err))
		return nil, err
	}
	u.archive(ctx, rec.ID, "order_created", order.Raw)

	if err := u.payments.SetGatewayOrder(ctx, repository.NoTX, rec.ID, order.OrderID, order.Raw); err != nil {
		return nil, err
	}
	orderID := order.OrderID
	rec.GatewayOrderID = &orderID

	u.log.Info().Str("payment_id", rec.ID).Str("user_id", userID).Str("method", string(method)).
		Str("package", string(rec.PackageType)).Str("amount", rec.AmountString()).Str("currency", rec.Currency).
		Msg("checkout created")
	return &CheckoutResult{Payment: rec, OrderID: order.OrderID, ApprovalURL: order.ApprovalURL}, nil
}

// ----------------------------------------------------------------------------
// Capture (client-confirmed)
// ----------------------------------------------------------------------------

func (u *paymentUC) Capture(ctx context.Context, req CaptureRequest) (*PaymentOutcome, error) {
	method := req.Method
	if method == "" {
		method = model.PaymentMethodPayPal
	}
	start := time.Now()
	defer func() {
		metrics.PaymentCaptureDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(req.OrderID) == "" || req.PackageID == "" {
		return nil, fmt.Errorf("%w: order id and package id are required", domain.ErrValidation)
	}
	gw, err := u.gateway(method)
	if err != nil {
		return nil, err
	}

	rec, err := u.payments.FindByGatewayOrderID(ctx, repository.NoTX, method, req.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncCapture("fail", "not_found")
		}
		return nil, err
	}
	if rec.UserID != req.UserID {
		metrics.IncCapture("fail", "not_found")
		return nil, domain.ErrNotFound
	}
	if rec.Status != model.PaymentStatusPending {
		return u.alreadyProcessed(rec), nil
	}

	if rec.PackageType != req.PackageID {
		if out := u.fail(ctx, rec, reasonPackageMismatch, nil); out != nil {
			return out, nil
		}
		metrics.IncCapture("fail", "package_mismatch")
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, reasonPackageMismatch)
	}

	quote, err := u.pricing.Quote(ctx, rec.UserID, rec.PackageType, method)
	if err != nil {
		return nil, err
	}
	if quote.Currency != rec.Currency || !quote.Amount.Equal(rec.Amount) {
		reason := fmt.Sprintf("expected amount %s %s, recorded %s %s",
			FormatAmount(quote.Amount), quote.Currency, rec.AmountString(), rec.Currency)
		if out := u.fail(ctx, rec, reason, nil); out != nil {
			return out, nil
		}
		metrics.IncCapture("fail", "amount_mismatch")
		return nil, fmt.Errorf("%w: %s", domain.ErrAmountMismatch, reason)
	}

	tok, err := gw.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	res, err := gw.CaptureOrder(ctx, req.OrderID, tok, rec.ID)
	if err != nil {
		return nil, u.gatewayFailure(ctx, rec, err)
	}
	u.archive(ctx, rec.ID, "capture", res.Raw)
	return u.settle(ctx, rec, res)
}

// ----------------------------------------------------------------------------
// Webhook (signature provider)
// ----------------------------------------------------------------------------

func (u *paymentUC) HandleEpointWebhook(ctx context.Context, data, signature string) (*PaymentOutcome, error) {
	start := time.Now()
	defer func() {
		metrics.PaymentCaptureDuration.WithLabelValues(string(model.PaymentMethodEpoint)).Observe(time.Since(start).Seconds())
	}()

	if u.epoint == nil {
		return nil, fmt.Errorf("%w: epoint webhook verifier", domain.ErrConfiguration)
	}
	// Nothing in data is trusted, or looked up, before the signature verifies.
	note, err := u.epoint.ParseWebhook(data, signature)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			metrics.IncWebhookSignatureFailure(string(model.PaymentMethodEpoint))
			u.log.Warn().Msg("epoint webhook rejected: invalid signature")
		}
		return nil, err
	}

	rec, err := u.payments.FindByID(ctx, repository.NoTX, note.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.IncCapture("fail", "not_found")
		}
		return nil, err
	}
	if rec.PaymentMethod != model.PaymentMethodEpoint {
		return nil, domain.ErrNotFound
	}
	u.archive(ctx, rec.ID, "webhook", note.Raw)
	if rec.Status != model.PaymentStatusPending {
		return u.alreadyProcessed(rec), nil
	}

	// Interim statuses are acknowledged without a transition; the reconciler
	// settles the record from get-status later.
	if !note.Completed && !note.Declined {
		u.log.Info().Str("payment_id", rec.ID).Str("status", note.Status).Msg("epoint webhook: interim status")
		return &PaymentOutcome{Payment: rec, Action: "skipped"}, nil
	}

	res := &adapter.CaptureResult{
		Status:        note.Status,
		Completed:     note.Completed,
		Declined:      note.Declined,
		PaidAmount:    note.Amount,
		PaidCurrency:  note.Currency,
		TransactionID: note.TransactionID,
		Raw:           note.Raw,
	}
	// Callbacks that omit the amount are confirmed through get-status.
	if note.Completed && note.Amount == "" {
		gw, err := u.gateway(model.PaymentMethodEpoint)
		if err != nil {
			return nil, err
		}
		tok, err := gw.Authenticate(ctx)
		if err != nil {
			return nil, err
		}
		if res, err = gw.CaptureOrder(ctx, rec.ID, tok, rec.ID); err != nil {
			return nil, u.gatewayFailure(ctx, rec, err)
		}
		u.archive(ctx, rec.ID, "get_status", res.Raw)
	}
	out, err := u.settle(ctx, rec, res)
	if errors.Is(err, domain.ErrNotCompleted) {
		return out, nil
	}
	return out, err
}

// ----------------------------------------------------------------------------
// Reconcile
// ----------------------------------------------------------------------------

func (u *paymentUC) ReconcileByID(ctx context.Context, paymentID string) (*PaymentOutcome, error) {
	rec, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	return u.Reconcile(ctx, rec)
}

func (u *paymentUC) Reconcile(ctx context.Context, rec *model.PaymentRecord) (*PaymentOutcome, error) {
	if rec == nil {
		return nil, domain.ErrInvalidArgument
	}
	out, err := u.reconcile(ctx, rec)
	action := "error"
	if out != nil && out.Action != "" {
		action = out.Action
	}
	metrics.IncReconcileJob(action)
	return out, err
}

func (u *paymentUC) reconcile(ctx context.Context, rec *model.PaymentRecord) (*PaymentOutcome, error) {
	switch rec.Status {
	case model.PaymentStatusCompleted:
		if rec.ActivatedAt != nil {
			return &PaymentOutcome{Payment: rec, AlreadyProcessed: true, Action: "skipped"}, nil
		}
		up, err := u.entitlements.Activate(ctx, rec)
		if errors.Is(err, domain.ErrAlreadyProcessed) {
			return &PaymentOutcome{Payment: rec, AlreadyProcessed: true, Action: "skipped"}, nil
		}
		if err != nil {
			return &PaymentOutcome{Payment: rec, EntitlementPending: true}, err
		}
		return &PaymentOutcome{Payment: rec, Entitlement: up, Action: "activated"}, nil

	case model.PaymentStatusPending:
	default:
		return &PaymentOutcome{Payment: rec, AlreadyProcessed: true, Action: "skipped"}, nil
	}

	abandoned := time.Since(rec.CreatedAt) > u.opts.AbandonAfter

	// Only the signature provider can be asked for the outcome without the
	// user's approval; everything else just expires.
	if rec.PaymentMethod == model.PaymentMethodEpoint {
		gw, err := u.gateway(rec.PaymentMethod)
		if err != nil {
			return nil, err
		}
		tok, err := gw.Authenticate(ctx)
		if err != nil {
			return nil, err
		}
		res, err := gw.CaptureOrder(ctx, rec.ID, tok, rec.ID)
		if err != nil {
			var gerr *domain.GatewayError
			if errors.As(err, &gerr) && gerr.Timeout {
				// A status lookup that times out changes nothing; try again next tick.
				return &PaymentOutcome{Payment: rec, Action: "skipped"}, nil
			}
			return nil, err
		}
		u.archive(ctx, rec.ID, "get_status", res.Raw)
		if res.Completed || res.Declined {
			out, err := u.settle(ctx, rec, res)
			if out == nil {
				return nil, err
			}
			if out.AlreadyProcessed {
				out.Action = "skipped"
			} else {
				out.Action = string(out.Payment.Status)
			}
			// A rejected result is a decision, not a reconcile failure.
			if errors.Is(err, domain.ErrValidation) {
				err = nil
			}
			return out, err
		}
	}

	if !abandoned {
		return &PaymentOutcome{Payment: rec, Action: "skipped"}, nil
	}
	won, err := u.payments.MarkFailed(ctx, repository.NoTX, rec.ID, reasonAbandoned, nil)
	if err != nil {
		return nil, err
	}
	if !won {
		return u.alreadyProcessed(rec), nil
	}
	metrics.IncPayment(string(rec.PaymentMethod), string(model.PaymentStatusFailed))
	rec.Status = model.PaymentStatusFailed
	reason := reasonAbandoned
	rec.FailureReason = &reason
	u.log.Info().Str("payment_id", rec.ID).Str("user_id", rec.UserID).Str("method", string(rec.PaymentMethod)).
		Msg("pending payment abandoned")
	return &PaymentOutcome{Payment: rec, Action: "abandoned"}, nil
}

// ----------------------------------------------------------------------------
// Queries
// ----------------------------------------------------------------------------

func (u *paymentUC) Get(ctx context.Context, userID, paymentID string) (*model.PaymentRecord, error) {
	rec, err := u.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

func (u *paymentUC) ListByStatus(ctx context.Context, status model.PaymentStatus, limit int) ([]*model.PaymentRecord, error) {
	return u.payments.ListByStatus(ctx, repository.NoTX, status, limit)
}

// ----------------------------------------------------------------------------
// Shared transitions
// ----------------------------------------------------------------------------

// settle validates a provider result against the stored record and performs
// the terminal transition. The record's amount was computed server side at
// checkout; provider-reported values are only compared against it.
//
// On rejection the record is failed and both the outcome and the error are
// returned.
func (u *paymentUC) settle(ctx context.Context, rec *model.PaymentRecord, res *adapter.CaptureResult) (*PaymentOutcome, error) {
	if !res.Completed {
		if out := u.fail(ctx, rec, fmt.Sprintf("gateway status %q", res.Status), res.Raw); out != nil {
			return out, nil
		}
		metrics.IncCapture("fail", "not_completed")
		return &PaymentOutcome{Payment: rec}, fmt.Errorf("%w (%s)", domain.ErrNotCompleted, res.Status)
	}

	if reason, ok := matchesRecord(rec, res); !ok {
		if out := u.fail(ctx, rec, reason, res.Raw); out != nil {
			return out, nil
		}
		metrics.IncCapture("fail", "amount_mismatch")
		u.log.Warn().Str("payment_id", rec.ID).Str("user_id", rec.UserID).
			Str("reported_amount", res.PaidAmount).Str("reported_currency", res.PaidCurrency).
			Str("expected_amount", rec.AmountString()).Str("expected_currency", rec.Currency).
			Msg("gateway result rejected")
		return &PaymentOutcome{Payment: rec}, fmt.Errorf("%w: %s", domain.ErrAmountMismatch, reason)
	}

	return u.finalize(ctx, rec, res)
}

// matchesRecord compares the provider-reported amount and currency with the
// record. Amounts must denote exactly the recorded value: "0.5" and "0.50"
// match, "0.499" does not match "0.50".
func matchesRecord(rec *model.PaymentRecord, res *adapter.CaptureResult) (string, bool) {
	if !strings.EqualFold(strings.TrimSpace(res.PaidCurrency), rec.Currency) {
		return fmt.Sprintf("currency %q, expected %s", res.PaidCurrency, rec.Currency), false
	}
	paid, err := decimal.NewFromString(strings.TrimSpace(res.PaidAmount))
	if err != nil {
		return fmt.Sprintf("unparseable amount %q", res.PaidAmount), false
	}
	if !paid.Equal(rec.Amount) {
		return fmt.Sprintf("amount %s, expected %s", res.PaidAmount, rec.AmountString()), false
	}
	return "", true
}

func (u *paymentUC) finalize(ctx context.Context, rec *model.PaymentRecord, res *adapter.CaptureResult) (*PaymentOutcome, error) {
	won, err := u.payments.MarkCompleted(ctx, repository.NoTX, rec.ID, res.TransactionID, res.Raw)
	if err != nil {
		return nil, err
	}
	if !won {
		return u.reloadProcessed(ctx, rec), nil
	}

	rec.Status = model.PaymentStatusCompleted
	rec.ServerValidated = true
	if res.TransactionID != "" {
		txID := res.TransactionID
		rec.TransactionID = &txID
	}
	metrics.IncPayment(string(rec.PaymentMethod), string(model.PaymentStatusCompleted))
	metrics.AddPaymentRevenue(rec.Currency, rec.Amount)
	metrics.IncCapture("ok", "")
	u.log.Info().Str("payment_id", rec.ID).Str("user_id", rec.UserID).Str("method", string(rec.PaymentMethod)).
		Str("amount", rec.AmountString()).Str("currency", rec.Currency).Msg("payment completed")

	out := &PaymentOutcome{Payment: rec}
	up, err := u.entitlements.Activate(ctx, rec)
	switch {
	case err == nil:
		now := up.ActivatedAt
		rec.ActivatedAt = &now
		out.Entitlement = up
	case errors.Is(err, domain.ErrAlreadyProcessed):
		// granted concurrently by the reconciler
	default:
		// The payment succeeded; the grant is retried in the background.
		out.EntitlementPending = true
	}
	return out, nil
}

// fail marks rec failed. It returns a non-nil outcome only when another
// request had already moved the record out of pending.
func (u *paymentUC) fail(ctx context.Context, rec *model.PaymentRecord, reason string, raw json.RawMessage) *PaymentOutcome {
	won, err := u.payments.MarkFailed(ctx, repository.NoTX, rec.ID, reason, raw)
	if err != nil {
		u.log.Error().Err(err).Str("payment_id", rec.ID).Str("reason", reason).Msg("could not mark payment failed")
		return nil
	}
	if !won {
		return u.reloadProcessed(ctx, rec)
	}
	rec.Status = model.PaymentStatusFailed
	rec.FailureReason = &reason
	metrics.IncPayment(string(rec.PaymentMethod), string(model.PaymentStatusFailed))
	u.log.Info().Str("payment_id", rec.ID).Str("user_id", rec.UserID).Str("method", string(rec.PaymentMethod)).
		Str("reason", reason).Msg("payment failed")
	return nil
}

// gatewayFailure records a failed gateway call on rec. Timeouts are failed
// with a reconciliation marker and raised to operators, never assumed paid.
func (u *paymentUC) gatewayFailure(ctx context.Context, rec *model.PaymentRecord, err error) error {
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) && gerr.Timeout {
		u.fail(ctx, rec, reasonGatewayTimeout, nil)
		metrics.IncCapture("fail", "timeout")
		metrics.IncReconciliationError("gateway_timeout")
		u.alert(ctx, adapter.Alert{
			Kind: "gateway_timeout", PaymentID: rec.ID, UserID: rec.UserID,
			Message: fmt.Sprintf("%s capture timed out; verify the order at the provider before refunding or granting", rec.PaymentMethod),
		})
		return err
	}
	u.fail(ctx, rec, "gateway error: "+err.Error(), gatewayBody(err))
	metrics.IncCapture("fail", "gateway_error")
	return err
}

func (u *paymentUC) alreadyProcessed(rec *model.PaymentRecord) *PaymentOutcome {
	metrics.IncCapture("noop", "already_processed")
	u.log.Info().Str("payment_id", rec.ID).Str("status", string(rec.Status)).Msg("payment already processed")
	return &PaymentOutcome{Payment: rec, AlreadyProcessed: true, Action: "skipped"}
}

func (u *paymentUC) reloadProcessed(ctx context.Context, rec *model.PaymentRecord) *PaymentOutcome {
	if fresh, err := u.payments.FindByID(ctx, repository.NoTX, rec.ID); err == nil {
		rec = fresh
	}
	return u.alreadyProcessed(rec)
}

func (u *paymentUC) alert(ctx context.Context, a adapter.Alert) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Notify(ctx, a); err != nil {
		u.log.Warn().Err(err).Str("payment_id", a.PaymentID).Msg("ops alert failed")
	}
}

func (u *paymentUC) archive(ctx context.Context, paymentID, event string, raw json.RawMessage) {
	if u.audit == nil || len(raw) == 0 {
		return
	}
	if err := u.audit.Archive(ctx, paymentID, event, raw); err != nil {
		u.log.Warn().Err(err).Str("payment_id", paymentID).Str("event", event).Msg("audit archive failed")
	}
}

// gatewayBody extracts the raw provider response from a gateway error.
func gatewayBody(err error) json.RawMessage {
	var gerr *domain.GatewayError
	if errors.As(err, &gerr) && gerr.Body != "" {
		return json.RawMessage(gerr.Body)
	}
	return nil
}
