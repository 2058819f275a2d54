package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/model"
	"matrimony-billing/internal/infra/adapters/payment"
	"matrimony-billing/internal/usecase"
)

const (
	maxJSONBody    = 64 << 10
	maxWebhookBody = 1 << 20

	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed json body: %v", domain.ErrValidation, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

func (s *Server) handlePackages(w http.ResponseWriter, _ *http.Request) {
	pkgs := s.deps.Pricing.Packages()
	out := make([]packageView, 0, len(pkgs))
	for _, p := range pkgs {
		out = append(out, toPackageView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"packages": out})
}

func (s *Server) handleEntitlement(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	up, err := s.deps.Entitlements.Current(r.Context(), id.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]any{"entitlement": nil})
		return
	}
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entitlement": toEntitlementView(up)})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	method, err := model.ParsePaymentMethod(req.PaymentMethod)
	if err != nil {
		writeError(w, r, s.log, fmt.Errorf("%w: %v", domain.ErrValidation, err))
		return
	}
	id, _ := identityFrom(r.Context())
	res, err := s.deps.Payments.Checkout(r.Context(), id.UserID, model.NormalizePackageID(req.PackageID), method)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		PaymentID:   res.Payment.ID,
		OrderID:     res.OrderID,
		ApprovalURL: res.ApprovalURL,
		Amount:      res.Payment.AmountString(),
		Currency:    res.Payment.Currency,
	})
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, s.log, err)
		return
	}
	method := model.PaymentMethodPayPal
	if req.PaymentMethod != "" {
		m, err := model.ParsePaymentMethod(req.PaymentMethod)
		if err != nil {
			writeError(w, r, s.log, fmt.Errorf("%w: %v", domain.ErrValidation, err))
			return
		}
		method = m
	}
	id, _ := identityFrom(r.Context())
	out, err := s.deps.Payments.Capture(r.Context(), usecase.CaptureRequest{
		UserID:    id.UserID,
		OrderID:   req.OrderID,
		PackageID: model.NormalizePackageID(req.PackageID),
		Method:    method,
	})
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcome(out))
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	rec, err := s.deps.Payments.Get(r.Context(), id.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentView(rec, false))
}

// handleEpointWebhook accepts the provider callback. Signature failures are
// rejected before the body is trusted; declined payments answer 200.
func (s *Server) handleEpointWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, s.log, fmt.Errorf("%w: read body: %v", domain.ErrValidation, err))
		return
	}
	data, sig, err := payment.DecodeWebhookBody(r.Header.Get("Content-Type"), body)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	out, err := s.deps.Payments.HandleEpointWebhook(r.Context(), data, sig)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcome(out))
}

func (s *Server) handleAdminList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := model.PaymentStatusPending
	if raw := q.Get("status"); raw != "" {
		st, err := model.ParsePaymentStatus(strings.ToLower(raw))
		if err != nil {
			writeError(w, r, s.log, fmt.Errorf("%w: %v", domain.ErrValidation, err))
			return
		}
		status = st
	}
	limit := defaultListLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, s.log, fmt.Errorf("%w: limit must be a positive integer", domain.ErrValidation))
			return
		}
		limit = min(n, maxListLimit)
	}
	recs, err := s.deps.Payments.ListByStatus(r.Context(), status, limit)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	out := make([]paymentView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toPaymentView(rec, true))
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": out})
}

func (s *Server) handleAdminReconcile(w http.ResponseWriter, r *http.Request) {
	out, err := s.deps.Payments.ReconcileByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, toOutcome(out))
}

// handleAdminRevenue accepts since as a duration ("24h") or an RFC 3339 time.
func (s *Server) handleAdminRevenue(w http.ResponseWriter, r *http.Request) {
	since, err := parseSince(r.URL.Query().Get("since"), time.Now())
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	totals, err := s.deps.Stats.Revenue(r.Context(), since)
	if err != nil {
		writeError(w, r, s.log, err)
		return
	}
	out := make(map[string]string, len(totals))
	for cur, v := range totals {
		out[cur] = usecase.FormatAmount(v)
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since.UTC(), "revenue": out})
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-24 * time.Hour), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return now.Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: since must be a duration or RFC 3339 time", domain.ErrValidation)
}
