package api

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"matrimony-billing/internal/domain/ports/adapter"
	ucport "matrimony-billing/internal/domain/ports/usecase"
	"matrimony-billing/internal/usecase"
)

// Deps are the use cases and settings the HTTP layer serves.
type Deps struct {
	Payments       usecase.PaymentUseCase
	Pricing        usecase.PricingUseCase
	Entitlements   ucport.EntitlementActivator
	Stats          usecase.StatsUseCase
	Verifier       adapter.TokenVerifier
	AdminAPIKey    string
	RequestTimeout time.Duration
}

// Server exposes checkout, capture, webhook and admin routes.
type Server struct {
	deps     Deps
	validate *validator.Validate
	log      *zerolog.Logger
	srv      *http.Server
}

func NewServer(deps Deps, logger *zerolog.Logger) *Server {
	if logger == nil {
		l := zerolog.Nop()
		logger = &l
	}
	if deps.RequestTimeout <= 0 {
		deps.RequestTimeout = 30 * time.Second
	}
	return &Server{deps: deps, validate: validator.New(), log: logger}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/payment/result", s.handleResult)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/packages", s.handlePackages)
		r.Post("/webhooks/epoint", s.handleEpointWebhook)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser(s.deps.Verifier, s.log))
			r.Get("/entitlement", s.handleEntitlement)
			r.Post("/checkout", s.handleCheckout)
			r.Post("/capture", s.handleCapture)
			r.Get("/payments/{id}", s.handleGetPayment)
		})
	})

	r.Route("/admin/v1", func(r chi.Router) {
		r.Use(RequireAdminKey(s.deps.AdminAPIKey, s.log))
		r.Get("/payments", s.handleAdminList)
		r.Post("/payments/{id}/reconcile", s.handleAdminReconcile)
		r.Get("/revenue", s.handleAdminRevenue)
	})

	return Chain(r,
		TraceID(s.log),
		RequestLog(s.log),
		Recover(s.log),
		Timeout(s.deps.RequestTimeout),
	)
}

// Start blocks serving on port until Shutdown.
func (s *Server) Start(port int) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

var page = template.Must(template.New("result").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8" />
<meta name="viewport" content="width=device-width,initial-scale=1" />
<title>Payment {{if .OK}}Received{{else}}Cancelled{{end}}</title>
<style>
body{font-family:system-ui,Arial,sans-serif;margin:2rem;}
.card{max-width:560px;border:1px solid #ddd;border-radius:12px;padding:24px;}
.ok{color:#057a55} .fail{color:#b00020}
.small{font-size:12px;color:#666}
</style>
</head>
<body>
<div class="card">
  <h2 class="{{if .OK}}ok{{else}}fail{{end}}">{{if .OK}}Payment Received{{else}}Payment Not Completed{{end}}</h2>
  <p>{{.Msg}}</p>
  <div class="small">You can close this window and return to the app.</div>
</div>
</body>
</html>`))

// handleResult is the browser landing page for gateway return/cancel urls.
// It never changes payment state; the app captures or the webhook settles.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	ok := r.URL.Query().Get("status") != "cancel"
	msg := "Your payment is being confirmed. Your package is activated as soon as the provider confirms it."
	if !ok {
		msg = "The payment was cancelled. No money was taken."
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = page.Execute(w, struct {
		OK  bool
		Msg string
	}{OK: ok, Msg: msg})
}
