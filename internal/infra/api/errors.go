package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/infra/logging"
)

type errorBody struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor classifies an error for the HTTP boundary. Order matters: the
// payment sentinels wrap ErrValidation.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrGateway):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// publicMessage keeps internal details out of responses.
func publicMessage(status int, err error) string {
	switch {
	case errors.Is(err, domain.ErrConfiguration):
		return "payment service is not configured"
	case errors.Is(err, domain.ErrGateway):
		return "payment provider error"
	case status == http.StatusUnauthorized:
		return "authentication required"
	case status == http.StatusNotFound:
		return "not found"
	case status >= 500:
		return "internal error"
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zerolog.Logger, err error) {
	status := statusFor(err)
	l := logging.With(r.Context(), logger)
	ev := l.Warn()
	if status >= 500 {
		ev = l.Error()
	}
	ev.Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")
	body := errorBody{Error: publicMessage(status, err)}
	if status >= 500 {
		body.TraceID = logging.TraceIDFrom(r.Context())
	}
	writeJSON(w, status, body)
}
