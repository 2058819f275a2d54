package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/domain/ports/adapter"
	"matrimony-billing/internal/infra/auth"
	"matrimony-billing/internal/infra/logging"
	"matrimony-billing/internal/infra/metrics"
)

type Middleware func(http.Handler) http.Handler

func Chain(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// TraceID reuses an incoming X-Request-ID or mints a ULID.
func TraceID(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tid := r.Header.Get("X-Request-ID")
			if tid == "" || len(tid) > 64 {
				tid = ulid.Make().String()
			}
			w.Header().Set("X-Request-ID", tid)
			ctx := logging.WithTraceID(r.Context(), tid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequestLog(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &respWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(ww, r)
			l := logging.With(r.Context(), logger)
			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.status).
				Dur("duration", time.Since(start)).
				Msg("http_request")
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func Recover(logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					l := logging.With(r.Context(), logger)
					l.Error().Interface("panic", rec).Msg("panic recovered")
					writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", TraceID: logging.TraceIDFrom(r.Context())})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func Timeout(d time.Duration) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type identityKey struct{}

// identityFrom returns the caller set by RequireUser.
func identityFrom(ctx context.Context) (*adapter.Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*adapter.Identity)
	return id, ok && id != nil
}

// RequireUser authenticates the bearer token and stores the identity on the
// request context. A missing verifier secret is a configuration error (500).
func RequireUser(verifier adapter.TokenVerifier, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, r, logger, domain.ErrAuthentication)
				return
			}
			id, err := verifier.Verify(r.Context(), tok)
			if err != nil {
				writeError(w, r, logger, err)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey{}, id)
			ctx = logging.WithUserID(ctx, id.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errAdminKeyMissing = errors.New("admin api key is not configured")

// RequireAdminKey guards the admin API with a static bearer key. Requests are
// counted by route pattern, never by raw path.
func RequireAdminKey(apiKey string, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const route = "/admin/v1"
			if apiKey == "" {
				l := logging.With(r.Context(), logger)
				l.Error().Err(errAdminKeyMissing).Msg("admin request rejected")
				metrics.IncAdminRequest(route, "unconfigured")
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			tok, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				metrics.IncAdminRequest(route, "unauthorized")
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			if subtle.ConstantTimeCompare([]byte(tok), []byte(apiKey)) != 1 {
				l := logging.With(r.Context(), logger)
				l.Warn().Str("key", logging.Redact(tok, false)).Str("path", r.URL.Path).Msg("admin key mismatch")
				metrics.IncAdminRequest(route, "forbidden")
				writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden"})
				return
			}
			ww := &respWriter{ResponseWriter: w, status: 200}
			next.ServeHTTP(ww, r)
			pattern := route
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				pattern = rc.RoutePattern()
			}
			metrics.IncAdminRequest(pattern, strconv.Itoa(ww.status))
		})
	}
}
