package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"matrimony-billing/internal/domain"
	"matrimony-billing/internal/infra/metrics"
)

// maxResponseBody caps how much of a provider response is read.
const maxResponseBody = 1 << 20

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// do sends req once and returns the body of a 2xx response. Everything else
// becomes a *domain.GatewayError carrying the raw body.
func do(client *http.Client, req *http.Request, provider, op string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		gerr := &domain.GatewayError{Provider: provider, Op: op, Timeout: isTimeout(err), Err: err}
		metrics.IncGatewayRequest(provider, op, resultOf(gerr))
		return nil, gerr
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		gerr := &domain.GatewayError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Timeout: isTimeout(err), Err: err}
		metrics.IncGatewayRequest(provider, op, resultOf(gerr))
		return nil, gerr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.IncGatewayRequest(provider, op, "http_error")
		return body, &domain.GatewayError{Provider: provider, Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	metrics.IncGatewayRequest(provider, op, "ok")
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func resultOf(gerr *domain.GatewayError) string {
	if gerr.Timeout {
		return "timeout"
	}
	return "error"
}

// decodeError wraps a malformed 2xx body.
func decodeError(provider, op string, body []byte, err error) error {
	return &domain.GatewayError{Provider: provider, Op: op, Body: string(body), Err: fmt.Errorf("decode response: %w", err)}
}
