package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		PaymentCaptureRequests,
		PaymentCaptureDuration,
	)
}

var (
	// Count of capture/webhook outcomes grouped by result and bounded reason.
	// result: ok|noop|fail
	// reason (fail only): amount_mismatch|package_mismatch|not_completed|gateway_error|timeout|not_found|unknown
	PaymentCaptureRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_capture_requests_total",
			Help: "Count of capture and webhook calls by result and reason.",
		},
		[]string{"result", "reason"},
	)

	PaymentCaptureDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_capture_duration_seconds",
			Help:    "Duration of capture and webhook processing in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
		},
		[]string{"method"},
	)
)

func IncCapture(result, reason string) {
	PaymentCaptureRequests.WithLabelValues(norm(result), norm(reason)).Inc()
}
