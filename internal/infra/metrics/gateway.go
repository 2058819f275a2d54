package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		gatewayRequestsTotal,
		webhookSignatureFailuresTotal,
	)
}

var (
	gatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Outbound payment gateway calls by provider, operation and result.",
		},
		[]string{"provider", "op", "result"}, // result: ok|http_error|timeout|error
	)

	webhookSignatureFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_signature_failures_total",
			Help: "Webhook calls rejected because the signature did not verify.",
		},
		[]string{"provider"},
	)
)

func IncGatewayRequest(provider, op, result string) {
	gatewayRequestsTotal.WithLabelValues(norm(provider), norm(op), norm(result)).Inc()
}

func IncWebhookSignatureFailure(provider string) {
	webhookSignatureFailuresTotal.WithLabelValues(norm(provider)).Inc()
}
