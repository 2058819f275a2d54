package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		reconciliationErrorsTotal,
		reconcileJobsTotal,
	)
}

var (
	reconciliationErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliation_errors_total",
			Help: "Payments that need manual or background reconciliation, by kind.",
		},
		[]string{"kind"}, // 'activation', 'gateway_timeout'
	)

	reconcileJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_jobs_total",
			Help: "Records handled by the background reconciler, labeled by action.",
		},
		[]string{"action"}, // 'activated', 'completed', 'failed', 'abandoned', 'skipped', 'error'
	)
)

func IncReconciliationError(kind string) {
	reconciliationErrorsTotal.WithLabelValues(norm(kind)).Inc()
}

func IncReconcileJob(action string) {
	reconcileJobsTotal.WithLabelValues(norm(action)).Inc()
}
