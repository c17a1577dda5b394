package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		webhookRequestsTotal,
		reconcileEventsTotal,
		reconcileDuration,
	)
}

var (
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_requests_total",
			Help: "Inbound webhook deliveries by provider and HTTP status.",
		},
		[]string{"provider", "status"},
	)

	reconcileEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_reconcile_events_total",
			Help: "Events seen by the reconciliation engine, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_reconcile_duration_seconds",
			Help:    "Time to apply one event, including the store transaction.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func IncWebhookRequest(provider string, status int) {
	webhookRequestsTotal.WithLabelValues(norm(provider), statusLabel(status)).Inc()
}

func IncReconcileEvent(kind, outcome string) {
	reconcileEventsTotal.WithLabelValues(norm(kind), norm(outcome)).Inc()
}

func ObserveReconcile(kind string, seconds float64) {
	reconcileDuration.WithLabelValues(norm(kind)).Observe(seconds)
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
