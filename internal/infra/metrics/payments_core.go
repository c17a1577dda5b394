package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		checkoutSessionsTotal,
		checkoutProviderLatency,
	)
}

var (
	checkoutSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_checkout_sessions_total",
			Help: "Checkout sessions by track, mode (stripe/mock) and result.",
		},
		[]string{"track", "mode", "result"},
	)

	checkoutProviderLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "billing_checkout_provider_seconds",
			Help:    "Latency of checkout session creation at the payment provider.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"provider", "success"},
	)
)

func IncCheckoutSession(track, mode, result string) {
	checkoutSessionsTotal.WithLabelValues(norm(track), norm(mode), norm(result)).Inc()
}

func ObserveCheckoutProvider(provider string, seconds float64, success bool) {
	s := "false"
	if success {
		s = "true"
	}
	checkoutProviderLatency.WithLabelValues(norm(provider), s).Observe(seconds)
}
