package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(tokenResetsTotal, consumptionTotal) }

var (
	tokenResetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_token_resets_total",
			Help: "Token window resets by trigger (renewal/read).",
		},
		[]string{"trigger"},
	)

	consumptionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_consumed_units_total",
			Help: "Units consumed from entitlements, by track and resource.",
		},
		[]string{"track", "resource"},
	)
)

func IncTokenReset(trigger string) {
	tokenResetsTotal.WithLabelValues(norm(trigger)).Inc()
}

func AddConsumed(track, resource string, amount int64) {
	consumptionTotal.WithLabelValues(norm(track), norm(resource)).Add(float64(amount))
}
