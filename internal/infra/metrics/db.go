package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(dbPoolStats, storeTxTotal) }

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "billing_db_pool_stats",
			Help: "Current state of the database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	storeTxTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_store_transactions_total",
			Help: "Store transactions by driver and result (commit/rollback/error).",
		},
		[]string{"driver", "result"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func IncStoreTx(driver, result string) {
	storeTxTotal.WithLabelValues(norm(driver), norm(result)).Inc()
}
