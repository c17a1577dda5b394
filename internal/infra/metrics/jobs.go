package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(ledgerPrunedTotal) }

var ledgerPrunedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "billing_ledger_pruned_total",
		Help: "Applied-event ledger rows removed by the retention job.",
	},
)

func AddLedgerPruned(n int64) {
	ledgerPrunedTotal.Add(float64(n))
}
