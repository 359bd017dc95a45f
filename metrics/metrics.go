// server/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagkosha",
		Name:      "store_tx_retries_total",
		Help:      "Transaction attempts re-run after a conflict",
	}, []string{"store"})

	TxOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagkosha",
		Name:      "note_writes_total",
		Help:      "Note saves and deletes by operation and result",
	}, []string{"op", "result"})

	CounterRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tagkosha",
		Name:      "counter_repairs_total",
		Help:      "Drift checks by result (consistent, repaired, failed)",
	}, []string{"result"})

	DegradedQueries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tagkosha",
		Name:      "degraded_queries_total",
		Help:      "Note queries truncated to the predicate limit",
	})

	ActiveSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tagkosha",
		Name:      "active_subscriptions",
		Help:      "Open live subscriptions by kind",
	}, []string{"kind"})
)
