// Package metrics holds the prometheus collectors for ledger activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Ledger struct {
	Mutations      *prometheus.CounterVec
	Retries        prometheus.Counter
	Duration       *prometheus.HistogramVec
	LowStockAlerts prometheus.Counter
}

// NewLedger builds the collectors and registers them with reg.
func NewLedger(reg prometheus.Registerer) *Ledger {
	m := &Ledger{
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Log mutations by kind, log type and outcome.",
		}, []string{"kind", "type", "result"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "ledger",
			Name:      "conflict_retries_total",
			Help:      "Transactions retried after a concurrent modification.",
		}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracker",
			Subsystem: "ledger",
			Name:      "mutation_duration_seconds",
			Help:      "Wall time of a ledger mutation including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		LowStockAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tracker",
			Subsystem: "stock",
			Name:      "low_alerts_total",
			Help:      "Low-stock notifications sent.",
		}),
	}
	reg.MustRegister(m.Mutations, m.Retries, m.Duration, m.LowStockAlerts)
	return m
}
