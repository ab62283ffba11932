package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stakevault",
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations processed, labelled by operation and outcome.",
	}, []string{"op", "outcome"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "stakevault",
		Subsystem: "ledger",
		Name:      "operation_duration_seconds",
		Help:      "Latency of ledger operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"op"})

	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stakevault",
		Subsystem: "ledger",
		Name:      "events_total",
		Help:      "Engine events emitted, labelled by type.",
	}, []string{"type"})
)

// ObserveOp records a completed ledger operation.
func ObserveOp(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	opsTotal.WithLabelValues(op, outcome).Inc()
	opDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// CountEvent records an emitted engine event.
func CountEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}
