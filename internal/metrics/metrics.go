// Package metrics exposes the core's ambient observability surface via
// prometheus/client_golang, carried regardless of spec.md's feature
// non-goals (reputation scoring, malware family reasoning) since metrics
// are an ambient concern, not a feature.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AuthLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentinel",
		Subsystem: "demux",
		Name:      "auth_decision_latency_seconds",
		Help:      "Latency of synchronous AUTH event evaluation.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	RingOverflows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "history",
		Name:      "ring_overflow_total",
		Help:      "Count of ring-buffer gap events detected on eventsSince calls.",
	}, []string{"ring"})

	NotifyQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel",
		Subsystem: "demux",
		Name:      "notify_queue_depth",
		Help:      "Current depth of the NOTIFY worker's event queue.",
	})

	AlertsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "detection",
		Name:      "alerts_emitted_total",
		Help:      "Count of alerts emitted, by severity.",
	}, []string{"severity"})

	CorrelationEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentinel",
		Subsystem: "detection",
		Name:      "correlation_capacity_evictions_total",
		Help:      "Count of correlation progress entries evicted due to the capacity guard.",
	})
)

func init() {
	prometheus.MustRegister(AuthLatency, RingOverflows, NotifyQueueDepth, AlertsEmitted, CorrelationEvictions)
}

// ObserveAuthLatency is a convenience wrapper for timing an AUTH decision.
func ObserveAuthLatency(start time.Time) {
	AuthLatency.Observe(time.Since(start).Seconds())
}
