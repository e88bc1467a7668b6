// Package metrics exposes the process's Prometheus surface (op counts,
// gas used, follower queue depth): promauto-registered vectors under
// one namespace, collected into the default registry so cmd/kontor
// only needs to mount promhttp.Handler once.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kontor"

var (
	// OpsTotal counts processed ops by kind and outcome, the reactor's
	// own per-op classification.
	OpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reactor",
		Name:      "ops_total",
		Help:      "Total ops processed, by kind and outcome.",
	}, []string{"kind", "outcome"})

	// GasUsed histograms gas consumed per op, bucketed around the
	// configured default gas limit.
	GasUsed = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "reactor",
		Name:      "gas_used",
		Help:      "Gas consumed per op.",
		Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
	}, []string{"kind"})

	// BlockHeight is the height of the most recently committed block.
	BlockHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "reactor",
		Name:      "block_height",
		Help:      "Height of the most recently committed block.",
	})

	// FollowerQueueDepth tracks how many Events are buffered in the
	// Follower's output channel, a proxy for reactor backpressure (spec
	// §5 ChannelBuffer).
	FollowerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "follower",
		Name:      "queue_depth",
		Help:      "Number of events buffered between the follower and the reactor.",
	})
)

// RecordOp records one op's outcome and gas usage.
func RecordOp(kind, outcome string, gasUsed uint64) {
	OpsTotal.WithLabelValues(kind, outcome).Inc()
	GasUsed.WithLabelValues(kind).Observe(float64(gasUsed))
}
