package replication

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesTotal counts processed messages.
	// Labels: operation, outcome (applied, dead_lettered, rejected)
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espalier",
		Subsystem: "replication",
		Name:      "messages_total",
		Help:      "Replication messages processed by outcome",
	}, []string{"operation", "outcome"})

	// retriesTotal counts failed apply attempts that were retried.
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "espalier",
		Subsystem: "replication",
		Name:      "retries_total",
		Help:      "Replication apply attempts retried after failure",
	}, []string{"operation"})

	// applyDuration measures apply latency including retries.
	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "espalier",
		Subsystem: "replication",
		Name:      "apply_duration_seconds",
		Help:      "Time to apply a replication message, retries included",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"operation"})

	// queueDepth tracks messages waiting in dispatcher queues.
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "espalier",
		Subsystem: "replication",
		Name:      "queue_depth",
		Help:      "Messages queued in the dispatcher",
	})
)
