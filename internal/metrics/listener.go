package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Listener-side metrics. Low-cardinality labels only (no plate numbers).

var (
	SessionsUp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anpr_sessions_subscribed",
			Help: "Number of camera sessions currently in the Subscribed state",
		},
	)

	HealthChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_health_checks_total",
			Help: "Health check outcomes per tick",
		},
		[]string{"outcome"}, // alive, reconnected, reconnect_failed
	)

	EventsCapturedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_events_captured_total",
			Help: "Raw camera events by processing outcome",
		},
		[]string{"outcome"}, // dispatched, normalize_error, duplicate
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_dispatch_total",
			Help: "Dispatch attempts by outcome",
		},
		[]string{"outcome"}, // success, rejected, spooled, spool_failed
	)

	DispatchLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anpr_dispatch_latency_ms",
			Help:    "Gateway send latency in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
	)

	OutboxDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anpr_outbox_pending_bytes",
			Help: "Bytes currently spooled in the durable outbox",
		},
	)

	OutboxReplayedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "anpr_outbox_replayed_total",
			Help: "Outbox entries successfully redelivered to the gateway",
		},
	)
)
