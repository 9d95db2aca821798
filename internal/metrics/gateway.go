package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_gateway_ingest_total",
			Help: "Ingest requests by result",
		},
		[]string{"result"}, // created, bad_request, storage_error, db_down, rate_limited
	)

	IngestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "anpr_gateway_ingest_latency_ms",
			Help:    "Ingest handler latency in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000},
		},
	)

	QueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anpr_gateway_query_total",
			Help: "Read API requests by endpoint",
		},
		[]string{"endpoint"},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "anpr_gateway_live_clients",
			Help: "Connected live feed WebSocket clients",
		},
	)
)
