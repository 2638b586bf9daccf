package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrderBroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_agent", Name: "order_broadcasts_total", Help: "Total new-order broadcasts received"})
	ProximityAlertsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "courier_agent", Name: "proximity_alerts_total", Help: "Total arrival alerts raised"})
	ConnectionState      = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "courier_agent", Name: "connection_state", Help: "Dispatch socket state (0 disconnected, 1 connecting, 2 connected, 3 error)"})

	AcceptResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_agent", Name: "accept_results_total", Help: "Order acceptance attempts by outcome"},
		[]string{"reason"},
	)
	TelemetryWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_agent", Name: "telemetry_writes_total", Help: "Successful real-time store writes by channel"},
		[]string{"channel"},
	)
	TelemetryWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_agent", Name: "telemetry_write_failures_total", Help: "Failed real-time store writes by channel"},
		[]string{"channel"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "courier_agent", Name: "http_requests_total", Help: "Total control API requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier_agent",
			Name:      "http_request_duration_seconds",
			Help:      "Control API request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
