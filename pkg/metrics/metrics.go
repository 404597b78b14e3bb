package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session metrics
	ConnectedRelayers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ferry_connected_relayers",
			Help: "Number of relayer streams currently attached",
		},
	)

	SessionsReplaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferry_sessions_replaced_total",
			Help: "Total number of sessions displaced by a newer stream",
		},
	)

	SessionsIdleTimeout = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferry_sessions_idle_timeout_total",
			Help: "Total number of sessions closed for heartbeat inactivity",
		},
	)

	AuthFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_auth_failures_total",
			Help: "Total number of rejected credentials by surface",
		},
		[]string{"surface"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ferry_queue_depth",
			Help: "Buffered messages per cluster queue",
		},
		[]string{"cluster_id"},
	)

	MessagesEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_messages_enqueued_total",
			Help: "Total number of messages enqueued by kind and priority",
		},
		[]string{"kind", "priority"},
	)

	MessagesDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferry_messages_delivered_total",
			Help: "Total number of messages written to relayer streams",
		},
	)

	MessagesRequeued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ferry_messages_requeued_total",
			Help: "Total number of messages put back after a failed stream write",
		},
	)

	// Execution metrics
	ExecutionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_execution_transitions_total",
			Help: "Total number of execution status transitions",
		},
		[]string{"to"},
	)

	ExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ferry_execution_duration_seconds",
			Help:    "Wall time of completed executions in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	// Telemetry metrics
	TelemetryBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_telemetry_batches_total",
			Help: "Total number of ingested telemetry batches by kind",
		},
		[]string{"kind"},
	)

	TelemetryDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_telemetry_dropped_total",
			Help: "Total number of telemetry items dropped by reason",
		},
		[]string{"reason"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ferry_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ferry_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(ConnectedRelayers)
	prometheus.MustRegister(SessionsReplaced)
	prometheus.MustRegister(SessionsIdleTimeout)
	prometheus.MustRegister(AuthFailures)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(MessagesEnqueued)
	prometheus.MustRegister(MessagesDelivered)
	prometheus.MustRegister(MessagesRequeued)
	prometheus.MustRegister(ExecutionTransitions)
	prometheus.MustRegister(ExecutionDuration)
	prometheus.MustRegister(TelemetryBatches)
	prometheus.MustRegister(TelemetryDropped)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
