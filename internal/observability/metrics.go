package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logistics"

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// TelemetryPoints counts ingestion outcomes. reason is "accepted" for
	// stored points, otherwise the rejection reason.
	TelemetryPoints = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "telemetry", Name: "points_total", Help: "Position reports by outcome"},
		[]string{"reason"},
	)
	TelemetryCacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "telemetry", Name: "cache_errors_total", Help: "Advisory cache failures by operation"},
		[]string{"op"},
	)
	TelemetryPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "telemetry", Name: "publish_errors_total", Help: "Failed position stream publishes"},
	)

	// SchedulingOutcomes counts assignment and attachment results by
	// operation and outcome ("ok" or an error reason code).
	SchedulingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "scheduling", Name: "outcomes_total", Help: "Assignment and attachment outcomes"},
		[]string{"op", "outcome"},
	)

	RetentionRows = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "retention", Name: "rows_total", Help: "Position rows removed by retention"},
		[]string{"action"},
	)
	RetentionStreamFailures = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: namespace, Subsystem: "retention", Name: "stream_failures_total", Help: "Streams that failed to downsample"},
	)
	RetentionRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "run_duration_seconds",
			Help:      "Retention run duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 8),
		},
	)
)
