// Package metrics provides Prometheus metrics for ThreatTriage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "threattriage"
)

// Pipeline metrics
var (
	// AlertsProcessed counts processed alerts by outcome (ok, degraded, failed).
	AlertsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "alerts_processed_total",
			Help:      "Total number of alerts processed, by outcome",
		},
		[]string{"outcome"},
	)

	// BatchDuration tracks the end-to-end duration of a pipeline run.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a full pipeline batch run in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// RowErrors counts input rows rejected during batch parsing.
	RowErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "row_errors_total",
			Help:      "Total number of malformed input rows skipped",
		},
	)
)

// Enrichment metrics
var (
	// SourceLookupDuration tracks per-source lookup latency.
	SourceLookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "source_lookup_duration_seconds",
			Help:      "Threat-intel source lookup latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"source"},
	)

	// SourceLookupErrors counts degraded source lookups.
	SourceLookupErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "source_lookup_errors_total",
			Help:      "Total number of failed source lookups, by source",
		},
		[]string{"source"},
	)
)

// Classifier metrics
var (
	// Classifications counts predictions by resulting priority label.
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ml",
			Name:      "classifications_total",
			Help:      "Total number of classifications, by priority label",
		},
		[]string{"label"},
	)

	// ModelCacheInvalidations counts registry cache invalidations.
	ModelCacheInvalidations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ml",
			Name:      "model_cache_invalidations_total",
			Help:      "Total number of model cache invalidations",
		},
	)
)

// Notification metrics
var (
	// NotificationsSent counts deliveries by destination and status.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "notifications_total",
			Help:      "Total number of notification deliveries, by destination and status",
		},
		[]string{"destination", "status"},
	)
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts API requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests, by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration tracks API request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds, by method and route",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	// HTTPRequestsInFlight gauges concurrent API requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being served",
		},
	)
)

// Ingest metrics
var (
	// KafkaMessages counts consumed Kafka messages by result.
	KafkaMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "kafka_messages_total",
			Help:      "Total number of Kafka messages consumed, by result",
		},
		[]string{"result"},
	)
)
