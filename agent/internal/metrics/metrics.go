// Package metrics declares the connector's Prometheus collectors. They are
// registered on the default registry and exposed by the local API at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values for SendAttempts and Heartbeats.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Operation label values for SendAttempts.
const (
	OpIngest    = "ingest"
	OpHeartbeat = "heartbeat"
)

var (
	// Producer side
	EventsTracked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_connector_events_tracked_total",
			Help: "Total number of events accepted into the queue",
		},
		[]string{"source"},
	)

	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_connector_validation_failures_total",
			Help: "Total number of event records rejected by validation",
		},
		[]string{"source"},
	)

	// Queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openclaw_connector_queue_depth",
			Help: "Current number of undelivered events in the queue",
		},
	)

	PersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_connector_persist_errors_total",
			Help: "Total number of failed queue snapshot writes",
		},
	)

	// Delivery
	SendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_connector_send_attempts_total",
			Help: "Total number of HTTP send attempts to the ingestion API",
		},
		[]string{"op", "result"},
	)

	BatchesDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_connector_batches_delivered_total",
			Help: "Total number of batches acknowledged by the ingestion API",
		},
	)

	EventsDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_connector_events_delivered_total",
			Help: "Total number of events acknowledged by the ingestion API",
		},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "openclaw_connector_flush_duration_seconds",
			Help:    "Duration of flush runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	FlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "openclaw_connector_flush_failures_total",
			Help: "Total number of flush runs that ended with retries exhausted",
		},
	)

	// Heartbeat
	Heartbeats = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_connector_heartbeats_total",
			Help: "Total number of heartbeat ticks by final result",
		},
		[]string{"result"},
	)

	LastHeartbeat = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openclaw_connector_last_heartbeat_timestamp_seconds",
			Help: "Unix time of the last acknowledged heartbeat",
		},
	)

	PeerCertDaysLeft = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "openclaw_connector_peer_cert_days_left",
			Help: "Days until the ingestion API TLS certificate expires, checked at start",
		},
	)

	// Local API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_connector_api_requests_total",
			Help: "Total number of local API requests by route and status code",
		},
		[]string{"route", "code"},
	)

	InboxFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "openclaw_connector_inbox_files_total",
			Help: "Total number of inbox files processed by outcome",
		},
		[]string{"outcome"},
	)
)
