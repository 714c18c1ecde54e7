// Package metrics exports pipeline counters to Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts broker messages by transport
	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_messages_received_total",
			Help: "Total number of broker messages received",
		},
		[]string{"transport"},
	)

	// MessagesDropped counts messages discarded without being stored
	MessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_messages_dropped_total",
			Help: "Total number of messages dropped",
		},
		[]string{"reason"},
	)

	// HandleDuration is the time spent handling one message
	HandleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "telemetry_handle_duration_seconds",
			Help:    "Message handling duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"kind", "outcome"},
	)

	ReadingsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_readings_written_total",
			Help: "Total number of readings persisted",
		},
	)

	ReadingBatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_reading_batch_failures_total",
			Help: "Total number of reading batches that failed to persist",
		},
	)

	// StoreResolutions counts get-or-create outcomes: existing, created, race, error
	StoreResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_store_resolutions_total",
			Help: "Store get-or-create outcomes",
		},
		[]string{"outcome"},
	)

	// AlertTriggers counts classified readings by severity
	AlertTriggers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_alert_triggers_total",
			Help: "Rule evaluations by resulting severity",
		},
		[]string{"severity"},
	)

	// Notifications counts per-channel delivery outcomes
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_notifications_total",
			Help: "Notification attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	AlertQueueDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemetry_alert_queue_dropped_total",
			Help: "Alert tasks dropped because the queue was full",
		},
	)

	AlertQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_alert_queue_depth",
			Help: "Alert tasks waiting for a worker",
		},
	)

	// BrokerConnected is 1 while the broker connection is up
	BrokerConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemetry_broker_connected",
			Help: "Whether the broker connection is currently up",
		},
	)
)
