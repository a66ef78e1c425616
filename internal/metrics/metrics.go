package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulseboard_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route", "status"},
	)

	// Job metrics
	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_job_runs_total",
			Help: "Total number of job passes",
		},
		[]string{"job", "result"}, // result: success, failed, skipped
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulseboard_job_duration_seconds",
			Help:    "Time taken by one job pass",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"job"},
	)

	JobLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulseboard_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful pass",
		},
		[]string{"job"},
	)

	// Evaluation metrics
	CardsUpdatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_metric_cards_updated_total",
			Help: "Total number of metric card updates written by evaluation",
		},
	)

	CardFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_metric_card_failures_total",
			Help: "Total number of metric cards that failed to update",
		},
	)

	CardsSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_metric_cards_skipped_total",
			Help: "Total number of metric cards skipped because their data source was missing",
		},
	)

	AlertsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_alerts_created_total",
			Help: "Total number of alert records created",
		},
		[]string{"status"}, // status: warning, critical
	)

	// Delivery metrics
	AlertsDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_alert_deliveries_total",
			Help: "Total number of alert delivery attempts",
		},
		[]string{"result"}, // result: sent, failed, skipped
	)

	PendingAlerts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulseboard_alerts_pending",
			Help: "Undelivered alerts seen by the last delivery pass",
		},
	)

	// Kafka producer metrics
	KafkaPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_kafka_publish_total",
			Help: "Total number of alert events published to Kafka",
		},
		[]string{"status"}, // status: success, failed
	)

	KafkaPublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pulseboard_kafka_publish_duration_seconds",
			Help:    "Time taken to publish to Kafka",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	KafkaPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulseboard_kafka_publish_retries_total",
			Help: "Total number of Kafka publish retries",
		},
	)

	// Panic recovery
	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulseboard_panics_recovered_total",
			Help: "Total number of panics recovered",
		},
		[]string{"component"},
	)
)
