// Package metrics provides Prometheus metrics for SentryMail.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "sentrymail"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// Alert pipeline metrics
var (
	// AlertsIngested counts attempts accepted onto the alert queue.
	AlertsIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "ingested_total",
			Help:      "Total alerts accepted by the ingestor",
		},
	)

	// AlertsPersisted counts alerts stored by the queue consumer.
	AlertsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "persisted_total",
			Help:      "Total alerts persisted from the queue",
		},
	)

	// AlertsDiscarded counts stale alerts dropped by reconciliation.
	AlertsDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "discarded_total",
			Help:      "Total stale alerts discarded without aggregation",
		},
	)
)

// Notification metrics
var (
	// NotificationsCreated counts newly opened notifications.
	NotificationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "created_total",
			Help:      "Total notifications opened",
		},
	)

	// NotificationsUpdated counts upserts that folded into an open notification.
	NotificationsUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "updated_total",
			Help:      "Total aggregations folded into an existing open notification",
		},
	)
)

// Email metrics
var (
	// EmailJobsCreated counts jobs produced by the builder.
	EmailJobsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "jobs_created_total",
			Help:      "Total email jobs created",
		},
	)

	// EmailsSent counts successful deliveries.
	EmailsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "sent_total",
			Help:      "Total emails delivered",
		},
	)

	// EmailsRetried counts delivery attempts scheduled for retry.
	EmailsRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "retried_total",
			Help:      "Total email deliveries scheduled for retry",
		},
	)

	// EmailsFailed counts jobs abandoned after exhausting attempts.
	EmailsFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "failed_total",
			Help:      "Total email jobs marked failed",
		},
	)

	// BuilderLockSkips counts builder passes skipped on lock contention.
	BuilderLockSkips = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "email",
			Name:      "builder_lock_skips_total",
			Help:      "Total builder passes skipped because another instance held the lock",
		},
	)
)

// Queue metrics
var (
	// QueueDepth tracks the depth of each work queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of items in a work queue",
		},
		[]string{"queue"},
	)
)
