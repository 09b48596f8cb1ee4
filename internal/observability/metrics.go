// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Polling metrics
	PollCyclesTotal   *prometheus.CounterVec
	RowsFetched       prometheus.Counter
	NewTransactions   prometheus.Counter
	DuplicatesSkipped prometheus.Counter

	// Login metrics
	LoginAttemptsTotal *prometheus.CounterVec
	SessionRestarts    prometheus.Counter
	SessionExpiries    prometheus.Counter

	// Dispatch metrics
	NotificationsSent   *prometheus.CounterVec
	OrdersCreated       *prometheus.CounterVec
	DispatchLogSize     prometheus.Gauge
	ArchiveInsertErrors prometheus.Counter

	// Latency metrics
	FetchDuration    prometheus.Histogram
	LoginDuration    prometheus.Histogram
	DispatchDuration prometheus.Histogram

	// Health metrics
	MonitorState       prometheus.Gauge
	BackoffSeconds     prometheus.Gauge
	SessionAgeSeconds  prometheus.Gauge
	LastSuccessfulPoll prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "mbbank_monitor"
	}

	return &Metrics{
		// Polling metrics
		PollCyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "cycles_total",
			Help:      "Total number of polling cycles by outcome",
		}, []string{"outcome"}),
		RowsFetched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "rows_fetched_total",
			Help:      "Total number of transaction rows read from the portal",
		}),
		NewTransactions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "new_transactions_total",
			Help:      "Total number of transactions seen for the first time",
		}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of already-dispatched transactions skipped",
		}),

		// Login metrics
		LoginAttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "attempts_total",
			Help:      "Total number of login rounds by outcome",
		}, []string{"outcome"}),
		SessionRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "session_restarts_total",
			Help:      "Total number of proactive session restarts",
		}),
		SessionExpiries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "session_expiries_total",
			Help:      "Total number of sessions the portal expired",
		}),

		// Dispatch metrics
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "notifications_total",
			Help:      "Total number of notification pushes by outcome",
		}, []string{"outcome"}),
		OrdersCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "orders_total",
			Help:      "Total number of order creations by outcome",
		}, []string{"outcome"}),
		DispatchLogSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "log_size",
			Help:      "Current number of transaction ids in the dispatch log",
		}),
		ArchiveInsertErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "archive_insert_errors_total",
			Help:      "Total number of failed transaction archive inserts",
		}),

		// Latency metrics
		FetchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poll",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one transaction fetch including pagination",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		LoginDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "login",
			Name:      "duration_seconds",
			Help:      "Duration of one full login flow",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		DispatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Duration of one gateway dispatch (notification plus order)",
			Buckets:   prometheus.DefBuckets,
		}),

		// Health metrics
		MonitorState: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "monitor_state",
			Help:      "Current scheduler state (0=idle 1=logging_in 2=active 3=expired 4=stopped)",
		}),
		BackoffSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "backoff_seconds",
			Help:      "Current backoff delay applied after failures",
		}),
		SessionAgeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "session_age_seconds",
			Help:      "Age of the current portal session",
		}),
		LastSuccessfulPoll: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_poll_timestamp",
			Help:      "Unix timestamp of the last successful polling cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")
