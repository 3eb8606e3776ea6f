package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	RunsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backtide_runs_total",
			Help: "Total number of runs by status",
		},
		[]string{"status"},
	)

	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backtide_active_runs",
			Help: "Number of runs currently executing",
		},
	)

	QueuedRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backtide_queued_runs",
			Help: "Number of runs waiting for an execution slot",
		},
	)

	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backtide_run_duration_seconds",
			Help:    "Wall-clock run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	// Relay / fan-out metrics
	EventsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backtide_events_relayed_total",
			Help: "Total worker events relayed by kind",
		},
		[]string{"kind"},
	)

	SubscribersDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backtide_subscribers_dropped_total",
			Help: "Total stream subscribers dropped for falling behind",
		},
	)

	// Outbox metrics
	OutboxIntents = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "backtide_outbox_intents",
			Help: "Outbox intents by status",
		},
		[]string{"status"},
	)

	OutboxOldestPendingAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "backtide_outbox_oldest_pending_age_seconds",
			Help: "Age of the oldest pending intent in seconds",
		},
	)

	IntentsEnqueued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backtide_intents_enqueued_total",
			Help: "Total intents accepted into the outbox",
		},
	)

	IntentsDeduped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backtide_intents_deduped_total",
			Help: "Total intents collapsed by the dedupe window",
		},
	)

	IntentsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backtide_intents_delivered_total",
			Help: "Total intents delivered to a channel",
		},
	)

	IntentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "backtide_intents_failed_total",
			Help: "Total failed delivery attempts",
		},
	)

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backtide_dispatch_duration_seconds",
			Help:    "Channel send duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RunsTotal)
	prometheus.MustRegister(ActiveRuns)
	prometheus.MustRegister(QueuedRuns)
	prometheus.MustRegister(RunDuration)
	prometheus.MustRegister(EventsRelayed)
	prometheus.MustRegister(SubscribersDropped)
	prometheus.MustRegister(OutboxIntents)
	prometheus.MustRegister(OutboxOldestPendingAge)
	prometheus.MustRegister(IntentsEnqueued)
	prometheus.MustRegister(IntentsDeduped)
	prometheus.MustRegister(IntentsDelivered)
	prometheus.MustRegister(IntentsFailed)
	prometheus.MustRegister(DispatchDuration)
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time in the histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
