package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "taskgarden"

var (
	notificationState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "records",
			Help:      "Number of notification records by state",
		},
		[]string{"state"},
	)

	channelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "channel_attempts_total",
			Help:      "Total channel delivery attempts",
		},
		[]string{"channel", "status"},
	)

	channelSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "channel_send_duration_seconds",
			Help:      "Time to deliver to one channel",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel"},
	)

	retryCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "retry_cycles_total",
			Help:      "Total retry scheduler cycles",
		},
	)

	retriedRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "retried_records_total",
			Help:      "Total notification records processed by the retry scheduler",
		},
	)

	escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "escalations_total",
			Help:      "Total notifications escalated to operators",
		},
	)

	cleanupDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "cleanup_deleted_total",
			Help:      "Total terminal notification records deleted by the sweeper",
		},
	)
)

// recordChannelAttempt records one channel delivery attempt metric.
func recordChannelAttempt(channel, status string) {
	channelAttempts.WithLabelValues(channel, status).Inc()
}

// recordChannelDuration records one channel delivery duration.
func recordChannelDuration(channel string, duration time.Duration) {
	channelSendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordStats updates notification state gauges.
func RecordStats(stats *Stats) {
	notificationState.WithLabelValues("total").Set(float64(stats.Total))
	notificationState.WithLabelValues("pending_retry").Set(float64(stats.PendingRetry))
	notificationState.WithLabelValues("escalated").Set(float64(stats.Escalated))
	notificationState.WithLabelValues("unread").Set(float64(stats.Unread))
}
