// Package observability exposes Prometheus instruments for the tracking relay.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	liveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracking_service",
		Subsystem: "realtime",
		Name:      "connections",
		Help:      "Number of authenticated WebSocket connections currently open.",
	})
	handshakeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "realtime",
		Name:      "handshake_failures_total",
		Help:      "Connections rejected during authentication, labeled by reason.",
	}, []string{"reason"})
	droppedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "realtime",
		Name:      "dropped_frames_total",
		Help:      "Outbound frames discarded because a connection send queue was full or closed.",
	})
	locationUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "tracking",
		Name:      "location_updates_total",
		Help:      "Location samples handled, labeled by outcome.",
	}, []string{"outcome"})
	lastLocationGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracking_service",
		Subsystem: "tracking",
		Name:      "last_location_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent location sample persisted.",
	})
	resumes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "tracking",
		Name:      "resumes_total",
		Help:      "Resume reconciliation requests, labeled by outcome.",
	}, []string{"outcome"})
	resumeDowntime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tracking_service",
		Subsystem: "tracking",
		Name:      "resume_downtime_minutes",
		Help:      "Downtime reconciled per successful resume.",
		Buckets:   []float64{0, 1, 2, 5, 10, 30, 60, 180, 720},
	})
	notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "notifications",
		Name:      "dispatched_total",
		Help:      "Notifications pushed to live connections or dropped, labeled by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		liveConnections,
		handshakeFailures,
		droppedFrames,
		locationUpdates,
		lastLocationGauge,
		resumes,
		resumeDowntime,
		notifications,
	)
}

// Outcome labels shared by the event counters.
const (
	OutcomeOK           = "ok"
	OutcomeInvalid      = "invalid"
	OutcomeUnauthorized = "unauthorized"
	OutcomeNotFound     = "not_found"
	OutcomeStoreFailure = "store_failure"
)

// ConnectionOpened increments the live connection gauge.
func ConnectionOpened() { liveConnections.Inc() }

// ConnectionClosed decrements the live connection gauge.
func ConnectionClosed() { liveConnections.Dec() }

// RecordHandshakeFailure counts a rejected handshake.
func RecordHandshakeFailure(reason string) {
	handshakeFailures.WithLabelValues(reason).Inc()
}

// RecordDroppedFrame counts an outbound frame that was not queued.
func RecordDroppedFrame() { droppedFrames.Inc() }

// RecordLocationUpdate counts a handled location sample and, on success,
// advances the persistence watermark.
func RecordLocationUpdate(outcome string, ts time.Time) {
	locationUpdates.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK && !ts.IsZero() {
		lastLocationGauge.Set(float64(ts.Unix()))
	}
}

// RecordResume counts a resume request and observes its downtime on success.
func RecordResume(outcome string, downtimeMinutes int64) {
	resumes.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		resumeDowntime.Observe(float64(downtimeMinutes))
	}
}

// RecordNotification counts a notification as delivered or dropped.
func RecordNotification(delivered bool) {
	result := "dropped"
	if delivered {
		result = "delivered"
	}
	notifications.WithLabelValues(result).Inc()
}
