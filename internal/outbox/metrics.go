package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	deliveredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "outbox",
		Name:      "events_delivered_total",
		Help:      "Tracking events published to Kafka.",
	})

	failedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "outbox",
		Name:      "events_failed_total",
		Help:      "Tracking events that could not be published.",
	})

	dlqCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "outbox",
		Name:      "events_parked_total",
		Help:      "Events moved to outbox_dlq by topic and failure cause.",
	}, []string{"topic", "cause"})

	backlogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tracking_service",
		Subsystem: "outbox",
		Name:      "backlog_events",
		Help:      "Outbox rows not yet published as of the last poll.",
	})

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tracking_service",
		Subsystem: "outbox",
		Name:      "batch_duration_seconds",
		Help:      "Time spent publishing and settling one outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(deliveredCounter, failedCounter, dlqCounter, backlogGauge, batchDuration)
}
