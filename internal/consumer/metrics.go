package consumer

import "github.com/prometheus/client_golang/prometheus"

const (
	resultProcessed    = "processed"
	resultIgnored      = "ignored"
	resultHandlerError = "handler_error"
	resultDecodeError  = "decode_error"
)

var (
	messagesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tracking_service",
		Subsystem: "consumer",
		Name:      "messages_total",
		Help:      "Kafka messages seen by the consumer, by topic, event type and result.",
	}, []string{"topic", "event_type", "result"})

	lastMessageGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tracking_service",
		Subsystem: "consumer",
		Name:      "last_message_timestamp_seconds",
		Help:      "Unix timestamp of the most recent committed message per topic.",
	}, []string{"topic"})
)

func init() {
	prometheus.MustRegister(messagesCounter, lastMessageGauge)
}

func recordOutcome(topic, eventType, result string) {
	if eventType == "" {
		eventType = "unknown"
	}
	messagesCounter.WithLabelValues(topic, eventType, result).Inc()
}

func recordProcessed(msg Message) {
	recordOutcome(msg.Topic, msg.EventType, resultProcessed)
	if !msg.Timestamp.IsZero() {
		lastMessageGauge.WithLabelValues(msg.Topic).Set(float64(msg.Timestamp.Unix()))
	}
}
