// Package events defines payloads exchanged with other services over Kafka.
package events

import (
	"encoding/json"
	"time"
)

// DeliveryLocationUpdated is emitted whenever a delivery's durable position changes.
type DeliveryLocationUpdated struct {
	DeliveryID    string    `json:"delivery_id"`
	TransporterID string    `json:"transporter_id"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// UserNotification asks the relay to push Payload to a user's live connection.
type UserNotification struct {
	UserID  string          `json:"user_id"`
	Payload json.RawMessage `json:"payload"`
}
