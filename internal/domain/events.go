package domain

import "time"

// Event names exchanged with clients.
const (
	EventAuthenticated   = "authenticated"
	EventLocation        = "transporter:location"
	EventResumeTracking  = "transporter:resume_tracking"
	EventTrackingResumed = "tracking:resumed"
	EventError           = "error"
	EventNotification    = "notification"
)

// Client-facing messages.
const (
	MessageAuthenticated   = "Successfully authenticated"
	MessageAuthFailed      = "Authentication error"
	MessageTrackingResumed = "Tracking resumed successfully"
	MessageLocationFailed  = "Failed to update location"
	MessageResumeFailed    = "Failed to resume tracking"
	MessageUnknownEvent    = "Unknown event"
)

// LocationTopic is the broadcast event carrying positions of one delivery.
func LocationTopic(deliveryID string) string {
	return deliveryID + ":location"
}

// LocationBroadcast is fanned out on LocationTopic.
type LocationBroadcast struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ResumeAck acknowledges a successful resume to the transporter.
type ResumeAck struct {
	DeliveryID string `json:"deliveryId"`
	Downtime   int64  `json:"downtime"`
	Message    string `json:"message"`
}

// ErrorPayload is sent with EventError.
type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// AuthenticatedPayload is sent with EventAuthenticated.
type AuthenticatedPayload struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}
