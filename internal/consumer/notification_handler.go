package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"example.com/tracking/internal/events"
)

// EventUserNotification is the event type other services publish to reach a user.
const EventUserNotification = "user.notification"

// Notifier pushes a payload to a user's live connection, reporting whether it
// was handed off.
type Notifier interface {
	Notify(userID string, payload any) bool
}

// NotificationHandler relays user.notification events to the Notifier.
type NotificationHandler struct {
	notifier Notifier
	logger   *log.Logger
}

// NewNotificationHandler constructs a handler that forwards to notifier.
func NewNotificationHandler(notifier Notifier, logger *log.Logger) *NotificationHandler {
	if logger == nil {
		logger = log.New(log.Writer(), "[consumer] ", log.LstdFlags)
	}
	return &NotificationHandler{notifier: notifier, logger: logger}
}

// Handle decodes the notification and forwards it. Offline users are not an
// error; the message is committed either way. Malformed notifications are
// logged and skipped since a retry cannot fix them.
func (h *NotificationHandler) Handle(_ context.Context, msg Message) error {
	if msg.EventType != EventUserNotification {
		recordOutcome(msg.Topic, msg.EventType, resultIgnored)
		return nil
	}

	notification, err := decodeNotification(msg.Payload)
	if err != nil {
		h.logger.Printf("skip notification (topic=%s, offset=%d): %v", msg.Topic, msg.Offset, err)
		recordOutcome(msg.Topic, msg.EventType, resultDecodeError)
		return nil
	}

	if !h.notifier.Notify(notification.UserID, notification.Payload) {
		h.logger.Printf("notification not delivered user=%s (offline)", notification.UserID)
	}
	return nil
}

func decodeNotification(raw json.RawMessage) (events.UserNotification, error) {
	var n events.UserNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return events.UserNotification{}, fmt.Errorf("decode notification: %w", err)
	}
	n.UserID = strings.TrimSpace(n.UserID)
	if n.UserID == "" {
		return events.UserNotification{}, errors.New("notification missing user_id")
	}
	if len(n.Payload) == 0 {
		n.Payload = json.RawMessage("null")
	}
	return n, nil
}
