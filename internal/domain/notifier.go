package domain

import (
	"log"

	"example.com/tracking/internal/observability"
	"example.com/tracking/internal/registry"
)

// Notifier pushes application messages to a user's live connection. Delivery
// is best effort: nothing is queued or retried for users without a
// connection.
type Notifier struct {
	connections *registry.Registry
	logger      *log.Logger
}

// NewNotifier constructs a Notifier reading bindings from connections.
func NewNotifier(connections *registry.Registry, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = log.New(log.Writer(), "[notify] ", log.LstdFlags)
	}
	return &Notifier{connections: connections, logger: logger}
}

// Notify sends payload to userID and reports whether it was handed to a live
// connection.
func (n *Notifier) Notify(userID string, payload any) bool {
	conn, ok := n.connections.Lookup(userID)
	if !ok {
		observability.RecordNotification(false)
		return false
	}
	if err := conn.Send(EventNotification, payload); err != nil {
		n.logger.Printf("notification dropped user=%s conn=%s err=%v", userID, conn.ID(), err)
		observability.RecordNotification(false)
		return false
	}
	observability.RecordNotification(true)
	return true
}
