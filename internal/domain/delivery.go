// Package domain implements the tracking relay's event handlers: location
// updates, resume reconciliation, disconnect handling and user notifications.
package domain

import (
	"context"
	"errors"
	"time"
)

// ErrDeliveryNotFound is returned by stores when no delivery has the given identifier.
var ErrDeliveryNotFound = errors.New("delivery not found")

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Delivery is the slice of a delivery record the relay reads from the durable store.
type Delivery struct {
	ID                string
	TransporterID     string
	Status            string
	Position          *Coordinates
	LocationUpdatedAt *time.Time
}

// DeliveryRepository is the durable store of delivery records.
type DeliveryRepository interface {
	// FindByID returns nil without error when the delivery does not exist.
	FindByID(ctx context.Context, deliveryID string) (*Delivery, error)
	// UpdateLocation stores the current position of a delivery and returns
	// ErrDeliveryNotFound when the delivery does not exist.
	UpdateLocation(ctx context.Context, deliveryID string, position Coordinates, at time.Time) error
}
