// Package memory provides an in-process delivery store for local development and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"example.com/tracking/internal/domain"
)

// Repository stores deliveries in memory.
type Repository struct {
	mu         sync.RWMutex
	deliveries map[string]domain.Delivery
}

// NewRepository constructs a repository seeded with deliveries.
func NewRepository(seed ...domain.Delivery) *Repository {
	repo := &Repository{deliveries: make(map[string]domain.Delivery, len(seed))}
	for _, d := range seed {
		repo.deliveries[d.ID] = d
	}
	return repo
}

// Put inserts or replaces a delivery.
func (r *Repository) Put(delivery domain.Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries[delivery.ID] = delivery
}

// FindByID implements domain.DeliveryRepository.
func (r *Repository) FindByID(ctx context.Context, deliveryID string) (*domain.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivery, ok := r.deliveries[deliveryID]
	if !ok {
		return nil, nil
	}
	return &delivery, nil
}

// UpdateLocation implements domain.DeliveryRepository.
func (r *Repository) UpdateLocation(ctx context.Context, deliveryID string, position domain.Coordinates, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	delivery, ok := r.deliveries[deliveryID]
	if !ok {
		return domain.ErrDeliveryNotFound
	}
	pos := position
	ts := at
	delivery.Position = &pos
	delivery.LocationUpdatedAt = &ts
	r.deliveries[deliveryID] = delivery
	return nil
}
