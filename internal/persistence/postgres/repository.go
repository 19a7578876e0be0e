// Package postgres provides the Postgres-backed delivery store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/tracking/internal/domain"
	"example.com/tracking/internal/events"
)

// Event types recorded in the outbox.
const (
	EventDeliveryLocationUpdated = "delivery.location_updated"
)

// Repository provides Postgres-backed persistence for delivery positions and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID retrieves a delivery by ID. It returns nil when no row matches.
func (r *Repository) FindByID(ctx context.Context, deliveryID string) (*domain.Delivery, error) {
	const query = `SELECT delivery_id, transporter_id, status, current_latitude, current_longitude, location_updated_at
        FROM deliveries WHERE delivery_id=$1`

	var (
		delivery  domain.Delivery
		latitude  *float64
		longitude *float64
	)
	err := r.pool.QueryRow(ctx, query, deliveryID).Scan(
		&delivery.ID,
		&delivery.TransporterID,
		&delivery.Status,
		&latitude,
		&longitude,
		&delivery.LocationUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if latitude != nil && longitude != nil {
		delivery.Position = &domain.Coordinates{Latitude: *latitude, Longitude: *longitude}
	}
	return &delivery, nil
}

// UpdateLocation stores the current position and records an outbox event inside a single transaction.
func (r *Repository) UpdateLocation(ctx context.Context, deliveryID string, position domain.Coordinates, at time.Time) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	const update = `UPDATE deliveries
        SET current_latitude=$2, current_longitude=$3, location_updated_at=$4, updated_at=NOW()
        WHERE delivery_id=$1
        RETURNING transporter_id`

	var transporterID string
	if err = tx.QueryRow(ctx, update, deliveryID, position.Latitude, position.Longitude, at).Scan(&transporterID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = domain.ErrDeliveryNotFound
		}
		return err
	}

	if err = r.insertOutbox(ctx, tx, deliveryID, EventDeliveryLocationUpdated, fmt.Sprintf("%s:%d", deliveryID, at.UnixNano()), events.DeliveryLocationUpdated{
		DeliveryID:    deliveryID,
		TransporterID: transporterID,
		Latitude:      position.Latitude,
		Longitude:     position.Longitude,
		RecordedAt:    at,
	}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, aggregateID, eventType, dedupeKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta, ok := eventCatalog[eventType]
	if !ok {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	const stmt = `INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		"delivery",
		aggregateID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		aggregateID,
		body,
		fmt.Sprintf("%s:%s", eventType, dedupeKey),
	)
	return err
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic         string
	SchemaSubject string
}

var eventCatalog = map[string]EventMetadata{
	EventDeliveryLocationUpdated: {
		Topic:         "delivery_locations",
		SchemaSubject: "delivery_locations-value",
	},
}
