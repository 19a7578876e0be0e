// Package outbox relays durable tracking events from Postgres to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

const magicByte = 0

// DefaultClaimTimeout is how long a claimed row stays invisible to other
// dispatchers before it is considered abandoned and fetched again.
const DefaultClaimTimeout = 5 * time.Minute

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message represents a row fetched from outbox.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Dispatcher.
type Option func(*Dispatcher)

// WithLogger overrides the dispatcher logger.
func WithLogger(logger *log.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithClaimTimeout overrides DefaultClaimTimeout.
func WithClaimTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.claimTimeout = timeout
		}
	}
}

// Dispatcher drains the outbox table and publishes each row to its topic,
// framed with the schema registry wire format. Rows that cannot be published
// are parked in outbox_dlq so one bad event never blocks the ones behind it.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	pollInterval time.Duration
	batchSize    int
	claimTimeout time.Duration
	logger       *log.Logger

	schemaMu  sync.RWMutex
	schemaIDs map[string]int

	stopped chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		claimTimeout: DefaultClaimTimeout,
		logger:       log.New(log.Writer(), "[outbox] ", log.LstdFlags),
		schemaIDs:    make(map[string]int),
		stopped:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start polls until ctx is cancelled. It should be called in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.stopped)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatch failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.stopped
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.fetchAndClaim(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return d.refreshBacklog(ctx)
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	failures := d.deliver(ctx, messages)
	deliveredCounter.Add(float64(len(messages) - len(failures)))
	if len(failures) > 0 {
		failedCounter.Add(float64(len(failures)))
		for _, f := range failures {
			d.logger.Printf("event parked event_id=%d event_type=%s cause=%s err=%v", f.msg.EventID, f.msg.EventType, f.cause, f.err)
		}
	}

	if err := d.settle(ctx, messages, failures); err != nil {
		return err
	}
	return d.refreshBacklog(ctx)
}

func (d *Dispatcher) fetchAndClaim(ctx context.Context) (messages []Message, err error) {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil || len(messages) == 0 {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
        FROM outbox
        WHERE published_at IS NULL
          AND (claimed_at IS NULL OR claimed_at < NOW() - $2::float8 * INTERVAL '1 second')
        ORDER BY event_id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, d.batchSize, d.claimTimeout.Seconds())
	if err != nil {
		return nil, err
	}
	messages, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var msg Message
		err := row.Scan(&msg.EventID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Topic, &msg.SchemaSubject, &msg.PartitionKey, &msg.Payload)
		return msg, err
	})
	if err != nil || len(messages) == 0 {
		return nil, err
	}

	if _, err = tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// deliver publishes messages grouped by topic and returns the ones that
// could not be published.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) []failure {
	var failures []failure
	batches := make(map[string][]Message)
	encoded := make(map[string][]kafka.Message)

	for _, msg := range messages {
		meta, ok := schemaCatalog[msg.EventType]
		if !ok {
			failures = append(failures, failure{msg: msg, cause: causeSchema, err: fmt.Errorf("no schema metadata for event_type=%s", msg.EventType)})
			continue
		}
		schemaID, err := d.schemaID(ctx, msg.SchemaSubject, meta.Schema)
		if err != nil {
			failures = append(failures, failure{msg: msg, cause: causeRegistry, err: err})
			continue
		}

		batches[msg.Topic] = append(batches[msg.Topic], msg)
		encoded[msg.Topic] = append(encoded[msg.Topic], kafka.Message{
			Key:   []byte(msg.PartitionKey),
			Value: encodeWireFormat(schemaID, msg.Payload),
			Time:  time.Now().UTC(),
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(msg.EventType)},
				{Key: "schema_subject", Value: []byte(msg.SchemaSubject)},
			},
		})
	}

	for topic, batch := range encoded {
		if err := d.producer.WriteMessages(ctx, topic, batch...); err != nil {
			for _, msg := range batches[topic] {
				failures = append(failures, failure{msg: msg, cause: causeKafka, err: err})
			}
		}
	}
	return failures
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	d.schemaMu.RLock()
	id, ok := d.schemaIDs[subject]
	d.schemaMu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("ensure schema %s: %w", subject, err)
	}
	d.schemaMu.Lock()
	d.schemaIDs[subject] = id
	d.schemaMu.Unlock()
	return id, nil
}

func (d *Dispatcher) refreshBacklog(ctx context.Context) error {
	var pending int64
	if err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&pending); err != nil {
		return err
	}
	backlogGauge.Set(float64(pending))
	return nil
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, len(messages))
	for i, msg := range messages {
		ids[i] = msg.EventID
	}
	return ids
}

// encodeWireFormat applies Confluent framing for Schema Registry aware payloads.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = magicByte
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

// SchemaCatalogEntry holds the JSON schema registered for an event type.
type SchemaCatalogEntry struct {
	Schema string
}

var schemaCatalog = map[string]SchemaCatalogEntry{
	"delivery.location_updated": {
		Schema: deliveryLocationUpdatedSchema,
	},
}
