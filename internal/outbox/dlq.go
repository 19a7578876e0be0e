package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Failure causes, used as the cause label of the DLQ counter.
const (
	causeSchema   = "schema_missing"
	causeRegistry = "schema_registry"
	causeKafka    = "kafka_write"
)

type failure struct {
	msg   Message
	cause string
	err   error
}

// settle parks failures in outbox_dlq and marks the whole batch published in
// one transaction, so a row is never both parked and retried.
func (d *Dispatcher) settle(ctx context.Context, messages []Message, failures []failure) error {
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if len(failures) > 0 {
		batch := &pgx.Batch{}
		for _, f := range failures {
			batch.Queue(`INSERT INTO outbox_dlq (event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
				f.msg.EventID, f.msg.EventType, f.msg.Topic, f.msg.Payload, f.reason(),
				f.msg.AggregateType, f.msg.AggregateID, f.msg.SchemaSubject, f.msg.PartitionKey)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("park failed events: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, f := range failures {
		dlqCounter.WithLabelValues(f.msg.Topic, f.cause).Inc()
	}
	return nil
}

func (f failure) reason() string {
	return fmt.Sprintf("%s: %v (topic=%s)", f.cause, f.err, f.msg.Topic)
}
