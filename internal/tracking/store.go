// Package tracking keeps the in-memory reconciliation state of every tracked
// delivery: the latest sample time, the owning transporter, whether a live
// connection is reporting, and the accumulated downtime.
//
// Records are created lazily on the first event for a delivery and are never
// deleted. All mutations of one delivery are serialized by the stripe lock its
// identifier hashes to; different deliveries on different stripes proceed in
// parallel.
package tracking

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultShards is used when NewStore is given a non-positive shard count.
const DefaultShards = 64

// Record is a snapshot of the tracking state of one delivery.
type Record struct {
	DeliveryID           string
	LastUpdate           time.Time
	Owner                string
	Active               bool
	ResumeCount          int64
	TotalDowntimeMinutes int64
	LastDisconnect       *time.Time
}

func (r *Record) clone() Record {
	out := *r
	if r.LastDisconnect != nil {
		ts := *r.LastDisconnect
		out.LastDisconnect = &ts
	}
	return out
}

type shard struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Store is the tracking state table.
type Store struct {
	shards []*shard
}

// NewStore constructs a Store with the given number of lock stripes.
func NewStore(shards int) *Store {
	if shards <= 0 {
		shards = DefaultShards
	}
	s := &Store{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{records: make(map[string]*Record)}
	}
	return s
}

func (s *Store) shardFor(deliveryID string) *shard {
	return s.shards[xxhash.Sum64String(deliveryID)%uint64(len(s.shards))]
}

// recordLocked returns the record for deliveryID, creating it for owner when
// absent. The caller holds sh.mu.
func (sh *shard) recordLocked(deliveryID, owner string) *Record {
	rec, ok := sh.records[deliveryID]
	if !ok {
		rec = &Record{DeliveryID: deliveryID, Owner: owner}
		sh.records[deliveryID] = rec
	}
	return rec
}

// ApplyLocationUpdate records a fresh position sample reported by transporter.
// The first sample for a delivery makes transporter its owner. Samples from
// anyone other than the owner leave the record unchanged; the returned
// snapshot always reflects the stored state.
func (s *Store) ApplyLocationUpdate(deliveryID, transporter string, at time.Time) Record {
	sh := s.shardFor(deliveryID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec := sh.recordLocked(deliveryID, transporter)
	if rec.Owner != transporter {
		return rec.clone()
	}
	rec.LastUpdate = at
	rec.Active = true
	return rec.clone()
}

// Downtime returns the whole minutes elapsed between lastKnown and resumedAt.
// A resume earlier than the last sample contributes nothing.
func Downtime(lastKnown, resumedAt time.Time) int64 {
	if !resumedAt.After(lastKnown) {
		return 0
	}
	return int64(resumedAt.Sub(lastKnown) / time.Minute)
}

// ApplyResume reconciles a tracking gap and returns the downtime it added.
// The caller has already checked that transporter is assigned to the
// delivery, so a resume also hands the record over to transporter.
func (s *Store) ApplyResume(deliveryID, transporter string, lastKnown, resumedAt time.Time) int64 {
	minutes := Downtime(lastKnown, resumedAt)

	sh := s.shardFor(deliveryID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec := sh.recordLocked(deliveryID, transporter)
	rec.Owner = transporter
	rec.ResumeCount++
	rec.TotalDowntimeMinutes += minutes
	rec.Active = true
	rec.LastUpdate = resumedAt
	return minutes
}

// MarkInactive flags deliveryID as no longer reporting. Unknown deliveries
// are left absent. It reports whether a record was updated.
func (s *Store) MarkInactive(deliveryID string, at time.Time) bool {
	sh := s.shardFor(deliveryID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[deliveryID]
	if !ok {
		return false
	}
	rec.markInactive(at)
	return true
}

func (r *Record) markInactive(at time.Time) {
	ts := at
	r.Active = false
	r.LastDisconnect = &ts
}

// MarkAllInactiveForOwner marks every delivery owned by transporter inactive
// and returns how many records changed. Stripes are visited one at a time so
// a scan never holds more than one stripe lock.
func (s *Store) MarkAllInactiveForOwner(transporter string, at time.Time) int {
	marked := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, rec := range sh.records {
			if rec.Owner == transporter {
				rec.markInactive(at)
				marked++
			}
		}
		sh.mu.Unlock()
	}
	return marked
}

// Get returns a copy of the record for deliveryID.
func (s *Store) Get(deliveryID string) (Record, bool) {
	sh := s.shardFor(deliveryID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[deliveryID]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

// Len returns the number of tracked deliveries.
func (s *Store) Len() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.records)
		sh.mu.Unlock()
	}
	return total
}
