// Package registry binds authenticated user identities to their live
// connection. A user has at most one binding; a newer connection replaces the
// older one without closing it.
package registry

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Conn is a live connection handle. IDs are unique per connection and are
// what Unbind compares against.
type Conn interface {
	ID() string
	Send(event string, payload any) error
}

// DefaultShards is used when New is given a non-positive shard count.
const DefaultShards = 32

type shard struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// Registry maps user identities to connections. Bindings for different users
// hash to independent stripes so they do not contend on one lock.
type Registry struct {
	shards []*shard
}

// New constructs a Registry with the given number of lock stripes.
func New(shards int) *Registry {
	if shards <= 0 {
		shards = DefaultShards
	}
	r := &Registry{shards: make([]*shard, shards)}
	for i := range r.shards {
		r.shards[i] = &shard{conns: make(map[string]Conn)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	return r.shards[xxhash.Sum64String(userID)%uint64(len(r.shards))]
}

// Bind records conn as the live connection of userID and returns the binding
// it replaced, if any.
func (r *Registry) Bind(userID string, conn Conn) Conn {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.conns[userID]
	s.conns[userID] = conn
	return previous
}

// Lookup returns the live connection bound to userID.
func (r *Registry) Lookup(userID string) (Conn, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conn, ok := s.conns[userID]
	return conn, ok
}

// Unbind removes the binding of userID only while it still points at conn.
// A late disconnect of a superseded connection is a no-op. It reports whether
// a binding was removed.
func (r *Registry) Unbind(userID string, conn Conn) bool {
	if conn == nil {
		return false
	}
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.conns[userID]
	if !ok || current.ID() != conn.ID() {
		return false
	}
	delete(s.conns, userID)
	return true
}

// Len returns the number of bound users.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.RLock()
		total += len(s.conns)
		s.mu.RUnlock()
	}
	return total
}
