package realtime

import (
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/coder/websocket"
)

// DefaultHubShards is used when NewHub is given a non-positive shard count.
const DefaultHubShards = 32

type hubShard struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// Hub tracks every live connection for fan-out.
type Hub struct {
	shards []*hubShard
}

// NewHub constructs a Hub striped over shards maps.
func NewHub(shards int) *Hub {
	if shards <= 0 {
		shards = DefaultHubShards
	}
	h := &Hub{shards: make([]*hubShard, shards)}
	for i := range h.shards {
		h.shards[i] = &hubShard{conns: make(map[string]*Conn)}
	}
	return h
}

func (h *Hub) shardFor(connID string) *hubShard {
	return h.shards[xxhash.Sum64String(connID)%uint64(len(h.shards))]
}

func (h *Hub) add(c *Conn) {
	s := h.shardFor(c.ID())
	s.mu.Lock()
	s.conns[c.ID()] = c
	s.mu.Unlock()
}

func (h *Hub) remove(c *Conn) {
	s := h.shardFor(c.ID())
	s.mu.Lock()
	delete(s.conns, c.ID())
	s.mu.Unlock()
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	total := 0
	for _, s := range h.shards {
		s.mu.RLock()
		total += len(s.conns)
		s.mu.RUnlock()
	}
	return total
}

// Broadcast queues the event on every live connection except exceptConnID
// and returns how many accepted it. Connections with a full queue miss the
// frame.
func (h *Hub) Broadcast(event string, payload any, exceptConnID string) int {
	delivered := 0
	for _, c := range h.snapshot() {
		if c.ID() == exceptConnID {
			continue
		}
		if err := c.Send(event, payload); err == nil {
			delivered++
		} else if !errors.Is(err, ErrConnClosed) {
			c.logger.Printf("broadcast dropped event=%s conn=%s err=%v", event, c.ID(), err)
		}
	}
	return delivered
}

// CloseAll closes every live connection with status 1001.
func (h *Hub) CloseAll(reason string) {
	var wg sync.WaitGroup
	for _, c := range h.snapshot() {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			c.close(websocket.StatusGoingAway, reason)
		}(c)
	}
	wg.Wait()
}

func (h *Hub) snapshot() []*Conn {
	var out []*Conn
	for _, s := range h.shards {
		s.mu.RLock()
		for _, c := range s.conns {
			out = append(out, c)
		}
		s.mu.RUnlock()
	}
	return out
}
