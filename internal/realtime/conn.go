package realtime

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"example.com/tracking/internal/observability"
)

var (
	// ErrSendQueueFull is returned when a frame is dropped because the peer
	// is not draining its queue.
	ErrSendQueueFull = errors.New("send queue full")
	// ErrConnClosed is returned by Send after the connection closed.
	ErrConnClosed = errors.New("connection closed")
)

type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Conn is one authenticated socket. Outbound frames are queued and written by
// a single writer goroutine, so Send never blocks the caller.
type Conn struct {
	id     string
	userID string
	ws     *websocket.Conn
	send   chan frame
	done   chan struct{}
	once   sync.Once
	logger *log.Logger

	writeTimeout time.Duration
}

func newConn(ws *websocket.Conn, userID string, buffer int, writeTimeout time.Duration, logger *log.Logger) *Conn {
	if buffer <= 0 {
		buffer = 1
	}
	return &Conn{
		id:           uuid.NewString(),
		userID:       userID,
		ws:           ws,
		send:         make(chan frame, buffer),
		done:         make(chan struct{}),
		logger:       logger,
		writeTimeout: writeTimeout,
	}
}

// ID returns the unique connection identifier.
func (c *Conn) ID() string { return c.id }

// UserID returns the authenticated subject bound to the connection.
func (c *Conn) UserID() string { return c.userID }

// Send enqueues an event for the writer goroutine.
func (c *Conn) Send(event string, payload any) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame{Event: event, Data: payload}:
		return nil
	default:
		observability.RecordDroppedFrame()
		return ErrSendQueueFull
	}
}

func (c *Conn) writeLoop(ctx context.Context, pingInterval time.Duration) {
	var tick <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case f := <-c.send:
			if err := c.write(ctx, f); err != nil {
				c.logger.Printf("write failed user=%s conn=%s err=%v", c.userID, c.id, err)
				c.abort()
				return
			}
		case <-tick:
			pingCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
			err := c.ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.logger.Printf("ping failed user=%s conn=%s err=%v", c.userID, c.id, err)
				c.abort()
				return
			}
		}
	}
}

func (c *Conn) write(ctx context.Context, f frame) error {
	writeCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, c.ws, f)
}

// close performs the closing handshake with the peer.
func (c *Conn) close(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close(code, reason)
	})
}

// abort tears the socket down without a closing handshake.
func (c *Conn) abort() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.CloseNow()
	})
}
