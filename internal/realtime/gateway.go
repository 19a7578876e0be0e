// Package realtime serves the WebSocket endpoint transporters and observers
// connect to.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"example.com/tracking/internal/auth"
	"example.com/tracking/internal/domain"
	"example.com/tracking/internal/observability"
)

// Config tunes the gateway.
type Config struct {
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	SendBuffer     int
	ReadLimit      int64
	OriginPatterns []string
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 32 << 10
	}
	return c
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Option configures optional behaviour for the Gateway.
type Option func(*Gateway)

// WithLogger overrides the gateway logger.
func WithLogger(logger *log.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// Gateway upgrades HTTP requests to WebSocket connections, authenticates
// them and routes their events to the tracking service.
type Gateway struct {
	verifier *auth.Verifier
	service  *domain.Service
	hub      *Hub
	cfg      Config
	logger   *log.Logger
}

// NewGateway builds a Gateway.
func NewGateway(verifier *auth.Verifier, service *domain.Service, hub *Hub, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		verifier: verifier,
		service:  service,
		hub:      hub,
		cfg:      cfg.withDefaults(),
		logger:   log.New(log.Writer(), "[realtime] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ServeHTTP runs one connection from handshake to disconnect.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(g.cfg.OriginPatterns) > 0 {
		opts.OriginPatterns = g.cfg.OriginPatterns
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		g.logger.Printf("upgrade failed remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	ws.SetReadLimit(g.cfg.ReadLimit)

	claims, err := g.verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		g.reject(r.Context(), ws, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := newConn(ws, claims.Subject, g.cfg.SendBuffer, g.cfg.WriteTimeout, g.logger)
	// Queued before the connection becomes visible so it is always the first frame.
	_ = conn.Send(domain.EventAuthenticated, domain.AuthenticatedPayload{
		Message: domain.MessageAuthenticated,
		UserID:  claims.Subject,
	})

	g.hub.add(conn)
	g.service.Connect(claims.Subject, conn)
	observability.ConnectionOpened()
	defer func() {
		g.hub.remove(conn)
		observability.ConnectionClosed()
		g.service.Disconnect(claims.Subject, conn)
	}()

	go conn.writeLoop(ctx, g.cfg.PingInterval)

	err = g.readLoop(ctx, conn)
	conn.abort()
	if status := websocket.CloseStatus(err); status == -1 && !errors.Is(err, context.Canceled) {
		g.logger.Printf("connection lost user=%s conn=%s err=%v", conn.userID, conn.id, err)
	}
}

// Shutdown closes every live connection with status 1001.
func (g *Gateway) Shutdown() {
	g.hub.CloseAll("server shutting down")
}

func (g *Gateway) reject(ctx context.Context, ws *websocket.Conn, err error) {
	reason := "invalid_token"
	if errors.Is(err, auth.ErrMissingToken) {
		reason = "missing_token"
	}
	observability.RecordHandshakeFailure(reason)

	writeCtx, cancel := context.WithTimeout(ctx, g.cfg.WriteTimeout)
	defer cancel()
	_ = wsjson.Write(writeCtx, ws, frame{
		Event: domain.EventError,
		Data:  domain.ErrorPayload{Message: domain.MessageAuthFailed, Error: err.Error()},
	})
	_ = ws.Close(websocket.StatusPolicyViolation, domain.MessageAuthFailed)
}

// readLoop handles inbound events one at a time until the socket fails.
func (g *Gateway) readLoop(ctx context.Context, conn *Conn) error {
	for {
		_, data, err := conn.ws.Read(ctx)
		if err != nil {
			return err
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			g.sendError(conn, domain.MessageUnknownEvent, &domain.Error{
				Kind:    domain.KindValidation,
				Message: domain.MessageUnknownEvent,
				Err:     fmt.Errorf("malformed frame: %w", err),
			})
			continue
		}
		g.dispatch(ctx, conn, in)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Conn, in inbound) {
	caller := domain.Caller{UserID: conn.userID, ConnID: conn.id}

	switch in.Event {
	case domain.EventLocation:
		var input domain.LocationInput
		if err := decodeData(in.Data, &input, domain.MessageLocationFailed); err != nil {
			g.sendError(conn, domain.MessageLocationFailed, err)
			return
		}
		if err := g.service.UpdateLocation(ctx, caller, input); err != nil {
			g.sendError(conn, domain.MessageLocationFailed, err)
		}

	case domain.EventResumeTracking:
		var input domain.ResumeInput
		if err := decodeData(in.Data, &input, domain.MessageResumeFailed); err != nil {
			g.sendError(conn, domain.MessageResumeFailed, err)
			return
		}
		ack, err := g.service.ResumeTracking(ctx, caller, input)
		if err != nil {
			g.sendError(conn, domain.MessageResumeFailed, err)
			return
		}
		_ = conn.Send(domain.EventTrackingResumed, ack)

	default:
		g.sendError(conn, domain.MessageUnknownEvent, &domain.Error{
			Kind:    domain.KindValidation,
			Message: domain.MessageUnknownEvent,
			Err:     fmt.Errorf("unsupported event %q", in.Event),
		})
	}
}

func (g *Gateway) sendError(conn *Conn, fallback string, err error) {
	payload := domain.ErrorPayload{Message: fallback, Error: err.Error()}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		payload = domain.ErrorPayload{Message: domainErr.Message, Error: domainErr.Detail()}
	}
	if sendErr := conn.Send(domain.EventError, payload); sendErr != nil {
		g.logger.Printf("error event dropped user=%s conn=%s err=%v", conn.userID, conn.id, sendErr)
	}
}

func decodeData(raw json.RawMessage, dst any, message string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return &domain.Error{Kind: domain.KindValidation, Message: message, Err: errors.New("missing event data")}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &domain.Error{Kind: domain.KindValidation, Message: message, Err: fmt.Errorf("malformed event data: %w", err)}
	}
	return nil
}
