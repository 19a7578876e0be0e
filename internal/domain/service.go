package domain

import (
	"context"
	"errors"
	"log"
	"time"

	"example.com/tracking/internal/observability"
	"example.com/tracking/internal/registry"
	"example.com/tracking/internal/tracking"
)

// DefaultStoreTimeout bounds every durable-store call when no timeout is configured.
const DefaultStoreTimeout = 5 * time.Second

// Broadcaster fans an event out to every live connection except one.
type Broadcaster interface {
	Broadcast(event string, payload any, exceptConnID string) int
}

// Caller identifies the authenticated connection an event arrived on.
type Caller struct {
	UserID string
	ConnID string
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the logger used to report handler failures.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithStoreTimeout bounds each durable-store call.
func WithStoreTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.storeTimeout = timeout
		}
	}
}

// WithClock overrides the wall clock used for disconnect timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service orchestrates tracking workflows for connected transporters.
type Service struct {
	repo         DeliveryRepository
	tracker      *tracking.Store
	connections  *registry.Registry
	broadcaster  Broadcaster
	storeTimeout time.Duration
	now          func() time.Time
	logger       *log.Logger
}

// NewService constructs a Service.
func NewService(repo DeliveryRepository, tracker *tracking.Store, connections *registry.Registry, broadcaster Broadcaster, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		tracker:      tracker,
		connections:  connections,
		broadcaster:  broadcaster,
		storeTimeout: DefaultStoreTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log.New(log.Writer(), "[tracking] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect binds conn as the live connection of userID.
func (s *Service) Connect(userID string, conn registry.Conn) {
	if previous := s.connections.Bind(userID, conn); previous != nil && previous.ID() != conn.ID() {
		s.logger.Printf("binding replaced user=%s old_conn=%s new_conn=%s", userID, previous.ID(), conn.ID())
	}
}

// Disconnect releases the binding of conn and marks the user's deliveries
// inactive. A connection that was already superseded by a newer one for the
// same user leaves both the binding and the tracking state alone.
func (s *Service) Disconnect(userID string, conn registry.Conn) {
	if !s.connections.Unbind(userID, conn) {
		s.logger.Printf("stale disconnect ignored user=%s conn=%s", userID, conn.ID())
		return
	}
	if marked := s.tracker.MarkAllInactiveForOwner(userID, s.now()); marked > 0 {
		s.logger.Printf("deliveries marked inactive user=%s count=%d", userID, marked)
	}
}

// UpdateLocation validates and persists a position sample, records it in the
// tracking state and broadcasts it to every other connection. The tracking
// state is only touched once the durable write succeeded. Once a delivery is
// tracked, only its owner may report positions for it; ownership moves only
// through ResumeTracking.
func (s *Service) UpdateLocation(ctx context.Context, caller Caller, input LocationInput) error {
	if err := input.validate(); err != nil {
		observability.RecordLocationUpdate(observability.OutcomeInvalid, time.Time{})
		return &Error{Kind: KindValidation, Message: MessageLocationFailed, Err: err}
	}
	if rec, ok := s.tracker.Get(input.DeliveryID); ok && rec.Owner != caller.UserID {
		observability.RecordLocationUpdate(observability.OutcomeUnauthorized, time.Time{})
		s.logger.Printf("location rejected delivery=%s user=%s owner=%s", input.DeliveryID, caller.UserID, rec.Owner)
		return &Error{Kind: KindAuthorization, Message: MessageLocationFailed, Err: ErrNotTrackingOwner}
	}

	at := input.Timestamp.UTC()
	position := Coordinates{Latitude: *input.Latitude, Longitude: *input.Longitude}
	if err := s.persistLocation(ctx, input.DeliveryID, position, at); err != nil {
		observability.RecordLocationUpdate(outcomeFor(err), time.Time{})
		s.logger.Printf("location persist failed delivery=%s user=%s err=%v", input.DeliveryID, caller.UserID, err)
		return storeError(MessageLocationFailed, err)
	}

	s.tracker.ApplyLocationUpdate(input.DeliveryID, caller.UserID, at)
	s.broadcaster.Broadcast(LocationTopic(input.DeliveryID), LocationBroadcast{
		Latitude:  position.Latitude,
		Longitude: position.Longitude,
		UpdatedAt: at,
	}, caller.ConnID)

	observability.RecordLocationUpdate(observability.OutcomeOK, at)
	return nil
}

// ResumeTracking reconciles the gap after a transporter regains
// connectivity. Only the delivery's assigned transporter may resume it.
func (s *Service) ResumeTracking(ctx context.Context, caller Caller, input ResumeInput) (*ResumeAck, error) {
	if err := input.validate(); err != nil {
		observability.RecordResume(observability.OutcomeInvalid, 0)
		return nil, &Error{Kind: KindValidation, Message: MessageResumeFailed, Err: err}
	}

	delivery, err := s.findDelivery(ctx, input.DeliveryID)
	if err != nil {
		observability.RecordResume(outcomeFor(err), 0)
		return nil, storeError(MessageResumeFailed, err)
	}
	if delivery.TransporterID != caller.UserID {
		observability.RecordResume(observability.OutcomeUnauthorized, 0)
		s.logger.Printf("resume rejected delivery=%s user=%s", input.DeliveryID, caller.UserID)
		return nil, &Error{Kind: KindAuthorization, Message: MessageResumeFailed, Err: ErrUnauthorizedTransporter}
	}

	baseline := input.StartTime
	if last := input.LastLocation; last != nil {
		baseline = last.Timestamp
		position := Coordinates{Latitude: *last.Latitude, Longitude: *last.Longitude}
		if err := s.persistLocation(ctx, input.DeliveryID, position, last.Timestamp.UTC()); err != nil {
			observability.RecordResume(outcomeFor(err), 0)
			s.logger.Printf("resume persist failed delivery=%s user=%s err=%v", input.DeliveryID, caller.UserID, err)
			return nil, storeError(MessageResumeFailed, err)
		}
	}

	downtime := s.tracker.ApplyResume(input.DeliveryID, caller.UserID, baseline.UTC(), input.ResumeTime.UTC())
	observability.RecordResume(observability.OutcomeOK, downtime)

	return &ResumeAck{
		DeliveryID: input.DeliveryID,
		Downtime:   downtime,
		Message:    MessageTrackingResumed,
	}, nil
}

// TrackingState returns the tracking record of a delivery.
func (s *Service) TrackingState(deliveryID string) (tracking.Record, bool) {
	return s.tracker.Get(deliveryID)
}

func (s *Service) persistLocation(ctx context.Context, deliveryID string, position Coordinates, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.repo.UpdateLocation(ctx, deliveryID, position, at)
}

func (s *Service) findDelivery(ctx context.Context, deliveryID string) (*Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()

	delivery, err := s.repo.FindByID(ctx, deliveryID)
	if err != nil {
		return nil, err
	}
	if delivery == nil {
		return nil, ErrDeliveryNotFound
	}
	return delivery, nil
}

func storeError(message string, err error) *Error {
	if errors.Is(err, ErrDeliveryNotFound) {
		return &Error{Kind: KindNotFound, Message: message, Err: err}
	}
	return &Error{Kind: KindPersistence, Message: message, Err: err}
}

func outcomeFor(err error) string {
	if errors.Is(err, ErrDeliveryNotFound) {
		return observability.OutcomeNotFound
	}
	return observability.OutcomeStoreFailure
}
