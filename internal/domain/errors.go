package domain

import (
	"errors"
	"fmt"
)

// Kind classifies per-event failures.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindPersistence   Kind = "persistence"
)

// Error is returned by Service operations. Message is safe to show to the
// client; Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Detail returns the cause text reported alongside Message.
func (e *Error) Detail() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

// KindOf returns the Kind of err, or the empty Kind when err is not an *Error.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return ""
}

// ErrUnauthorizedTransporter is wrapped when a caller is not the assigned transporter.
var ErrUnauthorizedTransporter = errors.New("caller is not the assigned transporter")

// ErrNotTrackingOwner is wrapped when a location sample arrives from someone
// other than the transporter that owns the delivery's tracking record.
var ErrNotTrackingOwner = errors.New("delivery is tracked by another transporter")
