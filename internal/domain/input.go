package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Timestamp accepts either an RFC 3339 string or epoch milliseconds on the wire.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] != '"' {
		return t.parseMillis(string(data))
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty timestamp")
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	return t.parseMillis(raw)
}

// Epoch milliseconds are accepted between 0001-01-01 and 9999-12-31, the
// range RFC 3339 can render back.
var (
	minEpochMillis = float64(time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	maxEpochMillis = float64(time.Date(9999, time.December, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli())
)

func (t *Timestamp) parseMillis(raw string) error {
	ms, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("timestamp %q is neither RFC 3339 nor epoch milliseconds", raw)
	}
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < minEpochMillis || ms > maxEpochMillis {
		return fmt.Errorf("timestamp %q is out of range", raw)
	}
	t.Time = time.UnixMilli(int64(ms)).UTC()
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// LocationInput is the payload of a transporter:location event.
type LocationInput struct {
	DeliveryID string     `json:"deliveryId" validate:"required"`
	Latitude   *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude  *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Timestamp  *Timestamp `json:"timestamp"`
}

// LastLocation is the last sample a client managed to record before losing
// connectivity.
type LastLocation struct {
	Latitude  *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Timestamp *Timestamp `json:"timestamp"`
}

// ResumeInput is the payload of a transporter:resume_tracking event.
type ResumeInput struct {
	DeliveryID   string        `json:"deliveryId" validate:"required"`
	LastLocation *LastLocation `json:"lastLocation,omitempty"`
	StartTime    *Timestamp    `json:"startTime"`
	ResumeTime   *Timestamp    `json:"resumeTime"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (in LocationInput) validate() error {
	if err := validate.Struct(in); err != nil {
		return describeValidation(err)
	}
	if missingTime(in.Timestamp) {
		return errors.New("timestamp is required")
	}
	return nil
}

func (in ResumeInput) validate() error {
	if err := validate.Struct(in); err != nil {
		return describeValidation(err)
	}
	if missingTime(in.ResumeTime) {
		return errors.New("resumeTime is required")
	}
	if in.LastLocation != nil {
		if missingTime(in.LastLocation.Timestamp) {
			return errors.New("lastLocation.timestamp is required")
		}
		return nil
	}
	if missingTime(in.StartTime) {
		return errors.New("startTime is required when lastLocation is absent")
	}
	return nil
}

func missingTime(ts *Timestamp) bool {
	return ts == nil || ts.IsZero()
}

func describeValidation(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx >= 0 {
			field = field[idx+1:]
		}
		switch fe.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		default:
			parts = append(parts, fmt.Sprintf("%s must be %s %s", field, fe.Tag(), fe.Param()))
		}
	}
	return errors.New(strings.Join(parts, "; "))
}
