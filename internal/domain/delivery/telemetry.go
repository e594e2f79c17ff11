package delivery

import (
	"errors"
	"strings"
	"time"
)

// TelemetryEvent is an append-only fact in the `telemetry_events` log.
// EventID is unique per emission and is the idempotency key: re-delivery
// of the same logical event must be detectable and droppable.
type TelemetryEvent struct {
	EventID    string
	DeliveryID string
	Latitude   float64
	Longitude  float64
	Progress   float64
	Status     Status
	Timestamp  time.Time
}

// DeliveryState is the latest-known projection, one row per delivery.
type DeliveryState struct {
	DeliveryID string
	Latitude   float64
	Longitude  float64
	Progress   float64
	Status     Status
	Timestamp  time.Time
}

var (
	ErrEmptyEventID    = errors.New("event_id cannot be empty")
	ErrInvalidProgress = errors.New("progress must be between 0 and 1")
	ErrZeroTimestamp   = errors.New("timestamp cannot be zero")
)

// Validate checks invariants of a telemetry event before it is appended.
func (e *TelemetryEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return ErrEmptyEventID
	}
	if strings.TrimSpace(e.DeliveryID) == "" {
		return ErrEmptyDeliveryID
	}
	if err := validateCoords(e.Latitude, e.Longitude); err != nil {
		return err
	}
	if e.Progress < 0 || e.Progress > 1 {
		return ErrInvalidProgress
	}
	if !e.Status.Valid() {
		return ErrInvalidStatus
	}
	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}
	return nil
}

// State projects the event into a DeliveryState row.
func (e *TelemetryEvent) State() *DeliveryState {
	return &DeliveryState{
		DeliveryID: e.DeliveryID,
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		Progress:   e.Progress,
		Status:     e.Status,
		Timestamp:  e.Timestamp,
	}
}
