package delivery

import (
	"errors"
	"strings"
)

// Status is a delivery status as stored in the `deliveries` and
// `delivery_state` tables.
type Status string

const (
	StatusCreated     Status = "CREATED"
	StatusTakingOff   Status = "TAKING_OFF"
	StatusInFlight    Status = "IN_FLIGHT"
	StatusApproaching Status = "APPROACHING"
	StatusDelivered   Status = "DELIVERED"
)

var ErrInvalidStatus = errors.New("invalid delivery status")

// ParseStatus maps a wire string onto a Status, tolerating case and padding.
func ParseStatus(in string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(in)))
	if status.Valid() {
		return status, nil
	}
	return "", ErrInvalidStatus
}

// Valid reports whether the value is a known status.
func (status Status) Valid() bool {
	switch status {
	case StatusCreated, StatusTakingOff, StatusInFlight, StatusApproaching, StatusDelivered:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer.
func (status Status) String() string {
	return string(status)
}

// Terminal indicates if the status is in a terminal state.
func (status Status) Terminal() bool {
	return status == StatusDelivered
}

// StatusForProgress maps flight progress to the in-flight status band.
//
//	progress < 0.2  -> TAKING_OFF
//	progress < 0.8  -> IN_FLIGHT
//	progress < 1.0  -> APPROACHING
//	progress >= 1.0 -> DELIVERED
func StatusForProgress(progress float64) Status {
	switch {
	case progress >= 1.0:
		return StatusDelivered
	case progress >= 0.8:
		return StatusApproaching
	case progress >= 0.2:
		return StatusInFlight
	default:
		return StatusTakingOff
	}
}
