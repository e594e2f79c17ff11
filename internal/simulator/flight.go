package simulator

import (
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/ports"
)

// Sample is one computed telemetry point along a flight.
type Sample struct {
	Latitude  float64
	Longitude float64
	Progress  float64
	Status    delivery.Status
}

// Delivered reports whether this sample is the terminal one.
func (s Sample) Delivered() bool {
	return s.Status == delivery.StatusDelivered
}

// PositionAt computes the flight state after the given elapsed wall-clock
// time. Progress is clamp(elapsed/duration, 0, 1) and the position is a
// linear interpolation between start and end coordinates.
func PositionAt(in ports.StartFlightInput, elapsed time.Duration) Sample {
	progress := 1.0
	if in.Duration > 0 {
		progress = elapsed.Seconds() / in.Duration.Seconds()
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	return Sample{
		Latitude:  in.StartLat + (in.EndLat-in.StartLat)*progress,
		Longitude: in.StartLng + (in.EndLng-in.StartLng)*progress,
		Progress:  progress,
		Status:    delivery.StatusForProgress(progress),
	}
}
