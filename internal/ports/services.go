package ports

import (
	"context"
	"encoding/json"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/general/contracts"
)

// ----- DTOs for Order Service -----

// CreateDeliveryInput is the validated input required to create a delivery.
type CreateDeliveryInput struct {
	StoreID        string
	StartLatitude  float64
	StartLongitude float64
	EndLatitude    float64
	EndLongitude   float64
}

// CreateDeliveryResult is returned by OrderService.CreateDelivery().
type CreateDeliveryResult struct {
	DeliveryID           string `json:"delivery_id"`
	TrackingAccessToken  string `json:"tracking_access_token"`
	TrackingRefreshToken string `json:"tracking_refresh_token"`
	SimulationStart      string `json:"simulation_start"` // "started" | "already_started"
}

// Simulation-start outcomes.
const (
	SimulationStarted       = "started"
	SimulationAlreadyActive = "already_started"
)

// OrderService exposes the boundary for the order service.
type OrderService interface {
	CreateDelivery(ctx context.Context, in CreateDeliveryInput) (CreateDeliveryResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	RevokeRefresh(ctx context.Context, refreshToken string) error
}

// ----- DTOs for Simulator Service -----

// StartFlightInput describes one simulated point-to-point flight.
type StartFlightInput struct {
	DeliveryID string
	StartLat   float64
	StartLng   float64
	EndLat     float64
	EndLng     float64
	Duration   time.Duration // 0 means the configured default
	Tick       time.Duration // 0 means the configured default
}

// SimulatorService manages active flight simulations.
type SimulatorService interface {
	// StartFlight launches a flight for the delivery, cancelling any prior
	// active flight for the same delivery first (idempotent restart).
	StartFlight(ctx context.Context, in StartFlightInput) error
	ActiveFlights() int
}

// ----- DTOs for Tracking Service -----

// IngestOutcome distinguishes a first-time accept from an idempotent no-op.
type IngestOutcome string

const (
	IngestAccepted  IngestOutcome = "accepted"
	IngestDuplicate IngestOutcome = "duplicate"
)

// TrackingService exposes the ingestion and read boundary.
type TrackingService interface {
	Ingest(ctx context.Context, e *delivery.TelemetryEvent) (IngestOutcome, error)
	Latest(ctx context.Context, deliveryID string) (*delivery.DeliveryState, error)
	History(ctx context.Context, deliveryID string, since time.Time, limit int) ([]*delivery.TelemetryEvent, error)
}

// ----- Peer-service client ports (typed, per external interface) -----

// SimulatorStarter starts a remote flight simulation.
type SimulatorStarter interface {
	StartFlight(ctx context.Context, in StartFlightInput, bearer string) error
}

// TelemetrySink receives telemetry pushed by the position generator.
type TelemetrySink interface {
	PushTelemetry(ctx context.Context, msg contracts.TelemetryStateMessage, bearer string) error
}

// StatePublisher signals the broadcaster tier with a freshly accepted state.
type StatePublisher interface {
	PublishState(ctx context.Context, msg contracts.TelemetryStateMessage) error
}

// Geocoder proxies address lookups to the upstream provider.
type Geocoder interface {
	Search(ctx context.Context, query string) (json.RawMessage, error)
	Reverse(ctx context.Context, lat, lng float64) (json.RawMessage, error)
}
