package tracking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/general/contracts"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"
)

// ErrUnknownDelivery is returned when the latest state is requested for a
// delivery that has never reported telemetry.
var ErrUnknownDelivery = errors.New("unknown delivery")

// Service ingests telemetry into the event log and projection, and
// signals the broadcaster tier after each accept.
type Service struct {
	logger    *logger.Logger
	uow       ports.UnitOfWork
	telemetry ports.TelemetryRepository
	publisher ports.StatePublisher
}

func NewService(
	logger *logger.Logger,
	uow ports.UnitOfWork,
	telemetry ports.TelemetryRepository,
	publisher ports.StatePublisher,
) *Service {
	return &Service{
		logger:    logger,
		uow:       uow,
		telemetry: telemetry,
		publisher: publisher,
	}
}

var _ ports.TrackingService = (*Service)(nil)

// Ingest validates and appends the event. The append and the projection
// advance happen in one transaction; a duplicate event_id is a clean
// no-op reported as IngestDuplicate, with no second broadcast. The
// post-commit fan-out signal is best effort: a broker hiccup is logged
// and never fails an ingest that already committed.
func (s *Service) Ingest(ctx context.Context, e *delivery.TelemetryEvent) (ports.IngestOutcome, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("invalid telemetry event: %w", err)
	}

	ctx = s.logger.WithDeliveryID(ctx, e.DeliveryID)

	var inserted bool
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		inserted, txErr = s.telemetry.AppendIfNew(txCtx, e)
		return txErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to append telemetry: %w", err)
	}

	if !inserted {
		s.logger.Debug(ctx, "telemetry_duplicate", "Duplicate telemetry event dropped", map[string]any{
			"event_id": e.EventID,
		})
		return ports.IngestDuplicate, nil
	}

	s.logger.Info(ctx, "telemetry_accepted", "Telemetry event accepted", map[string]any{
		"event_id": e.EventID,
		"progress": e.Progress,
		"status":   e.Status.String(),
	})

	if pubErr := s.publisher.PublishState(ctx, stateFanoutMessage(e)); pubErr != nil {
		s.logger.Error(ctx, "state_publish_failed", "Failed to publish accepted state", pubErr,
			map[string]any{"event_id": e.EventID})
	}

	return ports.IngestAccepted, nil
}

// Latest returns the current projection row for a delivery.
func (s *Service) Latest(ctx context.Context, deliveryID string) (*delivery.DeliveryState, error) {
	if strings.TrimSpace(deliveryID) == "" {
		return nil, delivery.ErrEmptyDeliveryID
	}
	var state *delivery.DeliveryState
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		state, txErr = s.telemetry.Latest(txCtx, deliveryID)
		return txErr
	})
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, ErrUnknownDelivery
		}
		return nil, fmt.Errorf("failed to load delivery state: %w", err)
	}
	return state, nil
}

// History returns accepted events for a delivery since the given time,
// oldest first.
func (s *Service) History(ctx context.Context, deliveryID string, since time.Time, limit int) ([]*delivery.TelemetryEvent, error) {
	if strings.TrimSpace(deliveryID) == "" {
		return nil, delivery.ErrEmptyDeliveryID
	}
	var events []*delivery.TelemetryEvent
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		events, txErr = s.telemetry.ListEvents(txCtx, deliveryID, since, limit)
		return txErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load telemetry history: %w", err)
	}
	return events, nil
}

func stateFanoutMessage(e *delivery.TelemetryEvent) contracts.TelemetryStateMessage {
	return contracts.TelemetryStateMessage{
		EventID:    e.EventID,
		DeliveryID: e.DeliveryID,
		Lat:        e.Latitude,
		Lng:        e.Longitude,
		Progress:   e.Progress,
		Status:     e.Status.String(),
		Timestamp:  e.Timestamp,
		Envelope: contracts.Envelope{
			Producer: "tracking-service",
			SentAt:   time.Now().UTC(),
		},
	}
}
