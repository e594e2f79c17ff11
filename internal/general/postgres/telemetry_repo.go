package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/ports"

	"github.com/jackc/pgx/v5"
)

// TelemetryRepo owns the append-only telemetry_events log and the
// delivery_state projection, using pgx and plain SQL.
type TelemetryRepo struct{}

// NewTelemetryRepo constructs a new TelemetryRepo.
func NewTelemetryRepo() ports.TelemetryRepository {
	return &TelemetryRepo{}
}

// AppendIfNew inserts the event keyed by event_id and advances the
// projection in the same transaction. ON CONFLICT DO NOTHING on the log
// insert makes redelivery of the same event a no-op: when the insert
// affects zero rows the projection is left untouched and false is
// returned. The projection upsert only applies when the incoming event's
// timestamp is not older than the stored row, so out-of-order arrivals
// cannot regress the latest-known state.
func (repo *TelemetryRepo) AppendIfNew(ctx context.Context, e *delivery.TelemetryEvent) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	// validate domain invariants before touching the log
	if err := e.Validate(); err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO telemetry_events (event_id, delivery_id, lat, lng, progress, status, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`,
		e.EventID,
		e.DeliveryID,
		e.Latitude,
		e.Longitude,
		e.Progress,
		e.Status.String(),
		e.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("append telemetry event: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// duplicate event id: no projection update, no broadcast
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO delivery_state (delivery_id, lat, lng, progress, status, ts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (delivery_id) DO UPDATE SET
			lat      = excluded.lat,
			lng      = excluded.lng,
			progress = excluded.progress,
			status   = excluded.status,
			ts       = excluded.ts
		WHERE delivery_state.ts <= excluded.ts
	`,
		e.DeliveryID,
		e.Latitude,
		e.Longitude,
		e.Progress,
		e.Status.String(),
		e.Timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("update delivery state projection: %w", err)
	}

	return true, nil
}

// Latest returns the projection row for a delivery, or ports.ErrNotFound
// when no telemetry has been accepted yet.
func (repo *TelemetryRepo) Latest(ctx context.Context, deliveryID string) (*delivery.DeliveryState, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var st delivery.DeliveryState
	var status string
	err = tx.QueryRow(ctx, `
		SELECT delivery_id, lat, lng, progress, status, ts
		FROM delivery_state
		WHERE delivery_id = $1
	`, deliveryID).Scan(
		&st.DeliveryID, &st.Latitude, &st.Longitude, &st.Progress, &status, &st.Timestamp,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery state: %w", err)
	}

	st.Status, err = delivery.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored state status: %w", err)
	}

	return &st, nil
}

// ListEvents returns log entries for a delivery since the given time,
// oldest first, capped at limit.
func (repo *TelemetryRepo) ListEvents(ctx context.Context, deliveryID string, since time.Time, limit int) ([]*delivery.TelemetryEvent, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 100
	}

	rows, err := tx.Query(ctx, `
		SELECT event_id, delivery_id, lat, lng, progress, status, ts
		FROM telemetry_events
		WHERE delivery_id = $1 AND ts >= $2
		ORDER BY ts ASC
		LIMIT $3
	`, deliveryID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("query telemetry events: %w", err)
	}
	defer rows.Close()

	var events []*delivery.TelemetryEvent
	for rows.Next() {
		var e delivery.TelemetryEvent
		var status string
		if err := rows.Scan(&e.EventID, &e.DeliveryID, &e.Latitude, &e.Longitude, &e.Progress, &status, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan telemetry event: %w", err)
		}
		e.Status, err = delivery.ParseStatus(status)
		if err != nil {
			return nil, fmt.Errorf("stored event status: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}
