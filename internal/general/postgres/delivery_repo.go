package postgres

import (
	"context"
	"errors"
	"fmt"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/ports"

	"github.com/jackc/pgx/v5"
)

// DeliveryRepo persists deliveries using pgx and plain SQL.
type DeliveryRepo struct{}

// NewDeliveryRepo constructs a new DeliveryRepo.
func NewDeliveryRepo() ports.DeliveryRepository {
	return &DeliveryRepo{}
}

// Create inserts a new deliveries row in the CREATED state.
func (repo *DeliveryRepo) Create(ctx context.Context, d *delivery.Delivery) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	// validate domain invariants before inserting
	if err := d.Validate(); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deliveries (
			delivery_id, store_id, start_lat, start_lng, end_lat, end_lng,
			status, simulation_started, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)
	`,
		d.ID,
		d.StoreID,
		d.StartLatitude,
		d.StartLongitude,
		d.EndLatitude,
		d.EndLongitude,
		d.Status.String(),
		d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}

	return nil
}

// GetByID fetches a single delivery row.
func (repo *DeliveryRepo) GetByID(ctx context.Context, id string) (*delivery.Delivery, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var d delivery.Delivery
	var status string
	err = tx.QueryRow(ctx, `
		SELECT delivery_id, store_id, start_lat, start_lng, end_lat, end_lng,
		       status, simulation_started, created_at
		FROM deliveries
		WHERE delivery_id = $1
	`, id).Scan(
		&d.ID, &d.StoreID, &d.StartLatitude, &d.StartLongitude,
		&d.EndLatitude, &d.EndLongitude, &status, &d.SimulationStarted, &d.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query delivery: %w", err)
	}

	d.Status, err = delivery.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("stored delivery status: %w", err)
	}

	return &d, nil
}

// TryMarkSimulationStarted flips the start guard with a conditional update.
// The WHERE clause makes the flip a compare-and-set at the store level, so
// at most one caller wins even under concurrent start requests across
// replicas.
func (repo *DeliveryRepo) TryMarkSimulationStarted(ctx context.Context, id string) (bool, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return false, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE deliveries
		SET simulation_started = TRUE
		WHERE delivery_id = $1 AND simulation_started = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark simulation started: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ResetSimulationStarted rolls back the start guard so a future retry can
// win it again.
func (repo *DeliveryRepo) ResetSimulationStarted(ctx context.Context, id string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE deliveries
		SET simulation_started = FALSE
		WHERE delivery_id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("reset simulation started: %w", err)
	}

	return nil
}
