package ports

import (
	"context"
	"errors"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/domain/store"
)

// ErrNotFound is returned by repositories when a row does not exist.
var ErrNotFound = errors.New("not found")

// UnitOfWork groups repository calls into one transaction.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// DeliveryRepository defines the methods for managing delivery records.
type DeliveryRepository interface {
	Create(ctx context.Context, d *delivery.Delivery) error
	GetByID(ctx context.Context, id string) (*delivery.Delivery, error)

	// TryMarkSimulationStarted flips the simulation-start guard with
	// compare-and-set semantics (UPDATE ... WHERE simulation_started = FALSE).
	// Returns true iff this call won the flip; correctness holds across
	// service replicas because the condition is evaluated by the store.
	TryMarkSimulationStarted(ctx context.Context, id string) (bool, error)

	// ResetSimulationStarted rolls the guard back after a failed downstream
	// start call so a later retry can succeed.
	ResetSimulationStarted(ctx context.Context, id string) error
}

// TelemetryRepository defines methods over the append-only event log and
// the latest-state projection.
type TelemetryRepository interface {
	// AppendIfNew inserts the event keyed by its event_id and, in the same
	// transaction, advances the per-delivery projection. Returns true iff
	// the event was newly inserted; a duplicate performs no side effects.
	AppendIfNew(ctx context.Context, e *delivery.TelemetryEvent) (bool, error)

	Latest(ctx context.Context, deliveryID string) (*delivery.DeliveryState, error)
	ListEvents(ctx context.Context, deliveryID string, since time.Time, limit int) ([]*delivery.TelemetryEvent, error)
}

// RefreshTokenRepository defines the methods for the persisted refresh-token table.
type RefreshTokenRepository interface {
	Create(ctx context.Context, rec *identity.RefreshRecord) error
	GetByJTI(ctx context.Context, jti string) (*identity.RefreshRecord, error)
	Revoke(ctx context.Context, jti string) error
}

// StoreRepository defines read-only catalog lookups plus first-run seeding.
type StoreRepository interface {
	ListStores(ctx context.Context) ([]store.Store, error)
	ListProducts(ctx context.Context, storeID string) ([]store.Product, error)
	SeedIfEmpty(ctx context.Context) error
}
