package delivery

import (
	"errors"
	"strings"
	"time"
)

// Delivery is the domain entity corresponding to the `deliveries` table.
// A delivery is created once and never structurally mutated afterward;
// its live status is inferred from the latest accepted telemetry.
type Delivery struct {
	ID                string
	StoreID           string
	StartLatitude     float64
	StartLongitude    float64
	EndLatitude       float64
	EndLongitude      float64
	Status            Status
	SimulationStarted bool
	CreatedAt         time.Time
}

var (
	ErrEmptyDeliveryID  = errors.New("delivery_id cannot be empty")
	ErrEmptyStoreID     = errors.New("store_id cannot be empty")
	ErrInvalidLatitude  = errors.New("latitude must be between -90 and 90")
	ErrInvalidLongitude = errors.New("longitude must be between -180 and 180")
)

// NewDelivery constructs a Delivery in the CREATED state.
func NewDelivery(id, storeID string, startLat, startLng, endLat, endLng float64) (*Delivery, error) {
	d := &Delivery{
		ID:             strings.TrimSpace(id),
		StoreID:        strings.TrimSpace(storeID),
		StartLatitude:  startLat,
		StartLongitude: startLng,
		EndLatitude:    endLat,
		EndLongitude:   endLng,
		Status:         StatusCreated,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks invariants of the Delivery entity.
func (d *Delivery) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrEmptyDeliveryID
	}
	if strings.TrimSpace(d.StoreID) == "" {
		return ErrEmptyStoreID
	}
	if err := validateCoords(d.StartLatitude, d.StartLongitude); err != nil {
		return err
	}
	if err := validateCoords(d.EndLatitude, d.EndLongitude); err != nil {
		return err
	}
	if !d.Status.Valid() {
		return ErrInvalidStatus
	}
	return nil
}

func validateCoords(lat, lng float64) error {
	if lat < -90 || lat > 90 {
		return ErrInvalidLatitude
	}
	if lng < -180 || lng > 180 {
		return ErrInvalidLongitude
	}
	return nil
}
