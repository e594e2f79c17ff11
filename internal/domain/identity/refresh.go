package identity

import (
	"errors"
	"strings"
	"time"
)

// RefreshRecord is the persisted side of a refresh token, one row per jti
// in the `refresh_tokens` table. The token itself is never stored; a
// refresh is honored only while its jti is present, unexpired, and not
// revoked.
type RefreshRecord struct {
	JTI        string
	DeliveryID string
	ExpiresAt  time.Time
	Revoked    bool
}

var (
	ErrEmptyJTI        = errors.New("jti cannot be empty")
	ErrEmptyDeliveryID = errors.New("delivery_id cannot be empty")
)

// Validate checks invariants of the refresh record.
func (r *RefreshRecord) Validate() error {
	if strings.TrimSpace(r.JTI) == "" {
		return ErrEmptyJTI
	}
	if strings.TrimSpace(r.DeliveryID) == "" {
		return ErrEmptyDeliveryID
	}
	if r.ExpiresAt.IsZero() {
		return errors.New("expires_at cannot be zero")
	}
	return nil
}

// Usable reports whether the record may still mint access tokens at now.
func (r *RefreshRecord) Usable(now time.Time) bool {
	return !r.Revoked && now.Before(r.ExpiresAt)
}
