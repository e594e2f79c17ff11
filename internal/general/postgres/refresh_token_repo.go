package postgres

import (
	"context"
	"errors"
	"fmt"

	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/ports"

	"github.com/jackc/pgx/v5"
)

// RefreshTokenRepo persists refresh-token records using pgx and plain SQL.
type RefreshTokenRepo struct{}

// NewRefreshTokenRepo constructs a new RefreshTokenRepo.
func NewRefreshTokenRepo() ports.RefreshTokenRepository {
	return &RefreshTokenRepo{}
}

// Create inserts a new refresh_tokens row.
func (repo *RefreshTokenRepo) Create(ctx context.Context, rec *identity.RefreshRecord) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	if err := rec.Validate(); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO refresh_tokens (jti, delivery_id, expires_at, revoked)
		VALUES ($1, $2, $3, FALSE)
	`, rec.JTI, rec.DeliveryID, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetByJTI fetches a refresh record by its unique token identifier.
func (repo *RefreshTokenRepo) GetByJTI(ctx context.Context, jti string) (*identity.RefreshRecord, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var rec identity.RefreshRecord
	err = tx.QueryRow(ctx, `
		SELECT jti, delivery_id, expires_at, revoked
		FROM refresh_tokens
		WHERE jti = $1
	`, jti).Scan(&rec.JTI, &rec.DeliveryID, &rec.ExpiresAt, &rec.Revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query refresh token: %w", err)
	}

	return &rec, nil
}

// Revoke marks the record revoked; refresh must fail afterward even if
// the token is not yet expired.
func (repo *RefreshTokenRepo) Revoke(ctx context.Context, jti string) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE jti = $1
	`, jti)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrNotFound
	}

	return nil
}
