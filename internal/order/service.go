package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"

	"github.com/google/uuid"
)

// ErrSimulatorUnavailable is returned when the delivery row was created
// but the downstream flight start could not be confirmed. The start
// guard is rolled back so a retry can succeed.
var ErrSimulatorUnavailable = errors.New("simulator unavailable")

// Service owns the delivery lifecycle: creation, the single-start guard
// for the flight simulation, and the viewer token pair.
type Service struct {
	logger        *logger.Logger
	uow           ports.UnitOfWork
	deliveries    ports.DeliveryRepository
	refreshTokens ports.RefreshTokenRepository
	authority     *auth.Authority
	simulator     ports.SimulatorStarter
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewService(
	logger *logger.Logger,
	uow ports.UnitOfWork,
	deliveries ports.DeliveryRepository,
	refreshTokens ports.RefreshTokenRepository,
	authority *auth.Authority,
	simulator ports.SimulatorStarter,
	accessTTL, refreshTTL time.Duration,
) *Service {
	return &Service{
		logger:        logger,
		uow:           uow,
		deliveries:    deliveries,
		refreshTokens: refreshTokens,
		authority:     authority,
		simulator:     simulator,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

var _ ports.OrderService = (*Service)(nil)

// CreateDelivery persists a new delivery, wins the simulation-start
// guard, asks the simulator to fly, and mints the viewer token pair
// bound to the new delivery. If the simulator cannot be reached the
// guard is rolled back and the whole call fails; the created row stays,
// so a retried create gets a fresh delivery instead of a half-started
// one.
func (s *Service) CreateDelivery(ctx context.Context, in ports.CreateDeliveryInput) (ports.CreateDeliveryResult, error) {
	d, err := delivery.NewDelivery(newDeliveryID(), in.StoreID,
		in.StartLatitude, in.StartLongitude, in.EndLatitude, in.EndLongitude)
	if err != nil {
		return ports.CreateDeliveryResult{}, err
	}

	ctx = s.logger.WithDeliveryID(ctx, d.ID)

	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return s.deliveries.Create(txCtx, d)
	})
	if err != nil {
		return ports.CreateDeliveryResult{}, fmt.Errorf("failed to create delivery: %w", err)
	}

	s.logger.Info(ctx, "delivery_created", "Delivery created", map[string]any{
		"store_id": d.StoreID,
	})

	startOutcome, err := s.startSimulation(ctx, d)
	if err != nil {
		return ports.CreateDeliveryResult{}, err
	}

	accessToken, _, err := s.authority.IssueAccess(d.ID, identity.RoleCustomer,
		[]identity.Scope{identity.ScopeTrackingRead}, s.accessTTL)
	if err != nil {
		return ports.CreateDeliveryResult{}, fmt.Errorf("failed to issue access token: %w", err)
	}

	refreshToken, err := s.issueRefresh(ctx, d.ID)
	if err != nil {
		return ports.CreateDeliveryResult{}, err
	}

	return ports.CreateDeliveryResult{
		DeliveryID:           d.ID,
		TrackingAccessToken:  accessToken,
		TrackingRefreshToken: refreshToken,
		SimulationStart:      startOutcome,
	}, nil
}

// startSimulation flips the start guard with compare-and-set semantics
// and only then calls the simulator. Exactly one caller wins the flip
// even across replicas; losers report "already_started" without a second
// start call. A failed downstream call rolls the guard back.
func (s *Service) startSimulation(ctx context.Context, d *delivery.Delivery) (string, error) {
	var won bool
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		won, txErr = s.deliveries.TryMarkSimulationStarted(txCtx, d.ID)
		return txErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to mark simulation started: %w", err)
	}
	if !won {
		s.logger.Info(ctx, "simulation_already_started", "Simulation start already claimed", nil)
		return ports.SimulationAlreadyActive, nil
	}

	bearer, _, err := s.authority.IssueAccess(d.ID, identity.RoleOperator,
		[]identity.Scope{identity.ScopeSimulatorStart}, s.accessTTL)
	if err != nil {
		s.rollbackStartGuard(ctx, d.ID)
		return "", fmt.Errorf("failed to issue simulator token: %w", err)
	}

	startErr := s.simulator.StartFlight(ctx, ports.StartFlightInput{
		DeliveryID: d.ID,
		StartLat:   d.StartLatitude,
		StartLng:   d.StartLongitude,
		EndLat:     d.EndLatitude,
		EndLng:     d.EndLongitude,
	}, bearer)
	if startErr != nil {
		s.logger.Error(ctx, "simulation_start_failed", "Failed to start flight simulation", startErr, nil)
		s.rollbackStartGuard(ctx, d.ID)
		return "", fmt.Errorf("%w: %s", ErrSimulatorUnavailable, startErr)
	}

	s.logger.Info(ctx, "simulation_started", "Flight simulation started", nil)
	return ports.SimulationStarted, nil
}

func (s *Service) rollbackStartGuard(ctx context.Context, deliveryID string) {
	err := s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return s.deliveries.ResetSimulationStarted(txCtx, deliveryID)
	})
	if err != nil {
		s.logger.Error(ctx, "start_guard_rollback_failed", "Failed to roll back simulation start guard", err, nil)
	}
}

// issueRefresh mints a refresh token and records its jti so that later
// refreshes can be checked against revocation and expiry server-side.
func (s *Service) issueRefresh(ctx context.Context, deliveryID string) (string, error) {
	token, claims, err := s.authority.IssueRefresh(deliveryID, s.refreshTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue refresh token: %w", err)
	}

	rec := &identity.RefreshRecord{
		JTI:        claims.ID,
		DeliveryID: deliveryID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}
	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return s.refreshTokens.Create(txCtx, rec)
	})
	if err != nil {
		return "", fmt.Errorf("failed to persist refresh token: %w", err)
	}

	return token, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a fresh viewer
// access token. The refresh token itself is not rotated; the holder may
// keep using it until expiry or revocation.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	rec, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	accessToken, _, err := s.authority.IssueAccess(rec.DeliveryID, identity.RoleCustomer,
		[]identity.Scope{identity.ScopeTrackingRead}, s.accessTTL)
	if err != nil {
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}

	s.logger.Info(s.logger.WithDeliveryID(ctx, rec.DeliveryID),
		"access_token_refreshed", "Access token refreshed", map[string]any{"jti": rec.JTI})

	return accessToken, nil
}

// RevokeRefresh invalidates a refresh token by marking its jti revoked.
// Revocation is idempotent from the caller's view: revoking an already
// revoked token succeeds.
func (s *Service) RevokeRefresh(ctx context.Context, refreshToken string) error {
	rec, err := s.lookupRefresh(ctx, refreshToken)
	if err != nil {
		return err
	}

	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		return s.refreshTokens.Revoke(txCtx, rec.JTI)
	})
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return auth.ErrInvalidToken
		}
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}

	s.logger.Info(s.logger.WithDeliveryID(ctx, rec.DeliveryID),
		"refresh_token_revoked", "Refresh token revoked", map[string]any{"jti": rec.JTI})

	return nil
}

// lookupRefresh verifies a refresh token end to end: signature and
// registered claims, the refresh type, and the persisted jti state.
// Every failure collapses into auth.ErrInvalidToken.
func (s *Service) lookupRefresh(ctx context.Context, refreshToken string) (*identity.RefreshRecord, error) {
	claims, err := s.authority.Verify(refreshToken)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	if claims.TokenType != auth.TokenTypeRefresh || claims.ID == "" || claims.Subject == "" {
		return nil, auth.ErrInvalidToken
	}

	var rec *identity.RefreshRecord
	err = s.uow.WithinTx(ctx, func(txCtx context.Context) error {
		var txErr error
		rec, txErr = s.refreshTokens.GetByJTI(txCtx, claims.ID)
		return txErr
	})
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, fmt.Errorf("failed to look up refresh token: %w", err)
	}

	if !rec.Usable(time.Now().UTC()) {
		return nil, auth.ErrInvalidToken
	}
	return rec, nil
}

// newDeliveryID returns a fresh public delivery identifier.
func newDeliveryID() string {
	hexID := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "DLV-" + hexID[:10]
}
