package order

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"
)

type passthroughUOW struct{}

func (passthroughUOW) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type memDeliveryRepo struct {
	mu         sync.Mutex
	deliveries map[string]*delivery.Delivery
}

func newMemDeliveryRepo() *memDeliveryRepo {
	return &memDeliveryRepo{deliveries: make(map[string]*delivery.Delivery)}
}

func (r *memDeliveryRepo) Create(_ context.Context, d *delivery.Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *d
	r.deliveries[d.ID] = &cp
	return nil
}

func (r *memDeliveryRepo) GetByID(_ context.Context, id string) (*delivery.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memDeliveryRepo) TryMarkSimulationStarted(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deliveries[id]
	if !ok || d.SimulationStarted {
		return false, nil
	}
	d.SimulationStarted = true
	return true, nil
}

func (r *memDeliveryRepo) ResetSimulationStarted(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.deliveries[id]; ok {
		d.SimulationStarted = false
	}
	return nil
}

type memRefreshRepo struct {
	mu      sync.Mutex
	records map[string]*identity.RefreshRecord
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{records: make(map[string]*identity.RefreshRecord)}
}

func (r *memRefreshRepo) Create(_ context.Context, rec *identity.RefreshRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.JTI] = &cp
	return nil
}

func (r *memRefreshRepo) GetByJTI(_ context.Context, jti string) (*identity.RefreshRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[jti]
	if !ok {
		return nil, ports.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memRefreshRepo) Revoke(_ context.Context, jti string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[jti]
	if !ok {
		return ports.ErrNotFound
	}
	rec.Revoked = true
	return nil
}

type fakeSimulator struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (s *fakeSimulator) StartFlight(context.Context, ports.StartFlightInput, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail {
		return errors.New("connection refused")
	}
	return nil
}

func (s *fakeSimulator) startCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type orderEnv struct {
	svc        *Service
	authority  *auth.Authority
	deliveries *memDeliveryRepo
	refresh    *memRefreshRepo
	simulator  *fakeSimulator
}

func newOrderEnv(t *testing.T) orderEnv {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authority, err := auth.NewAuthority(key, nil, "droneapp", "droneapp-clients")
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}

	deliveries := newMemDeliveryRepo()
	refresh := newMemRefreshRepo()
	sim := &fakeSimulator{}

	svc := NewService(logger.New("order-test"), passthroughUOW{}, deliveries, refresh,
		authority, sim, 15*time.Minute, 30*24*time.Hour)

	return orderEnv{svc: svc, authority: authority, deliveries: deliveries, refresh: refresh, simulator: sim}
}

func testCreateInput() ports.CreateDeliveryInput {
	return ports.CreateDeliveryInput{
		StoreID:        "store-1",
		StartLatitude:  43.0,
		StartLongitude: 76.0,
		EndLatitude:    43.1,
		EndLongitude:   76.1,
	}
}

func TestCreateDeliveryIssuesBoundTokens(t *testing.T) {
	env := newOrderEnv(t)

	result, err := env.svc.CreateDelivery(context.Background(), testCreateInput())
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	if !strings.HasPrefix(result.DeliveryID, "DLV-") || len(result.DeliveryID) != 14 {
		t.Fatalf("unexpected delivery id format: %q", result.DeliveryID)
	}
	if result.SimulationStart != ports.SimulationStarted {
		t.Fatalf("simulation_start = %q, want started", result.SimulationStart)
	}
	if env.simulator.startCalls() != 1 {
		t.Fatalf("simulator start calls = %d, want 1", env.simulator.startCalls())
	}

	accessClaims, err := env.authority.Verify(result.TrackingAccessToken)
	if err != nil {
		t.Fatalf("access token does not verify: %v", err)
	}
	if accessClaims.Subject != result.DeliveryID {
		t.Fatalf("access token subject = %s, want %s", accessClaims.Subject, result.DeliveryID)
	}
	if accessClaims.Role != identity.RoleCustomer {
		t.Fatalf("access token role = %s, want customer", accessClaims.Role)
	}
	if !identity.HasAll(accessClaims.Scopes, identity.ScopeTrackingRead) {
		t.Fatal("access token missing tracking:read scope")
	}
	if accessClaims.TokenType != auth.TokenTypeAccess {
		t.Fatalf("access token type = %s, want access", accessClaims.TokenType)
	}

	refreshClaims, err := env.authority.Verify(result.TrackingRefreshToken)
	if err != nil {
		t.Fatalf("refresh token does not verify: %v", err)
	}
	if refreshClaims.TokenType != auth.TokenTypeRefresh {
		t.Fatalf("refresh token type = %s, want refresh", refreshClaims.TokenType)
	}
	if _, err := env.refresh.GetByJTI(context.Background(), refreshClaims.ID); err != nil {
		t.Fatalf("refresh jti not persisted: %v", err)
	}
}

func TestCreateDeliveryRollsBackGuardOnSimulatorFailure(t *testing.T) {
	env := newOrderEnv(t)
	env.simulator.fail = true

	_, err := env.svc.CreateDelivery(context.Background(), testCreateInput())
	if !errors.Is(err, ErrSimulatorUnavailable) {
		t.Fatalf("want ErrSimulatorUnavailable, got %v", err)
	}

	// the guard must be rolled back so a later start attempt can win it
	env.deliveries.mu.Lock()
	for _, d := range env.deliveries.deliveries {
		if d.SimulationStarted {
			env.deliveries.mu.Unlock()
			t.Fatal("start guard left set after failed simulator call")
		}
	}
	env.deliveries.mu.Unlock()
}

func TestStartSimulationGuardAdmitsOneWinner(t *testing.T) {
	env := newOrderEnv(t)

	d, err := delivery.NewDelivery("DLV-0123456789", "store-1", 43.0, 76.0, 43.1, 76.1)
	if err != nil {
		t.Fatalf("new delivery: %v", err)
	}
	if err := env.deliveries.Create(context.Background(), d); err != nil {
		t.Fatalf("create: %v", err)
	}

	const attempts = 8
	outcomes := make(chan string, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := env.svc.startSimulation(context.Background(), d)
			if err != nil {
				t.Errorf("start simulation: %v", err)
				return
			}
			outcomes <- out
		}()
	}
	wg.Wait()
	close(outcomes)

	var started, already int
	for out := range outcomes {
		switch out {
		case ports.SimulationStarted:
			started++
		case ports.SimulationAlreadyActive:
			already++
		}
	}
	if started != 1 {
		t.Fatalf("winners = %d, want exactly 1", started)
	}
	if already != attempts-1 {
		t.Fatalf("already_started = %d, want %d", already, attempts-1)
	}
	if env.simulator.startCalls() != 1 {
		t.Fatalf("simulator start calls = %d, want 1", env.simulator.startCalls())
	}
}

func TestRefreshHonorsRevocation(t *testing.T) {
	env := newOrderEnv(t)

	result, err := env.svc.CreateDelivery(context.Background(), testCreateInput())
	if err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	accessToken, err := env.svc.Refresh(context.Background(), result.TrackingRefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	claims, err := env.authority.Verify(accessToken)
	if err != nil {
		t.Fatalf("refreshed access token does not verify: %v", err)
	}
	if claims.Subject != result.DeliveryID {
		t.Fatalf("refreshed token subject = %s, want %s", claims.Subject, result.DeliveryID)
	}

	if err := env.svc.RevokeRefresh(context.Background(), result.TrackingRefreshToken); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), result.TrackingRefreshToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("refresh after revoke: want ErrInvalidToken, got %v", err)
	}
}

func TestRefreshRejectsGarbageAndAccessTokens(t *testing.T) {
	env := newOrderEnv(t)

	if _, err := env.svc.Refresh(context.Background(), "not-a-token"); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("garbage token: want ErrInvalidToken, got %v", err)
	}

	// an access token must never pass as a refresh token
	accessToken, _, err := env.authority.IssueAccess("DLV-0123456789", identity.RoleCustomer,
		[]identity.Scope{identity.ScopeTrackingRead}, time.Minute)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := env.svc.Refresh(context.Background(), accessToken); !errors.Is(err, auth.ErrInvalidToken) {
		t.Fatalf("access-as-refresh: want ErrInvalidToken, got %v", err)
	}
}

func TestCreateDeliveryValidatesInput(t *testing.T) {
	env := newOrderEnv(t)

	in := testCreateInput()
	in.StoreID = "  "
	if _, err := env.svc.CreateDelivery(context.Background(), in); !errors.Is(err, delivery.ErrEmptyStoreID) {
		t.Fatalf("want ErrEmptyStoreID, got %v", err)
	}

	in = testCreateInput()
	in.EndLatitude = 123
	if _, err := env.svc.CreateDelivery(context.Background(), in); !errors.Is(err, delivery.ErrInvalidLatitude) {
		t.Fatalf("want ErrInvalidLatitude, got %v", err)
	}
	if env.simulator.startCalls() != 0 {
		t.Fatal("simulator must not be called for invalid input")
	}
}
