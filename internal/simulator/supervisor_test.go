package simulator

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/contracts"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"
)

type captureSink struct {
	mu      sync.Mutex
	msgs    []contracts.TelemetryStateMessage
	bearers []string
}

func (s *captureSink) PushTelemetry(_ context.Context, msg contracts.TelemetryStateMessage, bearer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	s.bearers = append(s.bearers, bearer)
	return nil
}

func (s *captureSink) snapshot() []contracts.TelemetryStateMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.TelemetryStateMessage, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func testAuthority(t *testing.T) *auth.Authority {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	authority, err := auth.NewAuthority(key, nil, "droneapp", "droneapp-clients")
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	return authority
}

func newTestSupervisor(t *testing.T, sink ports.TelemetrySink) *Supervisor {
	t.Helper()
	return NewSupervisor(logger.New("simulator-test"), testAuthority(t), sink,
		time.Second, 10*time.Millisecond, time.Minute, 4)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestFlightRunsToCompletion(t *testing.T) {
	sink := &captureSink{}
	sup := newTestSupervisor(t, sink)
	defer sup.Shutdown()

	in := ports.StartFlightInput{
		DeliveryID: "DLV-aaaaaaaaaa",
		StartLat:   43.0, StartLng: 76.0,
		EndLat: 43.1, EndLng: 76.1,
		Duration: 50 * time.Millisecond,
		Tick:     10 * time.Millisecond,
	}
	if err := sup.StartFlight(context.Background(), in); err != nil {
		t.Fatalf("start flight: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return sup.ActiveFlights() == 0 })

	msgs := sink.snapshot()
	if len(msgs) == 0 {
		t.Fatal("no telemetry pushed")
	}
	// pushes go through worker slots, so sink arrival order is not fixed
	var delivered *contracts.TelemetryStateMessage
	for i := range msgs {
		if msgs[i].Status == delivery.StatusDelivered.String() {
			delivered = &msgs[i]
		}
	}
	if delivered == nil {
		t.Fatal("no DELIVERED message pushed")
	}
	if delivered.Progress != 1 {
		t.Fatalf("delivered message progress = %v, want 1", delivered.Progress)
	}
	for _, m := range msgs {
		if m.DeliveryID != in.DeliveryID {
			t.Fatalf("message for wrong delivery: %s", m.DeliveryID)
		}
		if m.EventID == "" {
			t.Fatal("message missing event_id")
		}
	}
}

func TestFlightPushesDeviceToken(t *testing.T) {
	sink := &captureSink{}
	authority := testAuthority(t)
	sup := NewSupervisor(logger.New("simulator-test"), authority, sink,
		time.Second, 10*time.Millisecond, time.Minute, 4)
	defer sup.Shutdown()

	in := ports.StartFlightInput{
		DeliveryID: "DLV-bbbbbbbbbb",
		StartLat:   43.0, StartLng: 76.0,
		EndLat: 43.1, EndLng: 76.1,
		Duration: 30 * time.Millisecond,
		Tick:     10 * time.Millisecond,
	}
	if err := sup.StartFlight(context.Background(), in); err != nil {
		t.Fatalf("start flight: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return sup.ActiveFlights() == 0 })

	sink.mu.Lock()
	bearer := sink.bearers[0]
	sink.mu.Unlock()

	claims, err := authority.Verify(bearer)
	if err != nil {
		t.Fatalf("pushed bearer does not verify: %v", err)
	}
	if claims.Role != identity.RoleDroneDevice {
		t.Fatalf("bearer role = %s, want drone_device", claims.Role)
	}
	if !identity.HasAll(claims.Scopes, identity.ScopeTelemetryWrite) {
		t.Fatal("bearer missing telemetry:write scope")
	}
	if claims.Subject != in.DeliveryID {
		t.Fatalf("bearer subject = %s, want %s", claims.Subject, in.DeliveryID)
	}
}

func TestRestartReplacesActiveFlight(t *testing.T) {
	sink := &captureSink{}
	sup := newTestSupervisor(t, sink)
	defer sup.Shutdown()

	in := ports.StartFlightInput{
		DeliveryID: "DLV-cccccccccc",
		StartLat:   43.0, StartLng: 76.0,
		EndLat: 43.1, EndLng: 76.1,
		Duration: 10 * time.Second,
		Tick:     10 * time.Millisecond,
	}

	if err := sup.StartFlight(context.Background(), in); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := sup.StartFlight(context.Background(), in); err != nil {
		t.Fatalf("restart: %v", err)
	}

	// a restart swaps the generator, it never stacks a second one
	if n := sup.ActiveFlights(); n != 1 {
		t.Fatalf("active flights after restart = %d, want 1", n)
	}

	sup.Shutdown()
	if n := sup.ActiveFlights(); n != 0 {
		t.Fatalf("active flights after shutdown = %d, want 0", n)
	}
}

// slowSink holds every push for a while, like a tracking peer under load.
type slowSink struct {
	hold time.Duration
}

func (s *slowSink) PushTelemetry(ctx context.Context, _ contracts.TelemetryStateMessage, _ string) error {
	select {
	case <-time.After(s.hold):
	case <-ctx.Done():
	}
	return nil
}

func TestConcurrentRestartsKeepSingleGenerator(t *testing.T) {
	sup := newTestSupervisor(t, &slowSink{hold: 150 * time.Millisecond})

	in := ports.StartFlightInput{
		DeliveryID: "DLV-dddddddddd",
		StartLat:   43.0, StartLng: 76.0,
		EndLat: 43.1, EndLng: 76.1,
		Duration: 10 * time.Second,
		Tick:     20 * time.Millisecond,
	}
	if err := sup.StartFlight(context.Background(), in); err != nil {
		t.Fatalf("first start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sup.StartFlight(context.Background(), in); err != nil {
				t.Errorf("restart: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := sup.ActiveFlights(); n != 1 {
		t.Fatalf("active flights after concurrent restarts = %d, want 1", n)
	}

	// a generator that slipped past the restart path would run unregistered
	// for the full flight duration and hold Shutdown hostage
	done := make(chan struct{})
	go func() {
		sup.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown blocked waiting on an unregistered generator")
	}
}

func TestStartFlightRejectsEmptyDelivery(t *testing.T) {
	sup := newTestSupervisor(t, &captureSink{})
	defer sup.Shutdown()

	err := sup.StartFlight(context.Background(), ports.StartFlightInput{DeliveryID: "  "})
	if err != delivery.ErrEmptyDeliveryID {
		t.Fatalf("want ErrEmptyDeliveryID, got %v", err)
	}
}
