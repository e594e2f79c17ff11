package simulator

import (
	"context"
	"strings"
	"sync"
	"time"

	"drone-delivery/internal/domain/delivery"
	"drone-delivery/internal/domain/identity"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/contracts"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/ports"

	"github.com/google/uuid"
)

// Supervisor owns the registry of active flights. The registry is an
// explicitly-held, lock-guarded map (never a package-level singleton) so
// tests can run isolated instances side by side.
type Supervisor struct {
	logger    *logger.Logger
	authority *auth.Authority
	sink      ports.TelemetrySink

	defaultDuration time.Duration
	defaultTick     time.Duration
	accessTTL       time.Duration

	// bounded worker slots for outbound telemetry pushes; a slow tracking
	// service must not stall the tick loops
	pushSlots chan struct{}

	mu      sync.Mutex
	flights map[string]*activeFlight

	wg sync.WaitGroup
}

type activeFlight struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor constructs a flight supervisor.
func NewSupervisor(
	logger *logger.Logger,
	authority *auth.Authority,
	sink ports.TelemetrySink,
	defaultDuration, defaultTick, accessTTL time.Duration,
	maxConcurrentPushes int,
) *Supervisor {
	if maxConcurrentPushes < 1 {
		maxConcurrentPushes = 1
	}
	return &Supervisor{
		logger:          logger,
		authority:       authority,
		sink:            sink,
		defaultDuration: defaultDuration,
		defaultTick:     defaultTick,
		accessTTL:       accessTTL,
		pushSlots:       make(chan struct{}, maxConcurrentPushes),
		flights:         make(map[string]*activeFlight),
	}
}

var _ ports.SimulatorService = (*Supervisor)(nil)

// StartFlight launches a flight for the delivery. An active flight for the
// same delivery is cancelled and drained first, so restarts never leave
// two generators emitting for one delivery.
func (s *Supervisor) StartFlight(ctx context.Context, in ports.StartFlightInput) error {
	if strings.TrimSpace(in.DeliveryID) == "" {
		return delivery.ErrEmptyDeliveryID
	}
	if in.Duration <= 0 {
		in.Duration = s.defaultDuration
	}
	if in.Tick <= 0 {
		in.Tick = s.defaultTick
	}

	s.mu.Lock()
	for {
		prior, ok := s.flights[in.DeliveryID]
		if !ok {
			break
		}
		prior.cancel()
		s.mu.Unlock()
		// wait outside the lock so a slow tick cannot deadlock the registry
		<-prior.done
		s.mu.Lock()
		// a concurrent restart may have registered a replacement while we
		// were waiting; drain whatever occupies the slot before claiming it
	}

	// flight lifetime is detached from the HTTP request that started it;
	// only an explicit cancel (restart or shutdown) ends it early
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	fl := &activeFlight{cancel: cancel, done: make(chan struct{})}
	s.flights[in.DeliveryID] = fl
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx, in, fl)

	s.logger.Info(ctx, "flight_started", "Flight simulation started", map[string]any{
		"delivery_id":  in.DeliveryID,
		"duration_sec": in.Duration.Seconds(),
		"tick_sec":     in.Tick.Seconds(),
	})

	return nil
}

// ActiveFlights returns the number of currently running simulations.
func (s *Supervisor) ActiveFlights() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.flights)
}

// Shutdown cancels every active flight and waits for their loops to exit.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	for _, fl := range s.flights {
		fl.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// run is the tick loop for one flight. Cancellation is a normal
// termination path, observed at the top of each iteration.
func (s *Supervisor) run(ctx context.Context, in ports.StartFlightInput, fl *activeFlight) {
	defer s.wg.Done()
	defer close(fl.done)
	defer func() {
		s.mu.Lock()
		if cur, ok := s.flights[in.DeliveryID]; ok && cur == fl {
			delete(s.flights, in.DeliveryID)
		}
		s.mu.Unlock()
	}()

	ctx = s.logger.WithDeliveryID(ctx, in.DeliveryID)
	start := time.Now()

	ticker := time.NewTicker(in.Tick)
	defer ticker.Stop()

	for {
		sample := PositionAt(in, time.Since(start))

		// hand the sample off so a slow tracking peer never delays the
		// tick cadence; pushSlots bounds how many are in flight at once
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.push(ctx, in.DeliveryID, sample)
		}()

		// the DELIVERED sample is the last one generated
		if sample.Delivered() {
			s.logger.Info(ctx, "flight_completed", "Flight reached destination", map[string]any{
				"delivery_id": in.DeliveryID,
			})
			return
		}

		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "flight_cancelled", "Flight simulation cancelled", map[string]any{
				"delivery_id": in.DeliveryID,
			})
			return
		case <-ticker.C:
		}
	}
}

// push authenticates as the drone device and delivers one telemetry
// record through a bounded worker slot. Failures are logged and dropped;
// the generator keeps ticking regardless.
func (s *Supervisor) push(ctx context.Context, deliveryID string, sample Sample) {
	token, _, err := s.authority.IssueAccess(
		deliveryID,
		identity.RoleDroneDevice,
		[]identity.Scope{identity.ScopeTelemetryWrite},
		s.accessTTL,
	)
	if err != nil {
		s.logger.Error(ctx, "telemetry_token_failed", "Failed to issue telemetry token", err, map[string]any{
			"delivery_id": deliveryID,
		})
		return
	}

	msg := contracts.TelemetryStateMessage{
		EventID:    uuid.NewString(),
		DeliveryID: deliveryID,
		Lat:        sample.Latitude,
		Lng:        sample.Longitude,
		Progress:   sample.Progress,
		Status:     sample.Status.String(),
		Timestamp:  time.Now().UTC(),
		Envelope: contracts.Envelope{
			Producer: "simulator-service",
			SentAt:   time.Now().UTC(),
		},
	}

	select {
	case s.pushSlots <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.pushSlots }()

	pushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.sink.PushTelemetry(pushCtx, msg, token); err != nil {
		s.logger.Error(ctx, "telemetry_push_failed", "Failed to push telemetry, continuing", err, map[string]any{
			"delivery_id": deliveryID,
			"progress":    sample.Progress,
		})
	}
}
