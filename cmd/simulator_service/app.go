package simulatorservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"drone-delivery/internal/clients"
	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/config"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/simulator"
)

// Run wires the simulator service and blocks until ctx is cancelled.
// The simulator holds no database connection; every flight lives in
// memory and dies with the process.
func Run(ctx context.Context, maxConcurrent, maxPushes int) error {
	// set up a new logger and context with a static request ID for startup logs
	logger := logger.New("simulator-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// the simulator issues device tokens per telemetry push and verifies
	// operator tokens on /start, so it needs both key halves
	authority, err := auth.LoadAuthority(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath,
		cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Error(ctx, "auth_init_failed", "Failed to load signing keys", err, nil)
		return err
	}

	// typed client for the tracking ingestion endpoint
	trackingClient := clients.NewTrackingClient(cfg.Services.TrackingURL)

	// set up the flight supervisor
	supervisor := simulator.NewSupervisor(logger, authority, trackingClient,
		cfg.FlightDuration(), cfg.TickInterval(), cfg.AccessTTL(), maxPushes)
	defer supervisor.Shutdown()

	// HTTP surface
	mux := http.NewServeMux()
	httpHandler := simulator.NewHTTPHandler(supervisor, logger, authority)
	httpHandler.RegisterRoutes(mux)

	// concurrency limiter (global), blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.SimulatorServicePort),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Simulator Service started on port %d", cfg.Services.SimulatorServicePort),
		map[string]any{"port": cfg.Services.SimulatorServicePort, "max_concurrent": maxConcurrent},
	)

	// serve in the background and wait on the root context
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		// drain in-flight requests before exiting
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info(ctx, "shutdown_started", "Starting graceful shutdown", nil)
		if err := srv.Shutdown(shCtx); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_shutdown_failed", "Failed to gracefully shut down HTTP server", err, nil)
		}
	case err := <-errCh:
		// listen failure or fatal serve error
		if err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http_server_error", "HTTP server terminated with error", err,
				map[string]any{"port": cfg.Services.SimulatorServicePort})
			return err
		}
		return nil
	}

	return nil
}

// withConcurrencyLimit caps in-flight requests with a buffered-channel
// semaphore.
func withConcurrencyLimit(n int, next http.Handler) http.Handler {
	if n <= 0 {
		return next
	}
	sem := make(chan struct{}, n)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case sem <- struct{}{}: // acquire
			defer func() { <-sem }() // release
			next.ServeHTTP(w, r)
		case <-r.Context().Done():
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
