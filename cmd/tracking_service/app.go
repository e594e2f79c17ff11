package trackingservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"drone-delivery/internal/general/auth"
	"drone-delivery/internal/general/config"
	"drone-delivery/internal/general/logger"
	"drone-delivery/internal/general/postgres"
	"drone-delivery/internal/general/rabbitmq"
	"drone-delivery/internal/tracking"
)

// Run wires the tracking service and blocks until ctx is cancelled.
func Run(ctx context.Context, maxConcurrent int) error {
	// set up a new logger and context with a static request ID for startup logs
	logger := logger.New("tracking-service")
	ctx = logger.WithRequestID(ctx, "startup-001")

	cfg, err := config.LoadFromFile("config/config.yaml")
	if err != nil {
		logger.Error(ctx, "config_load_failed", "Failed to load configuration", err, nil)
		return err
	}

	// storage
	pool, err := postgres.NewPool(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "db_connection_failed", "Failed to initialize Postgres pool", err, nil)
		return err
	}
	defer pool.Close()

	// apply the idempotent schema so either service can start first
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Error(ctx, "schema_apply_failed", "Failed to apply database schema", err, nil)
		return err
	}

	// broker; the fanout topology is declared during connect
	rmq, err := rabbitmq.ConnectRabbitMQ(ctx, cfg, logger)
	if err != nil {
		logger.Error(ctx, "rabbitmq_connection_failed", "Failed to connect to RabbitMQ", err, nil)
		return err
	}
	defer rmq.Close()

	pub := rabbitmq.NewMQPublisher(rmq)

	// the tracking service only verifies tokens; the public key is enough
	authority, err := auth.LoadAuthority("", cfg.Auth.PublicKeyPath,
		cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Error(ctx, "auth_init_failed", "Failed to load verification key", err, nil)
		return err
	}

	// repositories run inside the unit of work; none holds the pool
	uow := postgres.NewUnitOfWork(pool)
	telemetryRepo := postgres.NewTelemetryRepo()

	// set up the tracking service and the observer hub
	svc := tracking.NewService(logger, uow, telemetryRepo, tracking.NewFanoutPublisher(pub))
	hub := tracking.NewHub(logger)

	// run the background consumer that feeds accepted states to observers
	broadcaster := tracking.NewBroadcaster(logger, rmq, hub)
	broadcaster.RunBackgroundConsumers(ctx)

	// HTTP surface
	mux := http.NewServeMux()
	httpHandler := tracking.NewHTTPHandler(svc, logger, authority, hub)
	httpHandler.RegisterRoutes(mux)

	// concurrency limiter (global), blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.TrackingServicePort),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Tracking Service started on port %d", cfg.Services.TrackingServicePort),
		map[string]any{"port": cfg.Services.TrackingServicePort, "max_concurrent": maxConcurrent},
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
				map[string]any{"port": cfg.Services.TrackingServicePort})
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
