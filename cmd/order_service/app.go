package orderservice

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
	"drone-delivery/internal/general/postgres"
	"drone-delivery/internal/order"
)

// Run wires the order service and blocks until ctx is cancelled.
func Run(ctx context.Context, maxConcurrent int) error {
	// set up a new logger and context with a static request ID for startup logs
	logger := logger.New("order-service")
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

	// apply the idempotent schema and seed the demo catalog on first run
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		logger.Error(ctx, "schema_apply_failed", "Failed to apply database schema", err, nil)
		return err
	}

	// the order service both issues and verifies, so it needs the private key
	authority, err := auth.LoadAuthority(cfg.Auth.PrivateKeyPath, cfg.Auth.PublicKeyPath,
		cfg.Auth.Issuer, cfg.Auth.Audience)
	if err != nil {
		logger.Error(ctx, "auth_init_failed", "Failed to load signing keys", err, nil)
		return err
	}

	// repositories run inside the unit of work; none holds the pool
	uow := postgres.NewUnitOfWork(pool)
	deliveryRepo := postgres.NewDeliveryRepo()
	refreshTokenRepo := postgres.NewRefreshTokenRepo()
	storeRepo := postgres.NewStoreRepo()

	if err := uow.WithinTx(ctx, func(txCtx context.Context) error {
		return storeRepo.SeedIfEmpty(txCtx)
	}); err != nil {
		logger.Error(ctx, "catalog_seed_failed", "Failed to seed store catalog", err, nil)
		return err
	}

	// typed clients for the peer services
	simulatorClient := clients.NewSimulatorClient(cfg.Services.SimulatorURL)
	geocoder := order.NewGeocodeProxy(cfg.Geocoding.BaseURL, cfg.GeocodeCacheTTL())

	// set up the order service
	svc := order.NewService(logger, uow, deliveryRepo, refreshTokenRepo, authority,
		simulatorClient, cfg.AccessTTL(), cfg.RefreshTTL())

	// HTTP surface
	mux := http.NewServeMux()
	httpHandler := order.NewHTTPHandler(svc, storeRepo, geocoder, uow, logger)
	httpHandler.RegisterRoutes(mux)

	// concurrency limiter (global), blocks when capacity is full
	limitedHandler := withConcurrencyLimit(maxConcurrent, mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Services.OrderServicePort),
		Handler:           limitedHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.Info(ctx, "service_started",
		fmt.Sprintf("Order Service started on port %d", cfg.Services.OrderServicePort),
		map[string]any{"port": cfg.Services.OrderServicePort, "max_concurrent": maxConcurrent},
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
				map[string]any{"port": cfg.Services.OrderServicePort})
			return err
		}
		return nil
	}

	return nil
}

// withConcurrencyLimit caps in-flight requests with a buffered-channel
// semaphore; requests beyond the cap queue until a slot frees or the
// client gives up.
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
			// canceled request or shutdown in progress
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		}
	})
}
