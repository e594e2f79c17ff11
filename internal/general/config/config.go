package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Name     string // the "database" key inside the database section
	}
	RabbitMQ struct {
		Host     string
		Port     int
		User     string
		Password string
	}
	Auth struct {
		PrivateKeyPath    string
		PublicKeyPath     string
		Issuer            string
		Audience          string
		AccessTTLSeconds  int
		RefreshTTLSeconds int
	}
	Services struct {
		OrderServicePort     int
		SimulatorServicePort int
		TrackingServicePort  int
		SimulatorURL         string
		TrackingURL          string
	}
	Simulator struct {
		FlightDurationSeconds int
		TickIntervalSeconds   int
	}
	Geocoding struct {
		BaseURL         string
		CacheTTLSeconds int
	}
}

// LoadFromFile reads the YAML config, fills defaults for anything the
// file leaves out, and rejects configs that cannot run.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// AccessTTL returns the configured access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Auth.AccessTTLSeconds) * time.Second
}

// RefreshTTL returns the configured refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTTLSeconds) * time.Second
}

// FlightDuration returns the default simulated flight duration.
func (c *Config) FlightDuration() time.Duration {
	return time.Duration(c.Simulator.FlightDurationSeconds) * time.Second
}

// TickInterval returns the telemetry emission interval.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Simulator.TickIntervalSeconds) * time.Second
}

// GeocodeCacheTTL returns how long geocoding responses stay cached.
func (c *Config) GeocodeCacheTTL() time.Duration {
	return time.Duration(c.Geocoding.CacheTTLSeconds) * time.Second
}

// applyDefaults fills every optional field so the rest of the code never
// checks for zero values.
func applyDefaults(cfg *Config) {
	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	// Auth
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "droneapp"
	}
	if cfg.Auth.Audience == "" {
		cfg.Auth.Audience = "droneapp-clients"
	}
	if cfg.Auth.AccessTTLSeconds == 0 {
		cfg.Auth.AccessTTLSeconds = 900 // 15 minutes
	}
	if cfg.Auth.RefreshTTLSeconds == 0 {
		cfg.Auth.RefreshTTLSeconds = 2592000 // 30 days
	}

	// Services
	if cfg.Services.OrderServicePort == 0 {
		cfg.Services.OrderServicePort = 8000
	}
	if cfg.Services.SimulatorServicePort == 0 {
		cfg.Services.SimulatorServicePort = 8001
	}
	if cfg.Services.TrackingServicePort == 0 {
		cfg.Services.TrackingServicePort = 8002
	}
	if cfg.Services.SimulatorURL == "" {
		cfg.Services.SimulatorURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Services.SimulatorServicePort)
	}
	if cfg.Services.TrackingURL == "" {
		cfg.Services.TrackingURL = fmt.Sprintf("http://127.0.0.1:%d", cfg.Services.TrackingServicePort)
	}

	// Simulator
	if cfg.Simulator.FlightDurationSeconds == 0 {
		cfg.Simulator.FlightDurationSeconds = 300
	}
	if cfg.Simulator.TickIntervalSeconds == 0 {
		cfg.Simulator.TickIntervalSeconds = 5
	}

	// Geocoding
	if cfg.Geocoding.BaseURL == "" {
		cfg.Geocoding.BaseURL = "https://nominatim.openstreetmap.org"
	}
	if cfg.Geocoding.CacheTTLSeconds == 0 {
		cfg.Geocoding.CacheTTLSeconds = 300
	}
}

// validate collects every problem instead of stopping at the first, so a
// broken deployment surfaces all its config errors in one run.
func (c *Config) validate() error {
	var problems []string

	// DB
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		problems = append(problems, "database.port must be in 1..65535")
	}
	if c.Database.User == "" {
		problems = append(problems, "database.user is required")
	}
	if c.Database.Password == "" {
		problems = append(problems, "database.password is required")
	}
	if c.Database.Name == "" {
		problems = append(problems, "database.name is required")
	}

	// RabbitMQ
	if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
		problems = append(problems, "rabbitmq.port must be in 1..65535")
	}
	if c.RabbitMQ.User == "" {
		problems = append(problems, "rabbitmq.user is required")
	}
	if c.RabbitMQ.Password == "" {
		problems = append(problems, "rabbitmq.password is required")
	}

	// Auth
	if c.Auth.PrivateKeyPath == "" && c.Auth.PublicKeyPath == "" {
		problems = append(problems, "auth.private_key_path or auth.public_key_path is required")
	}
	if c.Auth.AccessTTLSeconds < 0 {
		problems = append(problems, "auth.access_ttl_seconds cannot be negative")
	}
	if c.Auth.RefreshTTLSeconds < 0 {
		problems = append(problems, "auth.refresh_ttl_seconds cannot be negative")
	}

	// Services
	for _, p := range []struct {
		name string
		port int
	}{
		{"services.order_service", c.Services.OrderServicePort},
		{"services.simulator_service", c.Services.SimulatorServicePort},
		{"services.tracking_service", c.Services.TrackingServicePort},
	} {
		if p.port <= 0 || p.port > 65535 {
			problems = append(problems, p.name+" must be in 1..65535")
		}
	}

	// Simulator
	if c.Simulator.FlightDurationSeconds < 0 {
		problems = append(problems, "simulator.flight_duration_seconds cannot be negative")
	}
	if c.Simulator.TickIntervalSeconds <= 0 {
		problems = append(problems, "simulator.tick_interval_seconds must be > 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}
