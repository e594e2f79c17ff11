package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const fullConfig = `
database:
  host: "db.internal"
  port: 5433
  user: "drone"
  password: 'secret'
  database: dronedb

rabbitmq:
  host: mq.internal
  port: 5673
  user: drone
  password: secret

auth:
  private_key_path: keys/jwt_private.pem
  public_key_path: keys/jwt_public.pem
  issuer: droneapp
  audience: droneapp-clients
  access_ttl_seconds: 600
  refresh_ttl_seconds: 86400

services:
  order_service: 9000
  simulator_service: 9001
  tracking_service: 9002
  simulator_url: http://sim.internal:9001
  tracking_url: http://track.internal:9002

simulator:
  flight_duration_seconds: 120
  tick_interval_seconds: 2

geocoding:
  base_url: https://nominatim.internal
  cache_ttl_seconds: 60
`

func TestLoadFromFileFull(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromFile(writeConfig(t, fullConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Host != "db.internal" || cfg.Database.Port != 5433 {
		t.Errorf("database = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.Password != "secret" {
		t.Errorf("single-quoted password = %q", cfg.Database.Password)
	}
	if cfg.Database.Name != "dronedb" {
		t.Errorf("database name = %q", cfg.Database.Name)
	}
	if cfg.RabbitMQ.Host != "mq.internal" || cfg.RabbitMQ.Port != 5673 {
		t.Errorf("rabbitmq = %s:%d", cfg.RabbitMQ.Host, cfg.RabbitMQ.Port)
	}
	if cfg.AccessTTL() != 10*time.Minute {
		t.Errorf("access ttl = %s", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 24*time.Hour {
		t.Errorf("refresh ttl = %s", cfg.RefreshTTL())
	}
	if cfg.Services.OrderServicePort != 9000 || cfg.Services.SimulatorURL != "http://sim.internal:9001" {
		t.Errorf("services = %+v", cfg.Services)
	}
	if cfg.FlightDuration() != 2*time.Minute || cfg.TickInterval() != 2*time.Second {
		t.Errorf("simulator = %s / %s", cfg.FlightDuration(), cfg.TickInterval())
	}
	if cfg.Geocoding.BaseURL != "https://nominatim.internal" || cfg.GeocodeCacheTTL() != time.Minute {
		t.Errorf("geocoding = %+v", cfg.Geocoding)
	}
}

func TestLoadFromFileAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromFile(writeConfig(t, `
database:
  user: drone
  password: secret
  database: dronedb

rabbitmq:
  user: drone
  password: secret

auth:
  private_key_path: keys/jwt_private.pem
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Database.Host != "localhost" || cfg.Database.Port != 5432 {
		t.Errorf("database defaults = %s:%d", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.RabbitMQ.Port != 5672 {
		t.Errorf("rabbitmq default port = %d", cfg.RabbitMQ.Port)
	}
	if cfg.Auth.Issuer != "droneapp" || cfg.Auth.Audience != "droneapp-clients" {
		t.Errorf("auth defaults = %s / %s", cfg.Auth.Issuer, cfg.Auth.Audience)
	}
	if cfg.AccessTTL() != 900*time.Second || cfg.RefreshTTL() != 2592000*time.Second {
		t.Errorf("ttl defaults = %s / %s", cfg.AccessTTL(), cfg.RefreshTTL())
	}
	if cfg.Services.OrderServicePort != 8000 || cfg.Services.TrackingServicePort != 8002 {
		t.Errorf("port defaults = %+v", cfg.Services)
	}
	if cfg.Services.SimulatorURL != "http://127.0.0.1:8001" {
		t.Errorf("simulator url default = %q", cfg.Services.SimulatorURL)
	}
	if cfg.FlightDuration() != 300*time.Second || cfg.TickInterval() != 5*time.Second {
		t.Errorf("simulator defaults = %s / %s", cfg.FlightDuration(), cfg.TickInterval())
	}
	if cfg.Geocoding.BaseURL != "https://nominatim.openstreetmap.org" || cfg.GeocodeCacheTTL() != 300*time.Second {
		t.Errorf("geocoding defaults = %+v", cfg.Geocoding)
	}
}

func TestLoadFromFileValidation(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing credentials",
			body: "database:\n  host: localhost\n",
			want: "database.user is required",
		},
		{
			name: "missing key paths",
			body: "database:\n  user: u\n  password: p\n  database: d\nrabbitmq:\n  user: u\n  password: p\n",
			want: "auth.private_key_path or auth.public_key_path is required",
		},
		{
			name: "port out of range",
			body: "database:\n  user: u\n  password: p\n  database: d\n  port: 70000\nrabbitmq:\n  user: u\n  password: p\nauth:\n  public_key_path: k\n",
			want: "database.port must be in 1..65535",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromFile(writeConfig(t, tc.body))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseYAMLRejectsMalformedInput(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
	}{
		{"unknown section", "wat:\n  key: v\n"},
		{"unknown key", "database:\n  hostname: x\n"},
		{"duplicate section", "database:\n  user: u\ndatabase:\n  user: u\n"},
		{"key without section", "  user: u\n"},
		{"non-integer port", "database:\n  port: abc\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var cfg Config
			if err := parseYAML(strings.NewReader(tc.body), &cfg); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestResolveScalar(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		`"localhost"`:   "localhost",
		`'password123'`: "password123",
		`plain`:         "plain",
		`  padded  `:    "padded",
		`""`:            "",
	}
	for in, want := range cases {
		if got := resolveScalar(in); got != want {
			t.Errorf("resolveScalar(%q) = %q, want %q", in, got, want)
		}
	}
}
