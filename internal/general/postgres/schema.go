package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements create the tables each service expects. Statements are
// idempotent so every service can run them at startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS deliveries (
		delivery_id        TEXT PRIMARY KEY,
		store_id           TEXT NOT NULL,
		start_lat          DOUBLE PRECISION NOT NULL,
		start_lng          DOUBLE PRECISION NOT NULL,
		end_lat            DOUBLE PRECISION NOT NULL,
		end_lng            DOUBLE PRECISION NOT NULL,
		status             TEXT NOT NULL,
		simulation_started BOOLEAN NOT NULL DEFAULT FALSE,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_events (
		event_id    TEXT PRIMARY KEY,
		delivery_id TEXT NOT NULL,
		lat         DOUBLE PRECISION NOT NULL,
		lng         DOUBLE PRECISION NOT NULL,
		progress    DOUBLE PRECISION NOT NULL,
		status      TEXT NOT NULL,
		ts          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_delivery_id ON telemetry_events (delivery_id)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_ts ON telemetry_events (ts)`,
	`CREATE TABLE IF NOT EXISTS delivery_state (
		delivery_id TEXT PRIMARY KEY,
		lat         DOUBLE PRECISION NOT NULL,
		lng         DOUBLE PRECISION NOT NULL,
		progress    DOUBLE PRECISION NOT NULL,
		status      TEXT NOT NULL,
		ts          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		jti         TEXT PRIMARY KEY,
		delivery_id TEXT NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		revoked     BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE TABLE IF NOT EXISTS stores (
		id        TEXT PRIMARY KEY,
		name      TEXT NOT NULL,
		address   TEXT NOT NULL,
		latitude  DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id           TEXT PRIMARY KEY,
		store_id     TEXT NOT NULL REFERENCES stores (id),
		title        TEXT NOT NULL,
		price        DOUBLE PRECISION NOT NULL,
		weight_grams DOUBLE PRECISION NOT NULL,
		image_url    TEXT NOT NULL
	)`,
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
