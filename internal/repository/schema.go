package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS drivers (
		id                        TEXT PRIMARY KEY,
		online_status             TEXT NOT NULL,
		availability              TEXT NOT NULL,
		location                  JSONB,
		active_request_id         TEXT,
		total_offered             BIGINT NOT NULL DEFAULT 0,
		total_accepted            BIGINT NOT NULL DEFAULT 0,
		cumulative_online_seconds BIGINT NOT NULL DEFAULT 0,
		online_since              TIMESTAMPTZ,
		updated_at                TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS drivers_active_request_uq
		ON drivers (active_request_id) WHERE active_request_id IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS requests (
		id           TEXT PRIMARY KEY,
		customer_id  TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL,
		pickup_lat   DOUBLE PRECISION NOT NULL,
		pickup_lng   DOUBLE PRECISION NOT NULL,
		dropoff_lat  DOUBLE PRECISION NOT NULL,
		dropoff_lng  DOUBLE PRECISION NOT NULL,
		driver_id    TEXT,
		fare         BIGINT NOT NULL DEFAULT 0,
		trail        JSONB NOT NULL DEFAULT '[]',
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		assigned_at  TIMESTAMPTZ,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS requests_status_idx ON requests (status)`,
	`CREATE TABLE IF NOT EXISTS completed_trips (
		request_id   TEXT PRIMARY KEY REFERENCES requests(id),
		driver_id    TEXT NOT NULL,
		customer_id  TEXT NOT NULL DEFAULT '',
		fare         BIGINT NOT NULL DEFAULT 0,
		distance_km  DOUBLE PRECISION NOT NULL DEFAULT 0,
		completed_at TIMESTAMPTZ NOT NULL,
		rating       SMALLINT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS completed_trips_driver_idx ON completed_trips (driver_id, completed_at)`,
}

// EnsureSchema creates the dispatch tables when they are missing.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
