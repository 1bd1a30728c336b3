package postgres

import (
	"context"
	"fmt"
)

// schema creates the tables the repositories read and write. Every
// statement is idempotent so Migrate can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS drivers (
		id      TEXT PRIMARY KEY,
		name    TEXT NOT NULL DEFAULT '',
		phone   TEXT NOT NULL DEFAULT '',
		vehicle TEXT NOT NULL DEFAULT '',
		rating  DOUBLE PRECISION NOT NULL DEFAULT 0,
		status  TEXT NOT NULL DEFAULT 'OFFLINE'
	)`,
	`CREATE TABLE IF NOT EXISTS rides (
		id              TEXT PRIMARY KEY,
		rider_id        TEXT NOT NULL,
		driver_id       TEXT,
		status          TEXT NOT NULL,
		pickup_lat      DOUBLE PRECISION NOT NULL,
		pickup_lng      DOUBLE PRECISION NOT NULL,
		pickup_address  TEXT NOT NULL DEFAULT '',
		dropoff_lat     DOUBLE PRECISION NOT NULL,
		dropoff_lng     DOUBLE PRECISION NOT NULL,
		dropoff_address TEXT NOT NULL DEFAULT '',
		ride_class      TEXT NOT NULL,
		payment_method  TEXT NOT NULL,
		currency        TEXT NOT NULL,
		estimated_fare  BIGINT NOT NULL,
		actual_fare     BIGINT,
		created_at      TIMESTAMPTZ NOT NULL,
		accepted_at     TIMESTAMPTZ,
		arrived_at      TIMESTAMPTZ,
		started_at      TIMESTAMPTZ,
		completed_at    TIMESTAMPTZ,
		cancelled_at    TIMESTAMPTZ,
		cancel_reason   TEXT,
		cancelled_by    TEXT,
		version         INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS rides_one_active_per_rider
		ON rides (rider_id) WHERE status NOT IN ('COMPLETED', 'CANCELLED')`,
	`CREATE TABLE IF NOT EXISTS ride_events (
		seq         BIGSERIAL PRIMARY KEY,
		id          TEXT NOT NULL UNIQUE,
		ride_id     TEXT NOT NULL REFERENCES rides (id),
		type        TEXT NOT NULL,
		from_status TEXT NOT NULL DEFAULT '',
		to_status   TEXT NOT NULL,
		actor       TEXT NOT NULL DEFAULT '',
		payload     JSONB,
		occurred_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ride_events_ride_id ON ride_events (ride_id, seq)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id              TEXT PRIMARY KEY,
		ride_id         TEXT NOT NULL UNIQUE REFERENCES rides (id),
		amount          BIGINT NOT NULL CHECK (amount > 0),
		currency        TEXT NOT NULL,
		method          TEXT NOT NULL,
		status          TEXT NOT NULL,
		breakdown       JSONB,
		failure_reason  TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
}

// Migrate creates missing tables and indexes.
func Migrate(ctx context.Context, q Querier) error {
	for i, stmt := range schema {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d failed: %w", i+1, err)
		}
	}
	return nil
}
