package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"rideflow/internal/domain"
)

// RideEventRepository is a PostgreSQL implementation of repository.RideEventRepository.
type RideEventRepository struct {
	q Querier
}

// NewRideEventRepository creates a new PostgreSQL ride event repository.
func NewRideEventRepository(db *sql.DB) *RideEventRepository {
	return &RideEventRepository{q: db}
}

// NewRideEventRepositoryWithTx creates a ride event repository using a transaction.
func NewRideEventRepositoryWithTx(tx *sql.Tx) *RideEventRepository {
	return &RideEventRepository{q: tx}
}

// Append adds a record to the ride's trail.
func (r *RideEventRepository) Append(ctx context.Context, record *domain.RideEventRecord) error {
	query := `
		INSERT INTO ride_events (id, ride_id, type, from_status, to_status, actor, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var payload []byte
	if len(record.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(record.Payload); err != nil {
			return fmt.Errorf("failed to encode event payload: %w", err)
		}
	}

	_, err := r.q.ExecContext(ctx, query,
		record.ID,
		record.RideID,
		record.Type,
		record.FromStatus,
		record.ToStatus,
		record.Actor,
		payload,
		record.OccurredAt,
	)
	return mapWriteError(err)
}

// ListByRideID returns the ride's records in the order they were appended.
func (r *RideEventRepository) ListByRideID(ctx context.Context, rideID string) ([]*domain.RideEventRecord, error) {
	query := `
		SELECT id, ride_id, type, from_status, to_status, actor, payload, occurred_at
		FROM ride_events WHERE ride_id = $1 ORDER BY seq
	`

	rows, err := r.q.QueryContext(ctx, query, rideID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.RideEventRecord
	for rows.Next() {
		var (
			record  domain.RideEventRecord
			payload []byte
		)
		if err := rows.Scan(
			&record.ID,
			&record.RideID,
			&record.Type,
			&record.FromStatus,
			&record.ToStatus,
			&record.Actor,
			&payload,
			&record.OccurredAt,
		); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &record.Payload); err != nil {
				return nil, fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		record.OccurredAt = record.OccurredAt.UTC()
		records = append(records, &record)
	}
	return records, rows.Err()
}
