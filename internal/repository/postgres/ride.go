package postgres

import (
	"context"
	"database/sql"
	"errors"

	"rideflow/internal/domain"
	"rideflow/internal/repository"
)

const rideColumns = `id, rider_id, driver_id, status,
	pickup_lat, pickup_lng, pickup_address, dropoff_lat, dropoff_lng, dropoff_address,
	ride_class, payment_method, currency, estimated_fare, actual_fare,
	created_at, accepted_at, arrived_at, started_at, completed_at, cancelled_at,
	cancel_reason, cancelled_by, version`

// RideRepository is a PostgreSQL implementation of repository.RideRepository.
type RideRepository struct {
	q Querier
}

// NewRideRepository creates a new PostgreSQL ride repository.
func NewRideRepository(db *sql.DB) *RideRepository {
	return &RideRepository{q: db}
}

// NewRideRepositoryWithTx creates a ride repository using a transaction.
func NewRideRepositoryWithTx(tx *sql.Tx) *RideRepository {
	return &RideRepository{q: tx}
}

// Create persists a new ride. A second active ride for the same rider
// violates rides_one_active_per_rider and returns ErrConflict.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	query := `
		INSERT INTO rides (` + rideColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := r.q.ExecContext(ctx, query, rideArgs(ride)...)
	return mapWriteError(err)
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides WHERE id = $1`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return ride, nil
}

// GetActiveByRiderID retrieves the rider's non-terminal ride.
// Returns nil if the rider has none.
func (r *RideRepository) GetActiveByRiderID(ctx context.Context, riderID string) (*domain.Ride, error) {
	query := `
		SELECT ` + rideColumns + `
		FROM rides
		WHERE rider_id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')
		ORDER BY created_at DESC LIMIT 1
	`

	ride, err := scanRide(r.q.QueryRowContext(ctx, query, riderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ride, nil
}

// GetAll retrieves the most recent rides.
func (r *RideRepository) GetAll(ctx context.Context) ([]*domain.Ride, error) {
	query := `SELECT ` + rideColumns + ` FROM rides ORDER BY created_at DESC LIMIT 100`

	rows, err := r.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rides []*domain.Ride
	for rows.Next() {
		ride, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		rides = append(rides, ride)
	}
	return rides, rows.Err()
}

// Update stores the ride when the stored version still equals ride.Version.
func (r *RideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	query := `
		UPDATE rides
		SET driver_id = $1, status = $2, payment_method = $3, actual_fare = $4,
			accepted_at = $5, arrived_at = $6, started_at = $7, completed_at = $8, cancelled_at = $9,
			cancel_reason = $10, cancelled_by = $11, version = version + 1
		WHERE id = $12 AND version = $13
	`

	var actualFare sql.NullInt64
	if ride.ActualFare != nil {
		actualFare = sql.NullInt64{Int64: ride.ActualFare.Amount, Valid: true}
	}

	result, err := r.q.ExecContext(ctx, query,
		nullString(ride.DriverID),
		ride.Status,
		ride.PaymentMethod,
		actualFare,
		nullTime(ride.AcceptedAt),
		nullTime(ride.ArrivedAt),
		nullTime(ride.StartedAt),
		nullTime(ride.CompletedAt),
		nullTime(ride.CancelledAt),
		nullString(ride.CancelReason),
		nullString(ride.CancelledBy),
		ride.ID,
		ride.Version,
	)
	if err != nil {
		return err
	}

	if err := expectOneRow(result); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		// Zero rows: either the ride is gone or another writer moved the version.
		var exists bool
		if err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM rides WHERE id = $1)`, ride.ID).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return repository.ErrConflict
		}
		return repository.ErrNotFound
	}

	ride.Version++
	return nil
}

func rideArgs(ride *domain.Ride) []any {
	var actualFare sql.NullInt64
	if ride.ActualFare != nil {
		actualFare = sql.NullInt64{Int64: ride.ActualFare.Amount, Valid: true}
	}
	return []any{
		ride.ID,
		ride.RiderID,
		nullString(ride.DriverID),
		ride.Status,
		ride.Pickup.Lat,
		ride.Pickup.Lng,
		ride.Pickup.Address,
		ride.Dropoff.Lat,
		ride.Dropoff.Lng,
		ride.Dropoff.Address,
		ride.RideClass,
		ride.PaymentMethod,
		ride.EstimatedFare.Currency,
		ride.EstimatedFare.Amount,
		actualFare,
		ride.CreatedAt,
		nullTime(ride.AcceptedAt),
		nullTime(ride.ArrivedAt),
		nullTime(ride.StartedAt),
		nullTime(ride.CompletedAt),
		nullTime(ride.CancelledAt),
		nullString(ride.CancelReason),
		nullString(ride.CancelledBy),
		ride.Version,
	}
}

func scanRide(s scanner) (*domain.Ride, error) {
	var (
		ride                                                   domain.Ride
		driverID, cancelReason, cancelledBy                    sql.NullString
		currency                                               string
		estimated                                              int64
		actualFare                                             sql.NullInt64
		acceptedAt, arrivedAt, startedAt, completedAt, cancelAt sql.NullTime
	)

	err := s.Scan(
		&ride.ID,
		&ride.RiderID,
		&driverID,
		&ride.Status,
		&ride.Pickup.Lat,
		&ride.Pickup.Lng,
		&ride.Pickup.Address,
		&ride.Dropoff.Lat,
		&ride.Dropoff.Lng,
		&ride.Dropoff.Address,
		&ride.RideClass,
		&ride.PaymentMethod,
		&currency,
		&estimated,
		&actualFare,
		&ride.CreatedAt,
		&acceptedAt,
		&arrivedAt,
		&startedAt,
		&completedAt,
		&cancelAt,
		&cancelReason,
		&cancelledBy,
		&ride.Version,
	)
	if err != nil {
		return nil, err
	}

	ride.DriverID = driverID.String
	ride.CancelReason = cancelReason.String
	ride.CancelledBy = cancelledBy.String
	ride.EstimatedFare = domain.NewMoney(estimated, currency)
	if actualFare.Valid {
		fare := domain.NewMoney(actualFare.Int64, currency)
		ride.ActualFare = &fare
	}
	ride.CreatedAt = ride.CreatedAt.UTC()
	ride.AcceptedAt = timeOrZero(acceptedAt)
	ride.ArrivedAt = timeOrZero(arrivedAt)
	ride.StartedAt = timeOrZero(startedAt)
	ride.CompletedAt = timeOrZero(completedAt)
	ride.CancelledAt = timeOrZero(cancelAt)
	return &ride, nil
}
