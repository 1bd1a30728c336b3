package repository

import (
	"context"

	"rideflow/internal/domain"
)

// RideRepository defines the persistence operations for rides.
type RideRepository interface {
	// Create persists a new ride.
	Create(ctx context.Context, ride *domain.Ride) error

	// GetByID retrieves a ride by ID.
	GetByID(ctx context.Context, id string) (*domain.Ride, error)

	// GetActiveByRiderID retrieves the rider's non-terminal ride.
	// Returns nil if the rider has none.
	GetActiveByRiderID(ctx context.Context, riderID string) (*domain.Ride, error)

	// GetAll retrieves the most recent rides.
	GetAll(ctx context.Context) ([]*domain.Ride, error)

	// Update stores the ride if its stored version equals ride.Version,
	// then increments ride.Version. Returns ErrConflict on a version mismatch.
	Update(ctx context.Context, ride *domain.Ride) error
}

// RideEventRepository stores the audit trail of applied transitions.
type RideEventRepository interface {
	// Append adds a record to the ride's trail.
	Append(ctx context.Context, record *domain.RideEventRecord) error

	// ListByRideID returns the ride's records in the order they were appended.
	ListByRideID(ctx context.Context, rideID string) ([]*domain.RideEventRecord, error)
}
