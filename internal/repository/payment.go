package repository

import (
	"context"

	"rideflow/internal/domain"
)

// PaymentRepository defines the persistence operations for payments.
type PaymentRepository interface {
	// Create persists a new payment. Returns ErrConflict if the ride
	// already has a payment.
	Create(ctx context.Context, payment *domain.PaymentRecord) error

	// GetByID retrieves a payment by ID.
	GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error)

	// GetByRideID retrieves the payment of a ride.
	// Returns nil if the ride has no payment.
	GetByRideID(ctx context.Context, rideID string) (*domain.PaymentRecord, error)

	// UpdateStatus updates the status and failure reason of a payment.
	UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, reason string) error
}
