package memory

import (
	"context"
	"sync"
	"time"

	"rideflow/internal/domain"
	"rideflow/internal/repository"
)

// PaymentRepository is an in-memory implementation of repository.PaymentRepository.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.PaymentRecord
	byRide   map[string]string
}

// NewPaymentRepository creates a new in-memory payment repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*domain.PaymentRecord),
		byRide:   make(map[string]string),
	}
}

// Create persists a new payment, enforcing one payment per ride.
func (r *PaymentRepository) Create(ctx context.Context, payment *domain.PaymentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byRide[payment.RideID]; ok {
		return repository.ErrConflict
	}
	if _, ok := r.payments[payment.ID]; ok {
		return repository.ErrConflict
	}
	r.payments[payment.ID] = payment.Clone()
	r.byRide[payment.RideID] = payment.ID
	return nil
}

// GetByID retrieves a payment by ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return p.Clone(), nil
}

// GetByRideID retrieves the payment of a ride, or nil.
func (r *PaymentRepository) GetByRideID(ctx context.Context, rideID string) (*domain.PaymentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byRide[rideID]
	if !ok {
		return nil, nil
	}
	return r.payments[id].Clone(), nil
}

// UpdateStatus updates the status of a payment.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status domain.PaymentStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.payments[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	p.FailureReason = reason
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Ensure PaymentRepository implements repository.PaymentRepository.
var _ repository.PaymentRepository = (*PaymentRepository)(nil)
