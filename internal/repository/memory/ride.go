// Package memory provides in-process repositories used when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"rideflow/internal/domain"
	"rideflow/internal/repository"
)

const listLimit = 100

// RideRepository is an in-memory implementation of repository.RideRepository.
type RideRepository struct {
	mu    sync.RWMutex
	rides map[string]*domain.Ride
}

// NewRideRepository creates a new in-memory ride repository.
func NewRideRepository() *RideRepository {
	return &RideRepository{rides: make(map[string]*domain.Ride)}
}

// Create persists a new ride.
func (r *RideRepository) Create(ctx context.Context, ride *domain.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rides[ride.ID]; ok {
		return repository.ErrConflict
	}
	r.rides[ride.ID] = ride.Clone()
	return nil
}

// GetByID retrieves a ride by ID.
func (r *RideRepository) GetByID(ctx context.Context, id string) (*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ride, ok := r.rides[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ride.Clone(), nil
}

// GetActiveByRiderID retrieves the rider's non-terminal ride, or nil.
func (r *RideRepository) GetActiveByRiderID(ctx context.Context, riderID string) (*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, ride := range r.rides {
		if ride.RiderID == riderID && ride.Status.IsActive() {
			return ride.Clone(), nil
		}
	}
	return nil, nil
}

// GetAll retrieves the most recent rides, newest first.
func (r *RideRepository) GetAll(ctx context.Context) ([]*domain.Ride, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rides := make([]*domain.Ride, 0, len(r.rides))
	for _, ride := range r.rides {
		rides = append(rides, ride.Clone())
	}
	sort.Slice(rides, func(i, j int) bool {
		return rides[i].CreatedAt.After(rides[j].CreatedAt)
	})
	if len(rides) > listLimit {
		rides = rides[:listLimit]
	}
	return rides, nil
}

// Update stores the ride when the stored version matches.
func (r *RideRepository) Update(ctx context.Context, ride *domain.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rides[ride.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != ride.Version {
		return repository.ErrConflict
	}
	ride.Version++
	r.rides[ride.ID] = ride.Clone()
	return nil
}

// Ensure RideRepository implements repository.RideRepository.
var _ repository.RideRepository = (*RideRepository)(nil)
