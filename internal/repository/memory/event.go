package memory

import (
	"context"
	"maps"
	"sync"

	"rideflow/internal/domain"
	"rideflow/internal/repository"
)

// RideEventRepository is an in-memory implementation of repository.RideEventRepository.
type RideEventRepository struct {
	mu     sync.RWMutex
	events map[string][]*domain.RideEventRecord
}

// NewRideEventRepository creates a new in-memory ride event repository.
func NewRideEventRepository() *RideEventRepository {
	return &RideEventRepository{events: make(map[string][]*domain.RideEventRecord)}
}

// Append adds a record to the ride's trail.
func (r *RideEventRepository) Append(ctx context.Context, record *domain.RideEventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := *record
	rec.Payload = maps.Clone(record.Payload)
	r.events[record.RideID] = append(r.events[record.RideID], &rec)
	return nil
}

// ListByRideID returns the ride's records in append order.
func (r *RideEventRepository) ListByRideID(ctx context.Context, rideID string) ([]*domain.RideEventRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := r.events[rideID]
	out := make([]*domain.RideEventRecord, len(stored))
	for i, rec := range stored {
		c := *rec
		c.Payload = maps.Clone(rec.Payload)
		out[i] = &c
	}
	return out, nil
}

// Ensure RideEventRepository implements repository.RideEventRepository.
var _ repository.RideEventRepository = (*RideEventRepository)(nil)
