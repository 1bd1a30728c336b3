package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const driverLocationKey = "drivers:locations"

// DriverLocation represents a driver's position.
type DriverLocation struct {
	DriverID string
	Lat      float64
	Lng      float64
}

// LocationStore mirrors driver locations into a Redis GEO set so a restarted
// instance can rebuild its registry.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// UpdateLocation stores a driver's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, driverID string, lat, lng float64) error {
	return s.client.GeoAdd(ctx, driverLocationKey, &redis.GeoLocation{
		Name:      driverID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// RemoveLocation removes a driver's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, driverID string) error {
	return s.client.ZRem(ctx, driverLocationKey, driverID).Err()
}

// Positions returns every mirrored location.
func (s *LocationStore) Positions(ctx context.Context) ([]DriverLocation, error) {
	ids, err := s.client.ZRange(ctx, driverLocationKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	positions, err := s.client.GeoPos(ctx, driverLocationKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]DriverLocation, 0, len(ids))
	for i, pos := range positions {
		if pos == nil {
			continue
		}
		locations = append(locations, DriverLocation{
			DriverID: ids[i],
			Lat:      pos.Latitude,
			Lng:      pos.Longitude,
		})
	}
	return locations, nil
}
