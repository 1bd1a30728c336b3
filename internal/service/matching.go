package service

import (
	"math"
	"sort"
	"sync"
	"time"

	"rideflow/internal/domain"
	"rideflow/internal/geo"
)

const defaultSearchRadiusKm = 5.0

// DriverRegistry is the in-memory pool of drivers the matcher searches.
// Drivers are indexed by geohash prefix so a search only touches the cells
// around the pickup. All reads return copies.
type DriverRegistry struct {
	mu        sync.RWMutex
	precision uint
	drivers   map[string]*registeredDriver
	// cells[p-1] maps a geohash of length p to the driver ids inside it.
	cells []map[string]map[string]struct{}
}

type registeredDriver struct {
	domain.Driver
	hash string
}

// NewDriverRegistry creates a registry indexing locations up to precision.
func NewDriverRegistry(precision uint) *DriverRegistry {
	if precision == 0 || precision > geo.MaxPrecision {
		precision = geo.MaxPrecision
	}
	cells := make([]map[string]map[string]struct{}, precision)
	for i := range cells {
		cells[i] = make(map[string]map[string]struct{})
	}
	return &DriverRegistry{
		precision: precision,
		drivers:   make(map[string]*registeredDriver),
		cells:     cells,
	}
}

// Upsert stores the driver's profile and status. A known location is kept
// unless the new value carries a fresher one.
func (r *DriverRegistry) Upsert(driver domain.Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.drivers[driver.ID]
	if !ok {
		existing = &registeredDriver{}
		r.drivers[driver.ID] = existing
	}
	location, updatedAt := existing.Location, existing.LocationUpdatedAt
	existing.Driver = driver
	if driver.LocationUpdatedAt.Before(updatedAt) || driver.LocationUpdatedAt.IsZero() {
		existing.Location, existing.LocationUpdatedAt = location, updatedAt
	}
	r.reindex(existing)
}

// UpdateLocation records a location push. Pushes older than the stored one
// are ignored. It reports false when the driver is not registered.
func (r *DriverRegistry) UpdateLocation(driverID string, p domain.GeoPoint, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drivers[driverID]
	if !ok {
		return false
	}
	if at.Before(d.LocationUpdatedAt) {
		return true
	}
	d.Location = p
	d.LocationUpdatedAt = at
	r.reindex(d)
	return true
}

// SetStatus changes a driver's status. It reports false when the driver is not registered.
func (r *DriverRegistry) SetStatus(driverID string, status domain.DriverStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.drivers[driverID]
	if !ok {
		return false
	}
	d.Status = status
	return true
}

// Remove drops a driver from the pool.
func (r *DriverRegistry) Remove(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.drivers[driverID]; ok {
		r.unindex(d)
		delete(r.drivers, driverID)
	}
}

// Get returns a copy of the driver.
func (r *DriverRegistry) Get(driverID string) (domain.Driver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[driverID]
	if !ok {
		return domain.Driver{}, false
	}
	return d.Driver, true
}

// Len returns the number of registered drivers.
func (r *DriverRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.drivers)
}

// Nearby returns available drivers in the cells covering radiusKm around
// center. Results are not distance filtered.
func (r *DriverRegistry) Nearby(center domain.GeoPoint, radiusKm float64) []domain.Driver {
	cells, precision, ok := geo.Cover(center, radiusKm, r.precision)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Driver
	if !ok {
		for _, d := range r.drivers {
			if d.Available() {
				out = append(out, d.Driver)
			}
		}
		return out
	}

	index := r.cells[precision-1]
	for _, cell := range cells {
		for id := range index[cell] {
			if d := r.drivers[id]; d.Available() {
				out = append(out, d.Driver)
			}
		}
	}
	return out
}

func (r *DriverRegistry) reindex(d *registeredDriver) {
	if d.LocationUpdatedAt.IsZero() {
		return
	}
	hash := geo.Encode(d.Location, r.precision)
	if hash == d.hash {
		return
	}
	r.unindex(d)
	d.hash = hash
	for p := 1; p <= len(hash); p++ {
		bucket := r.cells[p-1][hash[:p]]
		if bucket == nil {
			bucket = make(map[string]struct{})
			r.cells[p-1][hash[:p]] = bucket
		}
		bucket[d.ID] = struct{}{}
	}
}

func (r *DriverRegistry) unindex(d *registeredDriver) {
	for p := 1; p <= len(d.hash); p++ {
		prefix := d.hash[:p]
		bucket := r.cells[p-1][prefix]
		delete(bucket, d.ID)
		if len(bucket) == 0 {
			delete(r.cells[p-1], prefix)
		}
	}
	d.hash = ""
}

// NearbySource supplies the candidate pool for a proximity search.
type NearbySource interface {
	Nearby(center domain.GeoPoint, radiusKm float64) []domain.Driver
}

// Ensure DriverRegistry implements NearbySource.
var _ NearbySource = (*DriverRegistry)(nil)

// MatcherConfig holds the matcher tuning.
type MatcherConfig struct {
	DefaultRadiusKm float64
	AverageSpeedKmh float64
	MaxResults      int
}

// Matcher ranks available drivers around a pickup. It never mutates the pool.
type Matcher struct {
	drivers NearbySource
	cfg     MatcherConfig
}

// NewMatcher creates a new Matcher.
func NewMatcher(drivers NearbySource, cfg MatcherConfig) *Matcher {
	if cfg.DefaultRadiusKm <= 0 {
		cfg.DefaultRadiusKm = defaultSearchRadiusKm
	}
	if cfg.AverageSpeedKmh <= 0 {
		cfg.AverageSpeedKmh = 30
	}
	return &Matcher{drivers: drivers, cfg: cfg}
}

// DefaultRadiusKm returns the radius used when a search passes zero.
func (m *Matcher) DefaultRadiusKm() float64 {
	return m.cfg.DefaultRadiusKm
}

// FindNearby returns available drivers within radiusKm of pickup ordered by
// ascending distance, ties broken by driver id. A zero radius uses the
// configured default. An empty result is not an error.
func (m *Matcher) FindNearby(pickup domain.GeoPoint, radiusKm float64, dropoff *domain.GeoPoint) ([]domain.DriverCandidate, error) {
	if !pickup.Valid() {
		return nil, ErrInvalidCoordinate
	}
	if dropoff != nil && !dropoff.Valid() {
		return nil, ErrInvalidCoordinate
	}
	if radiusKm < 0 || math.IsNaN(radiusKm) {
		return nil, ErrInvalidRadius
	}
	if radiusKm == 0 {
		radiusKm = m.cfg.DefaultRadiusKm
	}

	var tripKm float64
	if dropoff != nil {
		tripKm = geo.HaversineKm(pickup, *dropoff)
	}

	pool := m.drivers.Nearby(pickup, radiusKm)
	candidates := make([]domain.DriverCandidate, 0, len(pool))
	for _, d := range pool {
		dist := geo.HaversineKm(pickup, d.Location)
		if dist > radiusKm {
			continue
		}
		candidates = append(candidates, domain.DriverCandidate{
			DriverID:                d.ID,
			Name:                    d.Name,
			Vehicle:                 d.Vehicle,
			Rating:                  d.Rating,
			Location:                d.Location,
			DistanceToPickupKm:      dist,
			EstimatedArrivalMinutes: m.EstimateArrivalMinutes(dist),
			TripDistanceKm:          tripKm,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].DistanceToPickupKm != candidates[j].DistanceToPickupKm {
			return candidates[i].DistanceToPickupKm < candidates[j].DistanceToPickupKm
		}
		return candidates[i].DriverID < candidates[j].DriverID
	})

	if m.cfg.MaxResults > 0 && len(candidates) > m.cfg.MaxResults {
		candidates = candidates[:m.cfg.MaxResults]
	}
	return candidates, nil
}

// EstimateArrivalMinutes converts a distance to whole minutes at the
// configured average speed, never less than one.
func (m *Matcher) EstimateArrivalMinutes(distanceKm float64) int {
	minutes := int(math.Ceil(distanceKm / m.cfg.AverageSpeedKmh * 60))
	if minutes < 1 {
		return 1
	}
	return minutes
}
