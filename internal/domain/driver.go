package domain

import "time"

// DriverStatus represents the current status of a driver.
type DriverStatus string

const (
	DriverStatusOnline  DriverStatus = "ONLINE"
	DriverStatusOffline DriverStatus = "OFFLINE"
	DriverStatusOnTrip  DriverStatus = "ON_TRIP"
)

// Driver represents a driver in the system.
type Driver struct {
	ID                string
	Name              string
	Phone             string
	Vehicle           string
	Rating            float64
	Status            DriverStatus
	Location          GeoPoint
	LocationUpdatedAt time.Time
}

// Available reports whether the driver may receive new ride requests.
func (d *Driver) Available() bool {
	return d.Status == DriverStatusOnline && !d.LocationUpdatedAt.IsZero()
}

// DriverCandidate is a driver returned by a proximity search.
type DriverCandidate struct {
	DriverID                string   `json:"driverId"`
	Name                    string   `json:"name,omitempty"`
	Vehicle                 string   `json:"vehicle,omitempty"`
	Rating                  float64  `json:"rating"`
	Location                GeoPoint `json:"location"`
	DistanceToPickupKm      float64  `json:"distanceToPickupKm"`
	EstimatedArrivalMinutes int      `json:"estimatedArrivalMinutes"`

	// Pickup-to-dropoff distance, set only when the search carried a dropoff.
	TripDistanceKm float64 `json:"tripDistanceKm,omitempty"`
}

// Role distinguishes the two kinds of actors on the real-time channel.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleRider || r == RoleDriver
}

// Identity names an authenticated actor. Credential is opaque to the core.
type Identity struct {
	ActorID    string
	Role       Role
	Credential string
}
