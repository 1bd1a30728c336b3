package domain

import "time"

// RideStatus represents the current status of a ride.
type RideStatus string

const (
	RideStatusRequested      RideStatus = "REQUESTED"
	RideStatusAccepted       RideStatus = "ACCEPTED"
	RideStatusDriverArriving RideStatus = "DRIVER_ARRIVING"
	RideStatusInProgress     RideStatus = "IN_PROGRESS"
	RideStatusCompleted      RideStatus = "COMPLETED"
	RideStatusCancelled      RideStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition can leave the status.
func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// IsActive reports whether the ride still occupies its rider.
func (s RideStatus) IsActive() bool {
	return s != "" && !s.IsTerminal()
}

// RideClass selects the rate table used to price a ride.
type RideClass string

const (
	RideClassStandard RideClass = "standard"
	RideClassPremium  RideClass = "premium"
	RideClassShared   RideClass = "shared"
)

// Valid reports whether c is a known ride class.
func (c RideClass) Valid() bool {
	switch c {
	case RideClassStandard, RideClassPremium, RideClassShared:
		return true
	}
	return false
}

// PaymentMethod represents the payment method for a ride.
type PaymentMethod string

const (
	PaymentMethodCash   PaymentMethod = "CASH"
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodWallet PaymentMethod = "WALLET"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodWallet:
		return true
	}
	return false
}

// Ride is the authoritative record of a single trip request.
// Lifecycle timestamps are zero until the corresponding transition is applied.
type Ride struct {
	ID            string
	RiderID       string
	DriverID      string
	Status        RideStatus
	Pickup        Place
	Dropoff       Place
	RideClass     RideClass
	PaymentMethod PaymentMethod
	EstimatedFare Money
	ActualFare    *Money
	CreatedAt     time.Time
	AcceptedAt    time.Time
	ArrivedAt     time.Time
	StartedAt     time.Time
	CompletedAt   time.Time
	CancelledAt   time.Time
	CancelReason  string
	CancelledBy   string
	Version       int
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.ActualFare != nil {
		fare := *r.ActualFare
		c.ActualFare = &fare
	}
	return &c
}

// LastTransitionAt returns the most recent lifecycle timestamp.
func (r *Ride) LastTransitionAt() time.Time {
	last := r.CreatedAt
	for _, ts := range []time.Time{r.AcceptedAt, r.ArrivedAt, r.StartedAt, r.CompletedAt, r.CancelledAt} {
		if ts.After(last) {
			last = ts
		}
	}
	return last
}

// TripDuration returns the time spent in progress, or zero if the trip never started.
func (r *Ride) TripDuration() time.Duration {
	if r.StartedAt.IsZero() || r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
