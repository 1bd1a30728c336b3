package domain

import "time"

// PaymentStatus represents the current status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusRefunded  PaymentStatus = "REFUNDED"
)

// IsSettled reports whether the payment reached an outcome that settlement must not repeat.
func (s PaymentStatus) IsSettled() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed || s == PaymentStatusRefunded
}

// PaymentRecord is the settlement of exactly one completed ride.
type PaymentRecord struct {
	ID             string
	RideID         string
	Amount         Money
	Method         PaymentMethod
	Status         PaymentStatus
	Breakdown      *FareBreakdown
	FailureReason  string
	IdempotencyKey string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Clone returns a deep copy of the record.
func (p *PaymentRecord) Clone() *PaymentRecord {
	if p == nil {
		return nil
	}
	c := *p
	if p.Breakdown != nil {
		b := *p.Breakdown
		b.Surcharges = append([]Surcharge(nil), p.Breakdown.Surcharges...)
		c.Breakdown = &b
	}
	return &c
}

// Receipt is the immutable summary handed to the rider once a payment completes.
type Receipt struct {
	ID            string
	RideID        string
	PaymentID     string
	RiderID       string
	DriverID      string
	DriverName    string
	Vehicle       string
	Pickup        Place
	Dropoff       Place
	RideClass     RideClass
	Breakdown     FareBreakdown
	Total         Money
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	StartedAt     time.Time
	CompletedAt   time.Time
	Duration      time.Duration
	IssuedAt      time.Time
}
