package service

import (
	"fmt"
	"time"

	"rideflow/internal/domain"
	"rideflow/internal/geo"
)

const (
	milliPerMinor  = 1000
	bpsDenominator = 10000

	nightStartHour = 22
	nightEndHour   = 6
)

// RateTable prices one ride class. Money values are minor units,
// surcharges are basis points.
type RateTable struct {
	BaseFare            int64
	PerKm               int64
	PerMinute           int64
	MinimumFare         int64
	NightSurchargeBps   int64
	WeekendSurchargeBps int64
}

// FarePolicy is the configuration a FareEngine prices with.
type FarePolicy struct {
	Currency          string
	RoundingIncrement int64
	Location          *time.Location
	WeekendDays       []time.Weekday
	Holidays          []string
	Rates             map[domain.RideClass]RateTable
}

// FareEngine computes deterministic fares. It holds no mutable state and is
// safe for concurrent use.
type FareEngine struct {
	policy   FarePolicy
	weekend  map[time.Weekday]bool
	holidays map[string]bool
}

// NewFareEngine creates a new FareEngine.
func NewFareEngine(policy FarePolicy) *FareEngine {
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	if policy.RoundingIncrement <= 0 {
		policy.RoundingIncrement = 1
	}

	e := &FareEngine{
		policy:   policy,
		weekend:  make(map[time.Weekday]bool, len(policy.WeekendDays)),
		holidays: make(map[string]bool, len(policy.Holidays)),
	}
	for _, d := range policy.WeekendDays {
		e.weekend[d] = true
	}
	for _, h := range policy.Holidays {
		e.holidays[h] = true
	}
	return e
}

// Currency returns the currency fares are quoted in.
func (e *FareEngine) Currency() string {
	return e.policy.Currency
}

// Quote estimates the fare of a ride requested at the given time.
func (e *FareEngine) Quote(pickup, dropoff domain.GeoPoint, class domain.RideClass, at time.Time) (domain.FareBreakdown, error) {
	return e.quote(pickup, dropoff, class, at, 0)
}

// QuoteTrip prices a finished trip, adding the per-minute component for its duration.
// Surcharges are evaluated at the trip start time.
func (e *FareEngine) QuoteTrip(pickup, dropoff domain.GeoPoint, class domain.RideClass, startedAt time.Time, duration time.Duration) (domain.FareBreakdown, error) {
	return e.quote(pickup, dropoff, class, startedAt, billableMinutes(duration))
}

func (e *FareEngine) quote(pickup, dropoff domain.GeoPoint, class domain.RideClass, at time.Time, minutes int64) (domain.FareBreakdown, error) {
	if !pickup.Valid() {
		return domain.FareBreakdown{}, fmt.Errorf("pickup %v: %w", pickup, ErrInvalidCoordinate)
	}
	if !dropoff.Valid() {
		return domain.FareBreakdown{}, fmt.Errorf("dropoff %v: %w", dropoff, ErrInvalidCoordinate)
	}
	rates, ok := e.policy.Rates[class]
	if !ok {
		return domain.FareBreakdown{}, fmt.Errorf("%q: %w", class, ErrInvalidRideClass)
	}

	meters := geo.DistanceMeters(pickup, dropoff)

	// All arithmetic below is in thousandths of a minor unit.
	baseMilli := rates.BaseFare * milliPerMinor
	distanceMilli := meters * rates.PerKm
	timeMilli := minutes * rates.PerMinute * milliPerMinor

	subtotal := baseMilli + distanceMilli + timeMilli
	minimumApplied := false
	if minimum := rates.MinimumFare * milliPerMinor; subtotal < minimum {
		subtotal = minimum
		minimumApplied = true
	}

	local := at.In(e.policy.Location)
	total := subtotal
	var surcharges []domain.Surcharge
	if isNight(local) && rates.NightSurchargeBps > 0 {
		amount := divRoundHalfUp(total*rates.NightSurchargeBps, bpsDenominator)
		surcharges = append(surcharges, domain.Surcharge{Name: "night", RateBps: rates.NightSurchargeBps, Amount: e.money(amount)})
		total += amount
	}
	if e.isWeekend(local) && rates.WeekendSurchargeBps > 0 {
		amount := divRoundHalfUp(total*rates.WeekendSurchargeBps, bpsDenominator)
		surcharges = append(surcharges, domain.Surcharge{Name: "weekend", RateBps: rates.WeekendSurchargeBps, Amount: e.money(amount)})
		total += amount
	}

	return domain.FareBreakdown{
		RideClass:       class,
		BaseFare:        e.money(baseMilli),
		DistanceFare:    e.money(distanceMilli),
		TimeFare:        e.money(timeMilli),
		Subtotal:        e.money(subtotal),
		MinimumApplied:  minimumApplied,
		Surcharges:      surcharges,
		Total:           domain.NewMoney(roundToIncrement(total, e.policy.RoundingIncrement), e.policy.Currency),
		DistanceMeters:  meters,
		DurationMinutes: minutes,
		QuotedAt:        at,
	}, nil
}

func (e *FareEngine) money(milli int64) domain.Money {
	return domain.NewMoney(divRoundHalfUp(milli, milliPerMinor), e.policy.Currency)
}

func (e *FareEngine) isWeekend(local time.Time) bool {
	return e.weekend[local.Weekday()] || e.holidays[local.Format(time.DateOnly)]
}

func isNight(local time.Time) bool {
	h := local.Hour()
	return h >= nightStartHour || h < nightEndHour
}

// billableMinutes rounds a trip duration up to whole minutes.
func billableMinutes(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Minute - 1) / time.Minute)
}

// divRoundHalfUp divides non-negative a by positive b, rounding halves up.
func divRoundHalfUp(a, b int64) int64 {
	return (a + b/2) / b
}

// roundToIncrement converts milli-minor units to minor units rounded half up
// to the nearest multiple of increment.
func roundToIncrement(milli, increment int64) int64 {
	step := increment * milliPerMinor
	return divRoundHalfUp(milli, step) * increment
}
