package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rideflow/internal/domain"
)

// IssueReceipt projects a ride, its driver and its payment into a receipt.
// It has no side effects. driver may be nil when the profile is unknown.
func IssueReceipt(payment *domain.PaymentRecord, ride *domain.Ride, driver *domain.Driver) (*domain.Receipt, error) {
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if ride == nil {
		return nil, ErrUnknownRide
	}
	if payment.RideID != ride.ID {
		return nil, fmt.Errorf("%w: payment %s belongs to ride %s", ErrPaymentNotFound, payment.ID, payment.RideID)
	}
	if ride.Status != domain.RideStatusCompleted {
		return nil, ErrRideNotCompleted
	}

	breakdown := domain.FareBreakdown{RideClass: ride.RideClass, Total: payment.Amount}
	if payment.Breakdown != nil {
		breakdown = *payment.Clone().Breakdown
	}

	receipt := &domain.Receipt{
		ID:            "rcpt-" + payment.ID,
		RideID:        ride.ID,
		PaymentID:     payment.ID,
		RiderID:       ride.RiderID,
		DriverID:      ride.DriverID,
		Pickup:        ride.Pickup,
		Dropoff:       ride.Dropoff,
		RideClass:     ride.RideClass,
		Breakdown:     breakdown,
		Total:         payment.Amount,
		PaymentMethod: payment.Method,
		PaymentStatus: payment.Status,
		StartedAt:     ride.StartedAt,
		CompletedAt:   ride.CompletedAt,
		Duration:      ride.TripDuration(),
		IssuedAt:      payment.UpdatedAt,
	}
	if driver != nil {
		receipt.DriverName = driver.Name
		receipt.Vehicle = driver.Vehicle
	}
	return receipt, nil
}

// DriverLookup resolves driver profiles for receipts.
type DriverLookup interface {
	GetDriver(ctx context.Context, driverID string) (*domain.Driver, error)
}

// ReceiptService assembles receipts from stored rides and payments.
type ReceiptService struct {
	rides    RideSource
	payments *SettlementService
	drivers  DriverLookup
}

// NewReceiptService creates a new ReceiptService. drivers may be nil.
func NewReceiptService(rides RideSource, payments *SettlementService, drivers DriverLookup) *ReceiptService {
	return &ReceiptService{
		rides:    rides,
		payments: payments,
		drivers:  drivers,
	}
}

// ReceiptForRide issues the receipt of a settled ride.
func (s *ReceiptService) ReceiptForRide(ctx context.Context, rideID string) (*domain.Receipt, error) {
	ride, err := s.rides.LoadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	payment, err := s.payments.GetPaymentForRide(ctx, rideID)
	if err != nil {
		return nil, err
	}

	var driver *domain.Driver
	if s.drivers != nil && ride.DriverID != "" {
		// A missing profile still yields a receipt, just without the driver's name.
		driver, _ = s.drivers.GetDriver(ctx, ride.DriverID)
	}
	return IssueReceipt(payment, ride, driver)
}

// FormatReceipt formats the receipt as plain text (for email/print).
func FormatReceipt(r *domain.Receipt) string {
	var b strings.Builder
	line := "====================================="
	rule := "-------------------------------------"

	fmt.Fprintf(&b, "%s\n        RIDE RECEIPT\n%s\n", line, line)
	fmt.Fprintf(&b, "Receipt ID: %s\n", r.ID)
	fmt.Fprintf(&b, "Ride ID:    %s\n", r.RideID)
	fmt.Fprintf(&b, "Date:       %s\n\n", r.IssuedAt.Format("Jan 02, 2006 3:04 PM"))

	fmt.Fprintf(&b, "TRIP DETAILS\n%s\n", rule)
	fmt.Fprintf(&b, "Pickup:   %s\n", formatPlace(r.Pickup))
	fmt.Fprintf(&b, "Dropoff:  %s\n", formatPlace(r.Dropoff))
	fmt.Fprintf(&b, "Class:    %s\n", r.RideClass)
	fmt.Fprintf(&b, "Duration: %s\n", formatDuration(r.Duration))
	fmt.Fprintf(&b, "Distance: %.2f km\n", float64(r.Breakdown.DistanceMeters)/1000)
	if r.DriverName != "" {
		fmt.Fprintf(&b, "Driver:   %s (%s)\n", r.DriverName, r.Vehicle)
	}

	fmt.Fprintf(&b, "\nFARE BREAKDOWN\n%s\n", rule)
	currency := r.Total.Currency
	fmt.Fprintf(&b, "Base Fare:      %s\n", formatMinor(r.Breakdown.BaseFare.Amount, currency))
	fmt.Fprintf(&b, "Distance:       %s\n", formatMinor(r.Breakdown.DistanceFare.Amount, currency))
	fmt.Fprintf(&b, "Time:           %s\n", formatMinor(r.Breakdown.TimeFare.Amount, currency))
	if r.Breakdown.MinimumApplied {
		b.WriteString("Minimum fare applied\n")
	}
	for _, sc := range r.Breakdown.Surcharges {
		fmt.Fprintf(&b, "%-16s%s\n", sc.Name+" surcharge:", formatMinor(sc.Amount.Amount, currency))
	}
	fmt.Fprintf(&b, "%s\nTOTAL:          %s\n\n", rule, formatMinor(r.Total.Amount, currency))

	fmt.Fprintf(&b, "PAYMENT\n%s\n", rule)
	fmt.Fprintf(&b, "Method: %s\n", r.PaymentMethod)
	fmt.Fprintf(&b, "Status: %s\n\n", r.PaymentStatus)
	fmt.Fprintf(&b, "%s\n     Thank you for riding with us!\n%s\n", line, line)
	return b.String()
}

func formatPlace(p domain.Place) string {
	if p.Address != "" {
		return p.Address
	}
	return fmt.Sprintf("(%.5f, %.5f)", p.Lat, p.Lng)
}

func formatMinor(amount int64, currency string) string {
	return domain.NewMoney(amount, currency).String()
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%d min", int(d.Round(time.Minute).Minutes()))
}
