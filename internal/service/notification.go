package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rideflow/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRideRequested   NotificationType = "RIDE_REQUESTED"
	NotificationDriverAccepted  NotificationType = "DRIVER_ACCEPTED"
	NotificationDriverArriving  NotificationType = "DRIVER_ARRIVING"
	NotificationTripStarted     NotificationType = "TRIP_STARTED"
	NotificationTripCompleted   NotificationType = "TRIP_COMPLETED"
	NotificationRideCancelled   NotificationType = "RIDE_CANCELLED"
	NotificationPaymentSuccess  NotificationType = "PAYMENT_SUCCESS"
	NotificationPaymentFailed   NotificationType = "PAYMENT_FAILED"
	NotificationPaymentRefunded NotificationType = "PAYMENT_REFUNDED"
)

// Notification represents a notification to be sent.
type Notification struct {
	Type        NotificationType
	RecipientID string
	Title       string
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}

// Notifier delivers user-facing notifications for ride and payment facts.
type Notifier interface {
	NotifyRide(ctx context.Context, ride *domain.Ride, event domain.EventType) error
	NotifyPayment(ctx context.Context, payment *domain.PaymentRecord, riderID string) error
}

// NotificationService handles notification delivery. Delivery is a
// structured log line; push providers plug in behind Notifier.
type NotificationService struct {
	log logrus.FieldLogger
	now func() time.Time
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(log logrus.FieldLogger) *NotificationService {
	return &NotificationService{
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Ensure NotificationService implements Notifier.
var _ Notifier = (*NotificationService)(nil)

// NotifyRide tells the affected party about an applied lifecycle event.
func (s *NotificationService) NotifyRide(ctx context.Context, ride *domain.Ride, event domain.EventType) error {
	for _, n := range s.rideNotifications(ride, event) {
		s.send(ctx, n)
	}
	return nil
}

// NotifyPayment tells the rider how settlement ended.
func (s *NotificationService) NotifyPayment(ctx context.Context, payment *domain.PaymentRecord, riderID string) error {
	n := Notification{
		RecipientID: riderID,
		Data: map[string]any{
			"payment_id": payment.ID,
			"ride_id":    payment.RideID,
			"amount":     payment.Amount.String(),
		},
		CreatedAt: s.now(),
	}
	switch payment.Status {
	case domain.PaymentStatusCompleted:
		n.Type, n.Title = NotificationPaymentSuccess, "Payment Successful"
		n.Message = fmt.Sprintf("Payment of %s was successful", payment.Amount)
	case domain.PaymentStatusFailed:
		n.Type, n.Title = NotificationPaymentFailed, "Payment Failed"
		n.Message = fmt.Sprintf("Payment of %s failed: %s", payment.Amount, payment.FailureReason)
	case domain.PaymentStatusRefunded:
		n.Type, n.Title = NotificationPaymentRefunded, "Payment Refunded"
		n.Message = fmt.Sprintf("Payment of %s was refunded", payment.Amount)
	default:
		return nil
	}
	s.send(ctx, n)
	return nil
}

func (s *NotificationService) rideNotifications(ride *domain.Ride, event domain.EventType) []Notification {
	base := Notification{
		RecipientID: ride.RiderID,
		Data:        map[string]any{"ride_id": ride.ID, "driver_id": ride.DriverID},
		CreatedAt:   s.now(),
	}

	switch event {
	case domain.EventRequest:
		base.Type, base.Title = NotificationRideRequested, "Ride Requested"
		base.Message = fmt.Sprintf("Looking for a driver. Estimated fare %s", ride.EstimatedFare)
	case domain.EventAccept:
		base.Type, base.Title = NotificationDriverAccepted, "Driver Assigned"
		base.Message = fmt.Sprintf("Driver %s accepted your ride", ride.DriverID)
	case domain.EventArrive:
		base.Type, base.Title = NotificationDriverArriving, "Driver Arriving"
		base.Message = "Your driver is at the pickup point"
	case domain.EventStart:
		base.Type, base.Title = NotificationTripStarted, "Trip Started"
		base.Message = "Your trip has started. Enjoy your ride!"
	case domain.EventComplete:
		base.Type, base.Title = NotificationTripCompleted, "Trip Completed"
		base.Message = "You have arrived at your destination"
	case domain.EventCancel:
		base.Type, base.Title = NotificationRideCancelled, "Ride Cancelled"
		base.Message = fmt.Sprintf("The ride was cancelled: %s", ride.CancelReason)
		base.Data["reason"] = ride.CancelReason
		base.Data["cancelled_by"] = ride.CancelledBy

		// Tell whichever party did not cancel.
		if ride.CancelledBy == ride.RiderID {
			if ride.DriverID == "" {
				return nil
			}
			base.RecipientID = ride.DriverID
		}
	default:
		return nil
	}
	return []Notification{base}
}

// send delivers a notification.
func (s *NotificationService) send(ctx context.Context, n Notification) {
	s.log.WithFields(logrus.Fields{
		"notification": n.Type,
		"recipient":    n.RecipientID,
		"title":        n.Title,
		"ride_id":      n.Data["ride_id"],
	}).Info(n.Message)
}
