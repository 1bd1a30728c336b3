package service

import (
	"context"
	"testing"

	"rideflow/internal/domain"
)

func TestRideNotifications_Recipients(t *testing.T) {
	t.Parallel()
	svc := NewNotificationService(quietLogger())

	base := domain.Ride{ID: "r-1", RiderID: "rider-1", DriverID: "d-1"}

	testCases := []struct {
		name      string
		mutate    func(r *domain.Ride)
		event     domain.EventType
		wantType  NotificationType
		recipient string
	}{
		{"accept goes to rider", nil, domain.EventAccept, NotificationDriverAccepted, "rider-1"},
		{"start goes to rider", nil, domain.EventStart, NotificationTripStarted, "rider-1"},
		{"driver cancel goes to rider", func(r *domain.Ride) { r.CancelledBy = "d-1" }, domain.EventCancel, NotificationRideCancelled, "rider-1"},
		{"rider cancel goes to driver", func(r *domain.Ride) { r.CancelledBy = "rider-1" }, domain.EventCancel, NotificationRideCancelled, "d-1"},
		{"rider cancel without driver is silent", func(r *domain.Ride) { r.CancelledBy = "rider-1"; r.DriverID = "" }, domain.EventCancel, "", ""},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ride := base
			if tc.mutate != nil {
				tc.mutate(&ride)
			}

			got := svc.rideNotifications(&ride, tc.event)

			if tc.wantType == "" {
				if len(got) != 0 {
					t.Errorf("expected no notification, got %+v", got)
				}
				return
			}
			if len(got) != 1 {
				t.Fatalf("expected one notification, got %d", len(got))
			}
			if got[0].Type != tc.wantType || got[0].RecipientID != tc.recipient {
				t.Errorf("expected %s to %s, got %s to %s", tc.wantType, tc.recipient, got[0].Type, got[0].RecipientID)
			}
		})
	}
}

func TestNotifyPayment_IgnoresPending(t *testing.T) {
	t.Parallel()
	svc := NewNotificationService(quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	err := svc.NotifyPayment(ctx, &domain.PaymentRecord{Status: domain.PaymentStatusPending}, "rider-1")
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
