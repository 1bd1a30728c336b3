package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rideflow/internal/domain"
	"rideflow/internal/redis"
	"rideflow/internal/repository"
	"rideflow/internal/retry"
)

const defaultCeilingMinor = 100000

// PSP is the interface for a Payment Service Provider.
type PSP interface {
	// Charge collects the payment amount. approved is false when the
	// provider declined; err reports a provider failure.
	Charge(ctx context.Context, payment *domain.PaymentRecord) (approved bool, err error)

	// Refund returns a completed charge to the rider.
	Refund(ctx context.Context, payment *domain.PaymentRecord) error
}

// SandboxPSP approves every charge and refund. It backs local and test deployments.
type SandboxPSP struct{}

// NewSandboxPSP creates a new SandboxPSP.
func NewSandboxPSP() *SandboxPSP {
	return &SandboxPSP{}
}

// Charge always approves.
func (p *SandboxPSP) Charge(ctx context.Context, payment *domain.PaymentRecord) (bool, error) {
	return true, nil
}

// Refund always succeeds.
func (p *SandboxPSP) Refund(ctx context.Context, payment *domain.PaymentRecord) error {
	return nil
}

// RideSource is the part of the ride controller settlement depends on.
type RideSource interface {
	LoadRide(ctx context.Context, rideID string) (*domain.Ride, error)
	RecordActualFare(ctx context.Context, rideID string, fare domain.Money) error
}

// Ensure RideController implements RideSource.
var _ RideSource = (*RideController)(nil)

// SettlementConfig holds the settlement limits.
type SettlementConfig struct {
	// CeilingMinor is the largest amount a single ride may be charged.
	CeilingMinor int64
	// LockTTL bounds how long a distributed settlement lock is held.
	LockTTL time.Duration
	// LockWait controls how long a settle call waits for another instance.
	LockWait retry.Config
}

// SettlementService turns completed rides into exactly one payment record.
type SettlementService struct {
	rides       RideSource
	paymentRepo repository.PaymentRepository
	fares       *FareEngine
	psp         PSP
	locks       redis.LockStoreInterface
	notifier    Notifier
	log         logrus.FieldLogger
	cfg         SettlementConfig
	keys        *keyedMutex
	now         func() time.Time
}

// NewSettlementService creates a new SettlementService. locks and notifier may be nil.
func NewSettlementService(
	rides RideSource,
	paymentRepo repository.PaymentRepository,
	fares *FareEngine,
	psp PSP,
	locks redis.LockStoreInterface,
	notifier Notifier,
	log logrus.FieldLogger,
	cfg SettlementConfig,
) *SettlementService {
	if log == nil {
		log = logrus.New()
	}
	if cfg.CeilingMinor <= 0 {
		cfg.CeilingMinor = defaultCeilingMinor
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait.BaseDelay <= 0 {
		cfg.LockWait = retry.Config{
			MaxRetries: 5,
			BaseDelay:  50 * time.Millisecond,
			MaxDelay:   time.Second,
			Multiplier: 2,
			Jitter:     true,
		}
	}
	return &SettlementService{
		rides:       rides,
		paymentRepo: paymentRepo,
		fares:       fares,
		psp:         psp,
		locks:       locks,
		notifier:    notifier,
		log:         log,
		cfg:         cfg,
		keys:        newKeyedMutex(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SettleRequest contains the parameters for settling a ride.
type SettleRequest struct {
	RideID string
	Method domain.PaymentMethod // Optional: defaults to the ride's method
}

// Settle records the payment of a completed ride. Calls for a ride that is
// already settled return the existing record, so Settle is safe to retry
// and to race.
func (s *SettlementService) Settle(ctx context.Context, req SettleRequest) (*domain.PaymentRecord, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	if req.Method != "" && !req.Method.Valid() {
		return nil, ErrInvalidPaymentMethod
	}

	release := s.keys.Lock(req.RideID)
	defer release()

	unlock, err := s.lockRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.paymentRepo.GetByRideID(ctx, req.RideID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up payment for ride %s: %w", req.RideID, err)
	}
	if existing != nil && existing.Status.IsSettled() {
		return existing, nil
	}

	ride, err := s.rides.LoadRide(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != domain.RideStatusCompleted {
		return nil, ErrRideNotCompleted
	}

	payment := existing
	if payment == nil {
		payment, err = s.createPending(ctx, ride, req.Method)
		if err != nil {
			return nil, err
		}
		if payment.Status.IsSettled() {
			return payment, nil
		}
	}

	return s.charge(ctx, ride, payment)
}

// createPending computes the final amount and stores a PENDING record.
func (s *SettlementService) createPending(ctx context.Context, ride *domain.Ride, method domain.PaymentMethod) (*domain.PaymentRecord, error) {
	if method == "" {
		method = ride.PaymentMethod
	}
	if method == "" {
		method = domain.PaymentMethodCash
	}

	amount, breakdown := s.finalAmount(ride)
	if amount.Amount <= 0 || amount.Amount > s.cfg.CeilingMinor {
		s.log.WithFields(logrus.Fields{
			"ride_id": ride.ID,
			"amount":  amount.String(),
			"ceiling": s.cfg.CeilingMinor,
		}).Error("settlement amount out of range")
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	now := s.now()
	payment := &domain.PaymentRecord{
		ID:             uuid.New().String(),
		RideID:         ride.ID,
		Amount:         amount,
		Method:         method,
		Status:         domain.PaymentStatusPending,
		Breakdown:      breakdown,
		IdempotencyKey: "settle:" + ride.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		if !errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("failed to create payment for ride %s: %w", ride.ID, err)
		}
		// Another instance got there first.
		stored, err := s.paymentRepo.GetByRideID(ctx, ride.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up payment for ride %s: %w", ride.ID, err)
		}
		if stored == nil || !stored.Status.IsSettled() {
			return nil, ErrSettlementInProgress
		}
		return stored, nil
	}
	return payment, nil
}

// finalAmount reprices the ride from its real timestamps, falling back to the
// estimate when the trip cannot be repriced.
func (s *SettlementService) finalAmount(ride *domain.Ride) (domain.Money, *domain.FareBreakdown) {
	if !ride.StartedAt.IsZero() && !ride.CompletedAt.IsZero() {
		quote, err := s.fares.QuoteTrip(ride.Pickup.GeoPoint, ride.Dropoff.GeoPoint, ride.RideClass, ride.StartedAt, ride.TripDuration())
		if err == nil {
			return quote.Total, &quote
		}
		s.log.WithError(err).WithField("ride_id", ride.ID).Warn("failed to reprice ride, using estimate")
	}
	return ride.EstimatedFare, nil
}

// charge collects a PENDING payment and records the outcome.
func (s *SettlementService) charge(ctx context.Context, ride *domain.Ride, payment *domain.PaymentRecord) (*domain.PaymentRecord, error) {
	logger := s.log.WithFields(logrus.Fields{
		"ride_id":    ride.ID,
		"payment_id": payment.ID,
		"method":     payment.Method,
		"amount":     payment.Amount.String(),
	})

	status := domain.PaymentStatusCompleted
	reason := ""
	if payment.Method != domain.PaymentMethodCash {
		approved, err := s.psp.Charge(ctx, payment)
		switch {
		case err != nil:
			status, reason = domain.PaymentStatusFailed, err.Error()
		case !approved:
			status, reason = domain.PaymentStatusFailed, "declined"
		}
	}

	if err := s.paymentRepo.UpdateStatus(ctx, payment.ID, status, reason); err != nil {
		return nil, fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	payment.Status = status
	payment.FailureReason = reason
	payment.UpdatedAt = s.now()

	if status == domain.PaymentStatusCompleted {
		logger.Info("ride settled")
		if err := s.rides.RecordActualFare(ctx, ride.ID, payment.Amount); err != nil {
			logger.WithError(err).Warn("failed to record actual fare")
		}
	} else {
		logger.WithField("reason", reason).Error("payment failed")
	}

	s.notify(ctx, payment, ride.RiderID)
	return payment.Clone(), nil
}

// lockRide takes the distributed settlement lock when one is configured,
// waiting with backoff while another instance holds it.
func (s *SettlementService) lockRide(ctx context.Context, rideID string) (func(), error) {
	if s.locks == nil {
		return func() {}, nil
	}

	key := "settle:" + rideID
	var token string
	retrier := retry.New(s.cfg.LockWait, s.log)
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		t, ok, err := s.locks.Acquire(ctx, key, s.cfg.LockTTL)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSettlementInProgress
		}
		token = t
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSettlementInProgress) {
			return nil, ErrSettlementInProgress
		}
		return nil, fmt.Errorf("failed to acquire settlement lock: %w", err)
	}

	return func() {
		if err := s.locks.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.WithError(err).WithField("ride_id", rideID).Warn("failed to release settlement lock")
		}
	}, nil
}

// Refund returns a COMPLETED payment to the rider and marks it REFUNDED.
func (s *SettlementService) Refund(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	payment, err := s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	release := s.keys.Lock(payment.RideID)
	defer release()

	// Re-read under the lock; a concurrent refund may have won.
	payment, err = s.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusCompleted {
		return nil, ErrPaymentNotRefundable
	}

	if payment.Method != domain.PaymentMethodCash {
		if err := s.psp.Refund(ctx, payment); err != nil {
			return nil, fmt.Errorf("failed to refund payment %s: %w", paymentID, err)
		}
	}
	if err := s.paymentRepo.UpdateStatus(ctx, payment.ID, domain.PaymentStatusRefunded, ""); err != nil {
		return nil, fmt.Errorf("failed to update payment %s: %w", payment.ID, err)
	}
	payment.Status = domain.PaymentStatusRefunded
	payment.UpdatedAt = s.now()

	s.log.WithFields(logrus.Fields{"payment_id": payment.ID, "ride_id": payment.RideID}).Info("payment refunded")

	if ride, err := s.rides.LoadRide(ctx, payment.RideID); err == nil {
		s.notify(ctx, payment, ride.RiderID)
	}
	return payment, nil
}

// GetPayment retrieves a payment by ID.
func (s *SettlementService) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentRecord, error) {
	if paymentID == "" {
		return nil, ErrInvalidPaymentID
	}
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}
	return payment, nil
}

// GetPaymentForRide retrieves the payment of a ride.
func (s *SettlementService) GetPaymentForRide(ctx context.Context, rideID string) (*domain.PaymentRecord, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	payment, err := s.paymentRepo.GetByRideID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// HandleCompleted settles a ride as soon as it completes, with the payment
// method chosen at request time. Failures are logged; Settle can be retried.
func (s *SettlementService) HandleCompleted(ctx context.Context, ride *domain.Ride) {
	if _, err := s.Settle(ctx, SettleRequest{RideID: ride.ID}); err != nil {
		s.log.WithError(err).WithField("ride_id", ride.ID).Error("automatic settlement failed")
	}
}

func (s *SettlementService) notify(ctx context.Context, payment *domain.PaymentRecord, riderID string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyPayment(ctx, payment, riderID); err != nil {
		s.log.WithError(err).WithField("payment_id", payment.ID).Warn("failed to send payment notification")
	}
}
