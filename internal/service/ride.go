package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rideflow/internal/domain"
	"rideflow/internal/geo"
	"rideflow/internal/redis"
	"rideflow/internal/repository"
)

const defaultCancelReason = "unspecified"

// EventPublisher delivers outbound events to connected actors.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// DriverTripTracker flips a driver between ONLINE and ON_TRIP.
type DriverTripTracker interface {
	SetOnTrip(ctx context.Context, driverID string, onTrip bool) error
	OnTrip(driverID string) bool
}

// Ensure DriverService implements DriverTripTracker.
var _ DriverTripTracker = (*DriverService)(nil)

// CompletionHook runs after a ride reaches COMPLETED, outside the ride lock.
type CompletionHook func(ctx context.Context, ride *domain.Ride)

// RideControllerDeps holds the collaborators of a RideController.
// Publisher, Notifier, Drivers and Cache may be nil.
type RideControllerDeps struct {
	Rides     repository.RideRepository
	Events    repository.RideEventRepository
	Fares     *FareEngine
	Matcher   *Matcher
	Publisher EventPublisher
	Notifier  Notifier
	Drivers   DriverTripTracker
	Cache     redis.RideCacheInterface
	Log       logrus.FieldLogger
	Clock     func() time.Time
}

// RideController is the single writer of ride status. Mutations of one ride
// are serialized by a per-ride lock; different rides proceed in parallel.
type RideController struct {
	rides     repository.RideRepository
	events    repository.RideEventRepository
	fares     *FareEngine
	matcher   *Matcher
	publisher EventPublisher
	notifier  Notifier
	drivers   DriverTripTracker
	cache     redis.RideCacheInterface
	log       logrus.FieldLogger
	now       func() time.Time

	keys       *keyedMutex
	onComplete []CompletionHook
}

// NewRideController creates a new RideController.
func NewRideController(deps RideControllerDeps) *RideController {
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	log := deps.Log
	if log == nil {
		log = logrus.New()
	}
	return &RideController{
		rides:     deps.Rides,
		events:    deps.Events,
		fares:     deps.Fares,
		matcher:   deps.Matcher,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		drivers:   deps.Drivers,
		cache:     deps.Cache,
		log:       log,
		now:       clock,
		keys:      newKeyedMutex(),
	}
}

// OnCompleted registers a hook run after each applied complete event.
// Hooks must be registered before the controller serves traffic.
func (c *RideController) OnCompleted(hook CompletionHook) {
	c.onComplete = append(c.onComplete, hook)
}

// RequestRideRequest contains the parameters for requesting a ride.
type RequestRideRequest struct {
	RiderID       string
	Pickup        domain.Place
	Dropoff       domain.Place
	RideClass     domain.RideClass     // Optional: defaults to standard
	PaymentMethod domain.PaymentMethod // Optional: defaults to CASH
	RadiusKm      float64              // Optional: zero uses the dispatch default
}

// RequestRideResponse contains the created ride and its dispatch outcome.
type RequestRideResponse struct {
	Ride           *domain.Ride
	Candidates     []domain.DriverCandidate
	CandidateCount int
	// Dispatched is false when the request event could not be published.
	Dispatched bool
}

// RequestRide creates a ride in REQUESTED with an estimated fare, then offers
// it to the nearest available drivers.
func (c *RideController) RequestRide(ctx context.Context, req RequestRideRequest) (*RequestRideResponse, error) {
	if err := c.validateRequest(&req); err != nil {
		return nil, err
	}

	ride, err := c.createRide(ctx, req)
	if err != nil {
		return nil, err
	}

	candidates, err := c.matcher.FindNearby(ride.Pickup.GeoPoint, req.RadiusKm, &ride.Dropoff.GeoPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to find drivers for ride %s: %w", ride.ID, err)
	}

	resp := &RequestRideResponse{
		Ride:           ride,
		Candidates:     candidates,
		CandidateCount: len(candidates),
	}

	logger := c.log.WithFields(logrus.Fields{"ride_id": ride.ID, "rider_id": ride.RiderID})
	if len(candidates) == 0 {
		logger.Info("no available drivers near pickup")
	} else {
		ids := make([]string, len(candidates))
		for i, cand := range candidates {
			ids[i] = cand.DriverID
		}
		event := c.outboundEvent(ride, domain.EventRequest, map[string]any{
			domain.PayloadCandidateIDs: ids,
			"pickup":                   ride.Pickup,
			"dropoff":                  ride.Dropoff,
			"rideClass":                ride.RideClass,
			"estimatedFare":            ride.EstimatedFare,
		})
		if err := c.publish(ctx, event); err != nil {
			logger.WithError(err).Warn("failed to dispatch ride request")
		} else {
			resp.Dispatched = true
		}
	}

	c.notify(ctx, ride, domain.EventRequest)
	return resp, nil
}

func (c *RideController) validateRequest(req *RequestRideRequest) error {
	if req.RiderID == "" {
		return ErrInvalidRiderID
	}
	if !req.Pickup.Valid() || !req.Dropoff.Valid() {
		return ErrInvalidLocation
	}
	if geo.DistanceMeters(req.Pickup.GeoPoint, req.Dropoff.GeoPoint) == 0 {
		return ErrInvalidLocation
	}
	if req.RadiusKm < 0 {
		return ErrInvalidRadius
	}

	if req.RideClass == "" {
		req.RideClass = domain.RideClassStandard
	}
	if !req.RideClass.Valid() {
		return ErrInvalidRideClass
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentMethodCash
	}
	if !req.PaymentMethod.Valid() {
		return ErrInvalidPaymentMethod
	}
	return nil
}

// createRide persists the new ride while holding the rider lock so two
// concurrent requests cannot both pass the active ride check.
func (c *RideController) createRide(ctx context.Context, req RequestRideRequest) (*domain.Ride, error) {
	release := c.keys.Lock("rider:" + req.RiderID)
	defer release()

	active, err := c.rides.GetActiveByRiderID(ctx, req.RiderID)
	if err != nil {
		return nil, fmt.Errorf("failed to check active ride: %w", err)
	}
	if active != nil {
		return nil, ErrRiderHasActiveRide
	}

	now := c.now()
	quote, err := c.fares.Quote(req.Pickup.GeoPoint, req.Dropoff.GeoPoint, req.RideClass, now)
	if err != nil {
		return nil, err
	}

	ride := &domain.Ride{
		ID:            uuid.New().String(),
		RiderID:       req.RiderID,
		Status:        domain.RideStatusRequested,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		RideClass:     req.RideClass,
		PaymentMethod: req.PaymentMethod,
		EstimatedFare: quote.Total,
		CreatedAt:     now,
	}
	if err := c.rides.Create(ctx, ride); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Another instance created an active ride for this rider first.
			return nil, ErrRiderHasActiveRide
		}
		return nil, fmt.Errorf("failed to create ride: %w", err)
	}
	c.record(ctx, ride, domain.EventRequest, "", req.RiderID, nil, now)

	c.log.WithFields(logrus.Fields{
		"ride_id":        ride.ID,
		"rider_id":       ride.RiderID,
		"ride_class":     ride.RideClass,
		"estimated_fare": ride.EstimatedFare.String(),
	}).Info("ride requested")
	return ride.Clone(), nil
}

// ApplyEvent applies one inbound lifecycle event. Unknown rides, duplicates
// and illegal transitions are reported in the result and leave state
// untouched; only storage failures are returned as errors.
func (c *RideController) ApplyEvent(ctx context.Context, event domain.Event) (TransitionResult, error) {
	result := TransitionResult{Event: event.Type}

	target, ok := TargetStatus(event.Type)
	if !ok {
		result.Outcome = OutcomeIllegalTransition
		result.Reason = fmt.Errorf("%w: %q is not a lifecycle event", ErrIllegalTransition, event.Type)
		c.logDropped(event, result)
		return result, nil
	}
	result.To = target

	if event.RideID == "" {
		result.Outcome = OutcomeUnknownRide
		result.Reason = ErrInvalidRideID
		c.logDropped(event, result)
		return result, nil
	}

	release := c.keys.Lock(event.RideID)
	if driverID := event.String(domain.PayloadDriverID); target == domain.RideStatusAccepted && driverID != "" {
		// One driver accepting two rides at once must see the first one's ON_TRIP.
		releaseRide, releaseDriver := release, c.keys.Lock(driverLockKey(driverID))
		release = func() {
			releaseDriver()
			releaseRide()
		}
	}
	ride, err := c.rides.GetByID(ctx, event.RideID)
	if err != nil {
		release()
		if errors.Is(err, repository.ErrNotFound) {
			result.Outcome = OutcomeUnknownRide
			result.Reason = ErrUnknownRide
			c.logDropped(event, result)
			return result, nil
		}
		return result, fmt.Errorf("failed to load ride %s: %w", event.RideID, err)
	}
	result.From = ride.Status

	if reason := c.checkEvent(ride, event, target); reason != nil {
		release()
		result.Ride = ride
		result.Reason = reason
		if errors.Is(reason, errDuplicateEvent) {
			result.Outcome = OutcomeDuplicate
			result.Reason = nil
			c.log.WithFields(logrus.Fields{
				"ride_id":    ride.ID,
				"event_type": event.Type,
				"status":     ride.Status,
			}).Debug("duplicate event absorbed")
			return result, nil
		}
		result.Outcome = OutcomeIllegalTransition
		c.logDropped(event, result)
		return result, nil
	}

	at := c.transitionTime(ride)
	from := ride.Status
	actor := event.String(domain.PayloadDriverID)
	switch target {
	case domain.RideStatusAccepted:
		ride.DriverID = actor
		ride.AcceptedAt = at
	case domain.RideStatusDriverArriving:
		ride.ArrivedAt = at
	case domain.RideStatusInProgress:
		ride.StartedAt = at
	case domain.RideStatusCompleted:
		ride.CompletedAt = at
	case domain.RideStatusCancelled:
		ride.CancelledAt = at
		ride.CancelReason = event.String(domain.PayloadReason)
		ride.CancelledBy = event.String(domain.PayloadCancelledBy)
		actor = ride.CancelledBy
	}
	ride.Status = target

	if err := c.commit(ctx, ride, from, event.Type, actor, event.Payload, at); err != nil {
		release()
		return result, err
	}
	release()

	result.Outcome = OutcomeApplied
	result.Ride = ride.Clone()
	c.afterTransition(ctx, ride, event.Type)
	return result, nil
}

var errDuplicateEvent = errors.New("duplicate event")

// driverLockKey keeps driver locks apart from ride locks in the same keyedMutex.
// Ride locks are always taken first.
func driverLockKey(driverID string) string {
	return "driver:" + driverID
}

// checkEvent returns nil when the event may be applied, errDuplicateEvent
// when the ride already reflects it, or the reason it must be dropped.
func (c *RideController) checkEvent(ride *domain.Ride, event domain.Event, target domain.RideStatus) error {
	driverID := event.String(domain.PayloadDriverID)

	if ride.Status == target {
		if target == domain.RideStatusAccepted && driverID != "" && driverID != ride.DriverID {
			return ErrDriverMismatch
		}
		return errDuplicateEvent
	}
	if ride.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if !CanTransition(ride.Status, target) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, ride.Status, target)
	}

	switch target {
	case domain.RideStatusAccepted:
		if driverID == "" {
			return fmt.Errorf("%w: accept requires %s", ErrMissingPayload, domain.PayloadDriverID)
		}
		if c.drivers != nil && c.drivers.OnTrip(driverID) {
			return fmt.Errorf("%w: %s", ErrDriverBusy, driverID)
		}
	case domain.RideStatusCancelled:
		if event.String(domain.PayloadReason) == "" {
			return fmt.Errorf("%w: cancel requires %s", ErrMissingPayload, domain.PayloadReason)
		}
		if driverID != "" && driverID != ride.DriverID {
			return ErrDriverMismatch
		}
		if !isRideParty(ride, event.String(domain.PayloadCancelledBy)) {
			return ErrNotRideParty
		}
	default:
		if driverID != "" && driverID != ride.DriverID {
			return ErrDriverMismatch
		}
	}
	return nil
}

// isRideParty reports whether actor may act on the ride. An empty actor is
// the system and always may.
func isRideParty(ride *domain.Ride, actor string) bool {
	return actor == "" || actor == ride.RiderID || (ride.DriverID != "" && actor == ride.DriverID)
}

// CancelRideRequest contains the parameters for cancelling a ride.
type CancelRideRequest struct {
	RideID      string
	Reason      string
	CancelledBy string
}

// Cancel moves a non-terminal ride to CANCELLED. A ride that already
// completed or was cancelled fails with ErrAlreadyTerminal, and a canceller
// who is neither its rider nor its driver fails with ErrNotRideParty.
func (c *RideController) Cancel(ctx context.Context, req CancelRideRequest) (*domain.Ride, error) {
	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	reason := req.Reason
	if reason == "" {
		reason = defaultCancelReason
	}

	release := c.keys.Lock(req.RideID)
	ride, err := c.rides.GetByID(ctx, req.RideID)
	if err != nil {
		release()
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownRide
		}
		return nil, fmt.Errorf("failed to load ride %s: %w", req.RideID, err)
	}
	if ride.Status.IsTerminal() {
		release()
		return nil, ErrAlreadyTerminal
	}
	if !isRideParty(ride, req.CancelledBy) {
		release()
		return nil, ErrNotRideParty
	}

	from := ride.Status
	at := c.transitionTime(ride)
	ride.Status = domain.RideStatusCancelled
	ride.CancelledAt = at
	ride.CancelReason = reason
	ride.CancelledBy = req.CancelledBy

	payload := map[string]any{domain.PayloadReason: reason, domain.PayloadCancelledBy: req.CancelledBy}
	if err := c.commit(ctx, ride, from, domain.EventCancel, req.CancelledBy, payload, at); err != nil {
		release()
		return nil, err
	}
	release()

	c.afterTransition(ctx, ride, domain.EventCancel)
	return ride.Clone(), nil
}

// commit stores a mutated ride and runs the side effects that must stay in
// order with the transition. The caller holds the ride lock.
func (c *RideController) commit(
	ctx context.Context,
	ride *domain.Ride,
	from domain.RideStatus,
	eventType domain.EventType,
	actor string,
	payload map[string]any,
	at time.Time,
) error {
	if err := c.rides.Update(ctx, ride); err != nil {
		return fmt.Errorf("failed to update ride %s: %w", ride.ID, err)
	}
	c.record(ctx, ride, eventType, from, actor, payload, at)
	c.invalidate(ctx, ride.ID)

	if c.drivers != nil && ride.DriverID != "" {
		var err error
		switch ride.Status {
		case domain.RideStatusAccepted:
			err = c.drivers.SetOnTrip(ctx, ride.DriverID, true)
		case domain.RideStatusCompleted, domain.RideStatusCancelled:
			err = c.drivers.SetOnTrip(ctx, ride.DriverID, false)
		}
		if err != nil {
			c.log.WithError(err).WithField("driver_id", ride.DriverID).Warn("failed to update driver status")
		}
	}

	extra := map[string]any{}
	switch eventType {
	case domain.EventCancel:
		extra[domain.PayloadReason] = ride.CancelReason
		extra[domain.PayloadCancelledBy] = ride.CancelledBy
	case domain.EventComplete:
		extra["estimatedFare"] = ride.EstimatedFare
	}
	if err := c.publish(ctx, c.outboundEvent(ride, eventType, extra)); err != nil {
		c.log.WithError(err).WithFields(logrus.Fields{
			"ride_id":    ride.ID,
			"event_type": eventType,
		}).Warn("failed to publish ride event")
	}

	c.log.WithFields(logrus.Fields{
		"ride_id":    ride.ID,
		"event_type": eventType,
		"from":       from,
		"to":         ride.Status,
	}).Info("ride transition applied")
	return nil
}

// afterTransition runs the side effects that may happen outside the ride lock.
func (c *RideController) afterTransition(ctx context.Context, ride *domain.Ride, eventType domain.EventType) {
	c.notify(ctx, ride, eventType)
	if eventType != domain.EventComplete {
		return
	}
	for _, hook := range c.onComplete {
		hook(ctx, ride.Clone())
	}
}

// transitionTime keeps lifecycle timestamps monotonic even if the clock steps back.
func (c *RideController) transitionTime(ride *domain.Ride) time.Time {
	now := c.now()
	if last := ride.LastTransitionAt(); now.Before(last) {
		return last
	}
	return now
}

func (c *RideController) outboundEvent(ride *domain.Ride, t domain.EventType, extra map[string]any) domain.Event {
	payload := map[string]any{
		domain.PayloadRiderID: ride.RiderID,
		domain.PayloadStatus:  ride.Status,
	}
	if ride.DriverID != "" {
		payload[domain.PayloadDriverID] = ride.DriverID
	}
	for k, v := range extra {
		payload[k] = v
	}
	return domain.NewEvent(t, ride.ID, payload, c.now())
}

func (c *RideController) publish(ctx context.Context, event domain.Event) error {
	if c.publisher == nil {
		return nil
	}
	return c.publisher.Publish(ctx, event)
}

func (c *RideController) notify(ctx context.Context, ride *domain.Ride, t domain.EventType) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.NotifyRide(ctx, ride, t); err != nil {
		c.log.WithError(err).WithField("ride_id", ride.ID).Warn("failed to send ride notification")
	}
}

func (c *RideController) record(
	ctx context.Context,
	ride *domain.Ride,
	t domain.EventType,
	from domain.RideStatus,
	actor string,
	payload map[string]any,
	at time.Time,
) {
	if c.events == nil {
		return
	}
	rec := &domain.RideEventRecord{
		ID:         uuid.New().String(),
		RideID:     ride.ID,
		Type:       t,
		FromStatus: from,
		ToStatus:   ride.Status,
		Actor:      actor,
		Payload:    payload,
		OccurredAt: at,
	}
	if err := c.events.Append(ctx, rec); err != nil {
		c.log.WithError(err).WithField("ride_id", ride.ID).Error("failed to append ride event")
	}
}

func (c *RideController) invalidate(ctx context.Context, rideID string) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateRide(ctx, rideID); err != nil {
		c.log.WithError(err).WithField("ride_id", rideID).Warn("failed to invalidate cached ride")
	}
}

func (c *RideController) logDropped(event domain.Event, result TransitionResult) {
	c.log.WithFields(logrus.Fields{
		"ride_id":    event.RideID,
		"event_type": event.Type,
		"status":     result.From,
		"outcome":    result.Outcome,
	}).WithError(result.Reason).Warn("event dropped")
}

// GetRide returns the ride, served from the cache when one is configured.
func (c *RideController) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if c.cache != nil {
		cached, err := c.cache.GetRide(ctx, rideID)
		if err != nil {
			c.log.WithError(err).WithField("ride_id", rideID).Warn("ride cache read failed")
		} else if cached != nil {
			return cached, nil
		}
	}

	ride, err := c.LoadRide(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.SetRide(ctx, ride); err != nil {
			c.log.WithError(err).WithField("ride_id", rideID).Warn("ride cache write failed")
		}
	}
	return ride, nil
}

// LoadRide reads the ride from the repository, bypassing the cache.
func (c *RideController) LoadRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := c.rides.GetByID(ctx, rideID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnknownRide
		}
		return nil, fmt.Errorf("failed to load ride %s: %w", rideID, err)
	}
	return ride, nil
}

// ActiveRideForRider returns the rider's non-terminal ride, or nil if none.
func (c *RideController) ActiveRideForRider(ctx context.Context, riderID string) (*domain.Ride, error) {
	if riderID == "" {
		return nil, ErrInvalidRiderID
	}
	return c.rides.GetActiveByRiderID(ctx, riderID)
}

// RecordActualFare stores the settled fare on a completed ride. It never
// changes status.
func (c *RideController) RecordActualFare(ctx context.Context, rideID string, fare domain.Money) error {
	if rideID == "" {
		return ErrInvalidRideID
	}
	release := c.keys.Lock(rideID)
	defer release()

	ride, err := c.LoadRide(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != domain.RideStatusCompleted {
		return ErrRideNotCompleted
	}
	ride.ActualFare = &fare
	if err := c.rides.Update(ctx, ride); err != nil {
		return fmt.Errorf("failed to record fare for ride %s: %w", rideID, err)
	}
	c.invalidate(ctx, rideID)
	return nil
}

// History returns the ride's applied transitions in order.
func (c *RideController) History(ctx context.Context, rideID string) ([]*domain.RideEventRecord, error) {
	if _, err := c.LoadRide(ctx, rideID); err != nil {
		return nil, err
	}
	if c.events == nil {
		return nil, nil
	}
	return c.events.ListByRideID(ctx, rideID)
}
