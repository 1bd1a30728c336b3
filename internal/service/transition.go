package service

import "rideflow/internal/domain"

// allowedTransitions is the ride state machine. Terminal states have no entry.
var allowedTransitions = map[domain.RideStatus][]domain.RideStatus{
	domain.RideStatusRequested:      {domain.RideStatusAccepted, domain.RideStatusCancelled},
	domain.RideStatusAccepted:       {domain.RideStatusDriverArriving, domain.RideStatusCancelled},
	domain.RideStatusDriverArriving: {domain.RideStatusInProgress, domain.RideStatusCancelled},
	domain.RideStatusInProgress:     {domain.RideStatusCompleted, domain.RideStatusCancelled},
}

// eventTargets maps lifecycle events to the status they move a ride into.
var eventTargets = map[domain.EventType]domain.RideStatus{
	domain.EventAccept:   domain.RideStatusAccepted,
	domain.EventArrive:   domain.RideStatusDriverArriving,
	domain.EventStart:    domain.RideStatusInProgress,
	domain.EventComplete: domain.RideStatusCompleted,
	domain.EventCancel:   domain.RideStatusCancelled,
}

// CanTransition reports whether a ride may move from one status to another.
func CanTransition(from, to domain.RideStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TargetStatus returns the status a lifecycle event leads to.
func TargetStatus(t domain.EventType) (domain.RideStatus, bool) {
	s, ok := eventTargets[t]
	return s, ok
}

// Outcome classifies what ApplyEvent did with an event.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeUnknownRide       Outcome = "unknown_ride"
	OutcomeIllegalTransition Outcome = "illegal_transition"
)

// TransitionResult reports the effect of one inbound event. Ride is the
// state after the event, nil for unknown rides.
type TransitionResult struct {
	Outcome Outcome
	Event   domain.EventType
	Ride    *domain.Ride
	From    domain.RideStatus
	To      domain.RideStatus
	Reason  error
}

// Applied reports whether the event changed the ride.
func (r TransitionResult) Applied() bool {
	return r.Outcome == OutcomeApplied
}
