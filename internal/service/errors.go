package service

import "errors"

var (
	// ErrInvalidRiderID is returned when rider ID is empty.
	ErrInvalidRiderID = errors.New("invalid rider id")

	// ErrInvalidRideID is returned when ride ID is empty.
	ErrInvalidRideID = errors.New("invalid ride id")

	// ErrInvalidDriverID is returned when driver ID is empty.
	ErrInvalidDriverID = errors.New("invalid driver id")

	// ErrInvalidPaymentID is returned when payment ID is empty.
	ErrInvalidPaymentID = errors.New("invalid payment id")

	// ErrInvalidCoordinate is returned when a latitude or longitude is out of range.
	ErrInvalidCoordinate = errors.New("invalid coordinate")

	// ErrInvalidLocation is returned when pickup and dropoff are invalid or coincide.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidRadius is returned when a search radius is not positive.
	ErrInvalidRadius = errors.New("invalid search radius")

	// ErrInvalidRideClass is returned when no rate table exists for the ride class.
	ErrInvalidRideClass = errors.New("invalid ride class")

	// ErrInvalidPaymentMethod is returned when payment method is invalid.
	ErrInvalidPaymentMethod = errors.New("invalid payment method")

	// ErrRiderHasActiveRide is returned when the rider already has a non-terminal ride.
	ErrRiderHasActiveRide = errors.New("rider already has an active ride")

	// ErrUnknownRide is returned when no ride exists with the given ID.
	ErrUnknownRide = errors.New("unknown ride")

	// ErrIllegalTransition is returned when an event is not allowed from the ride's status.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrAlreadyTerminal is returned when cancelling a completed or cancelled ride.
	ErrAlreadyTerminal = errors.New("ride already in terminal state")

	// ErrMissingPayload is returned when an event lacks a required payload field.
	ErrMissingPayload = errors.New("missing event payload")

	// ErrDriverMismatch is returned when an event names a driver other than the assigned one.
	ErrDriverMismatch = errors.New("driver not assigned to this ride")

	// ErrNotRideParty is returned when someone other than the rider or the driver cancels a ride.
	ErrNotRideParty = errors.New("actor is not a party to this ride")

	// ErrDriverBusy is returned when a driver already on a trip accepts another ride.
	ErrDriverBusy = errors.New("driver already on a trip")

	// ErrDriverNotFound is returned when the driver is not registered.
	ErrDriverNotFound = errors.New("driver not found")

	// ErrRideNotCompleted is returned when settling a ride that has not completed.
	ErrRideNotCompleted = errors.New("ride not completed")

	// ErrInvalidAmount is returned when a settlement amount is non-positive or above the ceiling.
	ErrInvalidAmount = errors.New("invalid payment amount")

	// ErrPaymentNotFound is returned when no payment exists for the lookup.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentNotRefundable is returned when refunding a payment that is not completed.
	ErrPaymentNotRefundable = errors.New("payment not refundable")

	// ErrSettlementInProgress is returned when another instance holds the settlement lock.
	ErrSettlementInProgress = errors.New("settlement in progress")
)
