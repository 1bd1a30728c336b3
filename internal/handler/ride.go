package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rideflow/internal/domain"
	"rideflow/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	rides      *service.RideController
	settlement *service.SettlementService
	receipts   *service.ReceiptService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rides *service.RideController, settlement *service.SettlementService, receipts *service.ReceiptService) *RideHandler {
	return &RideHandler{
		rides:      rides,
		settlement: settlement,
		receipts:   receipts,
	}
}

// CreateRideRequest is the HTTP request body for requesting a ride.
type CreateRideRequest struct {
	RiderID       string       `json:"rider_id"`
	Pickup        PointRequest `json:"pickup"`
	Dropoff       PointRequest `json:"dropoff"`
	RideClass     string       `json:"ride_class,omitempty"`
	PaymentMethod string       `json:"payment_method,omitempty"` // CASH, CARD, WALLET
	RadiusKm      float64      `json:"radius_km,omitempty"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}

// ApplyEventRequest is the HTTP request body for applying a lifecycle event.
type ApplyEventRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// SettleRideRequest is the optional HTTP request body for settling a ride.
type SettleRideRequest struct {
	PaymentMethod string `json:"payment_method,omitempty"`
}

// RideResponse is the HTTP representation of a ride.
type RideResponse struct {
	ID            string        `json:"id"`
	RiderID       string        `json:"rider_id"`
	DriverID      string        `json:"driver_id,omitempty"`
	Status        string        `json:"status"`
	Pickup        domain.Place  `json:"pickup"`
	Dropoff       domain.Place  `json:"dropoff"`
	RideClass     string        `json:"ride_class"`
	PaymentMethod string        `json:"payment_method"`
	EstimatedFare domain.Money  `json:"estimated_fare"`
	ActualFare    *domain.Money `json:"actual_fare,omitempty"`
	CreatedAt     string        `json:"created_at"`
	AcceptedAt    string        `json:"accepted_at,omitempty"`
	ArrivedAt     string        `json:"arrived_at,omitempty"`
	StartedAt     string        `json:"started_at,omitempty"`
	CompletedAt   string        `json:"completed_at,omitempty"`
	CancelledAt   string        `json:"cancelled_at,omitempty"`
	CancelReason  string        `json:"cancel_reason,omitempty"`
	CancelledBy   string        `json:"cancelled_by,omitempty"`
}

// CreateRideResponse is the HTTP response for requesting a ride.
type CreateRideResponse struct {
	RideResponse
	CandidateCount int                      `json:"candidate_count"`
	Candidates     []domain.DriverCandidate `json:"candidates"`
	Dispatched     bool                     `json:"dispatched"`
}

// ApplyEventResponse is the HTTP response for an applied event.
type ApplyEventResponse struct {
	Outcome string        `json:"outcome"`
	From    string        `json:"from,omitempty"`
	To      string        `json:"to,omitempty"`
	Reason  string        `json:"reason,omitempty"`
	Ride    *RideResponse `json:"ride,omitempty"`
}

// RideEventResponse is one entry of a ride's history.
type RideEventResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status"`
	Actor      string         `json:"actor,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt string         `json:"occurred_at"`
}

func toRideResponse(ride *domain.Ride) RideResponse {
	return RideResponse{
		ID:            ride.ID,
		RiderID:       ride.RiderID,
		DriverID:      ride.DriverID,
		Status:        string(ride.Status),
		Pickup:        ride.Pickup,
		Dropoff:       ride.Dropoff,
		RideClass:     string(ride.RideClass),
		PaymentMethod: string(ride.PaymentMethod),
		EstimatedFare: ride.EstimatedFare,
		ActualFare:    ride.ActualFare,
		CreatedAt:     formatTime(ride.CreatedAt),
		AcceptedAt:    formatTime(ride.AcceptedAt),
		ArrivedAt:     formatTime(ride.ArrivedAt),
		StartedAt:     formatTime(ride.StartedAt),
		CompletedAt:   formatTime(ride.CompletedAt),
		CancelledAt:   formatTime(ride.CancelledAt),
		CancelReason:  ride.CancelReason,
		CancelledBy:   ride.CancelledBy,
	}
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	result, err := h.rides.RequestRide(c.Request.Context(), service.RequestRideRequest{
		RiderID:       req.RiderID,
		Pickup:        req.Pickup.place(),
		Dropoff:       req.Dropoff.place(),
		RideClass:     domain.RideClass(req.RideClass),
		PaymentMethod: domain.PaymentMethod(req.PaymentMethod),
		RadiusKm:      req.RadiusKm,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	candidates := result.Candidates
	if candidates == nil {
		candidates = []domain.DriverCandidate{}
	}
	respondJSON(c, http.StatusCreated, CreateRideResponse{
		RideResponse:   toRideResponse(result.Ride),
		CandidateCount: result.CandidateCount,
		Candidates:     candidates,
		Dispatched:     result.Dispatched,
	})
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rides.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.rides.Cancel(c.Request.Context(), service.CancelRideRequest{
		RideID:      c.Param("id"),
		CancelledBy: req.CancelledBy,
		Reason:      req.Reason,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// ApplyEvent handles POST /v1/rides/:id/events. Duplicates answer 200 with
// outcome "duplicate"; dropped events answer with the matching error status.
func (h *RideHandler) ApplyEvent(c *gin.Context) {
	var req ApplyEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	event := domain.NewEvent(domain.EventType(req.Type), c.Param("id"), req.Payload, time.Now().UTC())
	result, err := h.rides.ApplyEvent(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := ApplyEventResponse{
		Outcome: string(result.Outcome),
		From:    string(result.From),
		To:      string(result.To),
	}
	if result.Reason != nil {
		resp.Reason = result.Reason.Error()
	}
	if result.Ride != nil {
		ride := toRideResponse(result.Ride)
		resp.Ride = &ride
	}

	code := http.StatusOK
	switch result.Outcome {
	case service.OutcomeUnknownRide:
		code = http.StatusNotFound
	case service.OutcomeIllegalTransition:
		code = http.StatusConflict
	}
	respondJSON(c, code, resp)
}

// History handles GET /v1/rides/:id/events
func (h *RideHandler) History(c *gin.Context) {
	records, err := h.rides.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]RideEventResponse, 0, len(records))
	for _, r := range records {
		response = append(response, RideEventResponse{
			ID:         r.ID,
			Type:       string(r.Type),
			FromStatus: string(r.FromStatus),
			ToStatus:   string(r.ToStatus),
			Actor:      r.Actor,
			Payload:    r.Payload,
			OccurredAt: formatTime(r.OccurredAt),
		})
	}
	respondJSON(c, http.StatusOK, response)
}

// Settle handles POST /v1/rides/:id/settle. The body is optional.
func (h *RideHandler) Settle(c *gin.Context) {
	var req SettleRideRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}

	payment, err := h.settlement.Settle(c.Request.Context(), service.SettleRequest{
		RideID: c.Param("id"),
		Method: domain.PaymentMethod(req.PaymentMethod),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}

// Receipt handles GET /v1/rides/:id/receipt. ?format=text renders plain text.
func (h *RideHandler) Receipt(c *gin.Context) {
	receipt, err := h.receipts.ReceiptForRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, service.FormatReceipt(receipt))
		return
	}
	respondJSON(c, http.StatusOK, toReceiptResponse(receipt))
}
