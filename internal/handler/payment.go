package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rideflow/internal/domain"
	"rideflow/internal/service"
)

// PaymentHandler handles HTTP requests for payments.
type PaymentHandler struct {
	settlement *service.SettlementService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(settlement *service.SettlementService) *PaymentHandler {
	return &PaymentHandler{settlement: settlement}
}

// PaymentResponse is the HTTP representation of a payment.
type PaymentResponse struct {
	ID            string                `json:"id"`
	RideID        string                `json:"ride_id"`
	Amount        domain.Money          `json:"amount"`
	Method        string                `json:"method"`
	Status        string                `json:"status"`
	Breakdown     *domain.FareBreakdown `json:"breakdown,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
	CreatedAt     string                `json:"created_at"`
	UpdatedAt     string                `json:"updated_at"`
}

// ReceiptResponse is the HTTP representation of a receipt.
type ReceiptResponse struct {
	ID              string               `json:"id"`
	RideID          string               `json:"ride_id"`
	PaymentID       string               `json:"payment_id"`
	RiderID         string               `json:"rider_id"`
	DriverID        string               `json:"driver_id,omitempty"`
	DriverName      string               `json:"driver_name,omitempty"`
	Vehicle         string               `json:"vehicle,omitempty"`
	Pickup          domain.Place         `json:"pickup"`
	Dropoff         domain.Place         `json:"dropoff"`
	RideClass       string               `json:"ride_class"`
	Breakdown       domain.FareBreakdown `json:"breakdown"`
	Total           domain.Money         `json:"total"`
	PaymentMethod   string               `json:"payment_method"`
	PaymentStatus   string               `json:"payment_status"`
	StartedAt       string               `json:"started_at,omitempty"`
	CompletedAt     string               `json:"completed_at,omitempty"`
	DurationSeconds int64                `json:"duration_seconds"`
	IssuedAt        string               `json:"issued_at"`
}

func toPaymentResponse(p *domain.PaymentRecord) PaymentResponse {
	return PaymentResponse{
		ID:            p.ID,
		RideID:        p.RideID,
		Amount:        p.Amount,
		Method:        string(p.Method),
		Status:        string(p.Status),
		Breakdown:     p.Breakdown,
		FailureReason: p.FailureReason,
		CreatedAt:     formatTime(p.CreatedAt),
		UpdatedAt:     formatTime(p.UpdatedAt),
	}
}

func toReceiptResponse(r *domain.Receipt) ReceiptResponse {
	return ReceiptResponse{
		ID:              r.ID,
		RideID:          r.RideID,
		PaymentID:       r.PaymentID,
		RiderID:         r.RiderID,
		DriverID:        r.DriverID,
		DriverName:      r.DriverName,
		Vehicle:         r.Vehicle,
		Pickup:          r.Pickup,
		Dropoff:         r.Dropoff,
		RideClass:       string(r.RideClass),
		Breakdown:       r.Breakdown,
		Total:           r.Total,
		PaymentMethod:   string(r.PaymentMethod),
		PaymentStatus:   string(r.PaymentStatus),
		StartedAt:       formatTime(r.StartedAt),
		CompletedAt:     formatTime(r.CompletedAt),
		DurationSeconds: int64(r.Duration.Seconds()),
		IssuedAt:        formatTime(r.IssuedAt),
	}
}

// GetPayment handles GET /v1/payments/:id
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	payment, err := h.settlement.GetPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}

// Refund handles POST /v1/payments/:id/refund
func (h *PaymentHandler) Refund(c *gin.Context) {
	payment, err := h.settlement.Refund(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toPaymentResponse(payment))
}
