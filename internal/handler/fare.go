package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rideflow/internal/domain"
	"rideflow/internal/service"
)

// FareHandler handles fare quotes.
type FareHandler struct {
	fares *service.FareEngine
}

// NewFareHandler creates a new FareHandler.
func NewFareHandler(fares *service.FareEngine) *FareHandler {
	return &FareHandler{fares: fares}
}

// QuoteRequest is the HTTP request body for a fare quote.
type QuoteRequest struct {
	Pickup    PointRequest `json:"pickup"`
	Dropoff   PointRequest `json:"dropoff"`
	RideClass string       `json:"ride_class,omitempty"`
	// At is the RFC 3339 request time. Empty means now.
	At string `json:"at,omitempty"`
}

// Quote handles POST /v1/fares/quote
func (h *FareHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	at := time.Now().UTC()
	if req.At != "" {
		parsed, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "at must be an RFC 3339 timestamp"})
			return
		}
		at = parsed
	}

	class := domain.RideClass(req.RideClass)
	if class == "" {
		class = domain.RideClassStandard
	}

	breakdown, err := h.fares.Quote(req.Pickup.point(), req.Dropoff.point(), class, at)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, breakdown)
}
