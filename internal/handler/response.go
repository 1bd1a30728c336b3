package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"rideflow/internal/channel"
	"rideflow/internal/domain"
	"rideflow/internal/repository"
	"rideflow/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PointRequest is a coordinate in a request body.
type PointRequest struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	Address string   `json:"address,omitempty"`
}

// place converts the request point. Missing coordinates become NaN so the
// service rejects them instead of reading them as (0, 0).
func (p PointRequest) place() domain.Place {
	return domain.Place{GeoPoint: p.point(), Address: p.Address}
}

func (p PointRequest) point() domain.GeoPoint {
	if p.Lat == nil || p.Lng == nil {
		return domain.GeoPoint{Lat: invalidCoordinate, Lng: invalidCoordinate}
	}
	return domain.GeoPoint{Lat: *p.Lat, Lng: *p.Lng}
}

// invalidCoordinate fails GeoPoint.Valid.
const invalidCoordinate = 1000

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, service.ErrUnknownRide),
		errors.Is(err, service.ErrDriverNotFound),
		errors.Is(err, service.ErrPaymentNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidRiderID),
		errors.Is(err, service.ErrInvalidRideID),
		errors.Is(err, service.ErrInvalidDriverID),
		errors.Is(err, service.ErrInvalidPaymentID),
		errors.Is(err, service.ErrInvalidCoordinate),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidRadius),
		errors.Is(err, service.ErrInvalidRideClass),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrMissingPayload):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrRiderHasActiveRide),
		errors.Is(err, service.ErrIllegalTransition),
		errors.Is(err, service.ErrAlreadyTerminal),
		errors.Is(err, service.ErrRideNotCompleted),
		errors.Is(err, service.ErrPaymentNotRefundable),
		errors.Is(err, service.ErrSettlementInProgress),
		errors.Is(err, service.ErrDriverBusy),
		errors.Is(err, repository.ErrConflict):
		return http.StatusConflict

	// Forbidden/Business rule errors
	case errors.Is(err, service.ErrDriverMismatch),
		errors.Is(err, service.ErrNotRideParty):
		return http.StatusForbidden

	case errors.Is(err, service.ErrInvalidAmount):
		return http.StatusUnprocessableEntity

	// Service unavailable
	case errors.Is(err, channel.ErrChannelUnavailable),
		errors.Is(err, channel.ErrNotConnected):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
