package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rideflow/internal/domain"
	"rideflow/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	drivers *service.DriverService
	matcher *service.Matcher
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(drivers *service.DriverService, matcher *service.Matcher) *DriverHandler {
	return &DriverHandler{
		drivers: drivers,
		matcher: matcher,
	}
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	ID      string  `json:"id,omitempty"`
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Vehicle string  `json:"vehicle"`
	Rating  float64 `json:"rating"`
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// AvailabilityRequest is the HTTP request body for toggling availability.
type AvailabilityRequest struct {
	Available *bool `json:"available"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID                string           `json:"id"`
	Name              string           `json:"name,omitempty"`
	Phone             string           `json:"phone,omitempty"`
	Vehicle           string           `json:"vehicle,omitempty"`
	Rating            float64          `json:"rating"`
	Status            string           `json:"status"`
	Location          *domain.GeoPoint `json:"location,omitempty"`
	LocationUpdatedAt string           `json:"location_updated_at,omitempty"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	resp := DriverResponse{
		ID:      d.ID,
		Name:    d.Name,
		Phone:   d.Phone,
		Vehicle: d.Vehicle,
		Rating:  d.Rating,
		Status:  string(d.Status),
	}
	if !d.LocationUpdatedAt.IsZero() {
		loc := d.Location
		resp.Location = &loc
		resp.LocationUpdatedAt = formatTime(d.LocationUpdatedAt)
	}
	return resp
}

// Register handles POST /v1/drivers
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name is required"})
		return
	}

	driver, err := h.drivers.RegisterDriver(c.Request.Context(), service.RegisterDriverRequest{
		ID:      req.ID,
		Name:    req.Name,
		Phone:   req.Phone,
		Vehicle: req.Vehicle,
		Rating:  req.Rating,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	driver, err := h.drivers.GetDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Lat == nil || req.Lng == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lng are required"})
		return
	}

	driver, err := h.drivers.UpdateLocation(c.Request.Context(), service.UpdateLocationRequest{
		DriverID: c.Param("id"),
		Lat:      *req.Lat,
		Lng:      *req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// SetAvailability handles PUT /v1/drivers/:id/availability
func (h *DriverHandler) SetAvailability(c *gin.Context) {
	var req AvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Available == nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "available is required"})
		return
	}

	driver, err := h.drivers.SetAvailability(c.Request.Context(), c.Param("id"), *req.Available)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// Nearby handles GET /v1/drivers/nearby?lat=&lng=&radius_km=
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "lat and lng query parameters are required"})
		return
	}

	var radiusKm float64
	if raw := c.Query("radius_km"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "radius_km must be a number"})
			return
		}
		radiusKm = r
	}

	candidates, err := h.matcher.FindNearby(domain.GeoPoint{Lat: lat, Lng: lng}, radiusKm, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	if candidates == nil {
		candidates = []domain.DriverCandidate{}
	}
	respondJSON(c, http.StatusOK, candidates)
}
