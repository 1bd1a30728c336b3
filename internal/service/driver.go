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
)

// DriverService keeps the driver registry, the profile store and the
// optional Redis location mirror in step.
type DriverService struct {
	registry      *DriverRegistry
	driverRepo    repository.DriverRepository
	locationStore redis.LocationStoreInterface
	log           logrus.FieldLogger
	now           func() time.Time
}

// NewDriverService creates a new DriverService. locationStore may be nil.
func NewDriverService(
	registry *DriverRegistry,
	driverRepo repository.DriverRepository,
	locationStore redis.LocationStoreInterface,
	log logrus.FieldLogger,
) *DriverService {
	if log == nil {
		log = logrus.New()
	}
	return &DriverService{
		registry:      registry,
		driverRepo:    driverRepo,
		locationStore: locationStore,
		log:           log,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// RegisterDriverRequest contains the parameters for registering a driver.
type RegisterDriverRequest struct {
	ID      string
	Name    string
	Phone   string
	Vehicle string
	Rating  float64
}

// RegisterDriver persists a driver profile. New drivers start OFFLINE until
// their first location push.
func (s *DriverService) RegisterDriver(ctx context.Context, req RegisterDriverRequest) (*domain.Driver, error) {
	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	driver := &domain.Driver{
		ID:      id,
		Name:    req.Name,
		Phone:   req.Phone,
		Vehicle: req.Vehicle,
		Rating:  req.Rating,
		Status:  domain.DriverStatusOffline,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, fmt.Errorf("failed to register driver %s: %w", id, err)
	}
	s.registry.Upsert(*driver)
	return driver, nil
}

// UpdateLocationRequest contains the parameters for updating driver location.
type UpdateLocationRequest struct {
	DriverID string
	Lat      float64
	Lng      float64
	At       time.Time
}

// UpdateLocation records a location push and brings an offline driver ONLINE.
// Unknown drivers are enrolled with an empty profile.
func (s *DriverService) UpdateLocation(ctx context.Context, req UpdateLocationRequest) (*domain.Driver, error) {
	if req.DriverID == "" {
		return nil, ErrInvalidDriverID
	}
	point := domain.GeoPoint{Lat: req.Lat, Lng: req.Lng}
	if !point.Valid() {
		return nil, ErrInvalidCoordinate
	}
	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	if _, ok := s.registry.Get(req.DriverID); !ok {
		if err := s.enroll(ctx, req.DriverID); err != nil {
			return nil, err
		}
	}

	s.registry.UpdateLocation(req.DriverID, point, at)

	driver, _ := s.registry.Get(req.DriverID)
	if driver.Status == domain.DriverStatusOffline {
		if err := s.setStatus(ctx, req.DriverID, domain.DriverStatusOnline); err != nil {
			return nil, err
		}
		driver.Status = domain.DriverStatusOnline
	}

	if s.locationStore != nil {
		if err := s.locationStore.UpdateLocation(ctx, req.DriverID, req.Lat, req.Lng); err != nil {
			s.log.WithError(err).WithField("driver_id", req.DriverID).Warn("failed to mirror driver location")
		}
	}
	return &driver, nil
}

// SetAvailability toggles whether the driver receives ride requests.
// A driver on a trip stays ON_TRIP until the ride ends.
func (s *DriverService) SetAvailability(ctx context.Context, driverID string, available bool) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	driver, ok := s.registry.Get(driverID)
	if !ok {
		return nil, ErrDriverNotFound
	}

	status := domain.DriverStatusOffline
	if available {
		status = domain.DriverStatusOnline
	}
	if driver.Status == domain.DriverStatusOnTrip {
		return &driver, nil
	}

	if err := s.setStatus(ctx, driverID, status); err != nil {
		return nil, err
	}
	driver.Status = status

	if !available && s.locationStore != nil {
		if err := s.locationStore.RemoveLocation(ctx, driverID); err != nil {
			s.log.WithError(err).WithField("driver_id", driverID).Warn("failed to remove mirrored location")
		}
	}
	return &driver, nil
}

// SetOnTrip marks the driver busy or free when a ride is accepted or ends.
func (s *DriverService) SetOnTrip(ctx context.Context, driverID string, onTrip bool) error {
	driver, ok := s.registry.Get(driverID)
	if !ok {
		return ErrDriverNotFound
	}
	status := domain.DriverStatusOnline
	if onTrip {
		status = domain.DriverStatusOnTrip
	} else if driver.Status != domain.DriverStatusOnTrip {
		return nil
	}
	return s.setStatus(ctx, driverID, status)
}

// OnTrip reports whether the driver is currently serving a ride.
func (s *DriverService) OnTrip(driverID string) bool {
	driver, ok := s.registry.Get(driverID)
	return ok && driver.Status == domain.DriverStatusOnTrip
}

// GetDriver returns the driver's live state.
func (s *DriverService) GetDriver(ctx context.Context, driverID string) (*domain.Driver, error) {
	if driverID == "" {
		return nil, ErrInvalidDriverID
	}
	driver, ok := s.registry.Get(driverID)
	if !ok {
		return nil, ErrDriverNotFound
	}
	return &driver, nil
}

// Restore rebuilds the registry from stored profiles and mirrored locations.
func (s *DriverService) Restore(ctx context.Context) error {
	drivers, err := s.driverRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load drivers: %w", err)
	}
	for _, d := range drivers {
		s.registry.Upsert(*d)
	}

	if s.locationStore == nil {
		return nil
	}
	positions, err := s.locationStore.Positions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mirrored locations: %w", err)
	}
	now := s.now()
	restored := 0
	for _, p := range positions {
		if s.registry.UpdateLocation(p.DriverID, domain.GeoPoint{Lat: p.Lat, Lng: p.Lng}, now) {
			restored++
		}
	}
	s.log.WithFields(logrus.Fields{"drivers": len(drivers), "locations": restored}).Info("driver registry restored")
	return nil
}

func (s *DriverService) enroll(ctx context.Context, driverID string) error {
	stored, err := s.driverRepo.GetByID(ctx, driverID)
	switch {
	case err == nil:
		s.registry.Upsert(*stored)
		return nil
	case !errors.Is(err, repository.ErrNotFound):
		return err
	}

	driver := &domain.Driver{ID: driverID, Status: domain.DriverStatusOffline}
	if err := s.driverRepo.Create(ctx, driver); err != nil && !errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("failed to enroll driver %s: %w", driverID, err)
	}
	s.registry.Upsert(*driver)
	return nil
}

func (s *DriverService) setStatus(ctx context.Context, driverID string, status domain.DriverStatus) error {
	if err := s.driverRepo.UpdateStatus(ctx, driverID, status); err != nil {
		return fmt.Errorf("failed to update driver %s status: %w", driverID, err)
	}
	s.registry.SetStatus(driverID, status)
	return nil
}
