package hub

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"rideflow/internal/channel"
	"rideflow/internal/domain"
	"rideflow/internal/service"
)

const (
	writeTimeout = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	maxMessage   = 64 * 1024
)

// EventApplier applies inbound lifecycle events.
type EventApplier interface {
	ApplyEvent(ctx context.Context, event domain.Event) (service.TransitionResult, error)
}

// LocationUpdater records driver location pushes.
type LocationUpdater interface {
	UpdateLocation(ctx context.Context, req service.UpdateLocationRequest) (*domain.Driver, error)
}

// RideReader looks up rides to forward live driver positions to riders.
type RideReader interface {
	GetRide(ctx context.Context, rideID string) (*domain.Ride, error)
}

// Ensure the services implement the endpoint's dependencies.
var (
	_ EventApplier    = (*service.RideController)(nil)
	_ LocationUpdater = (*service.DriverService)(nil)
	_ RideReader      = (*service.RideController)(nil)
)

// Endpoint upgrades actors to websockets and feeds their events to the services.
type Endpoint struct {
	hub      *Hub
	rides    EventApplier
	reader   RideReader
	drivers  LocationUpdater
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

// NewEndpoint creates a new Endpoint.
func NewEndpoint(hub *Hub, rides EventApplier, reader RideReader, drivers LocationUpdater, log logrus.FieldLogger) *Endpoint {
	return &Endpoint{
		hub:     hub,
		rides:   rides,
		reader:  reader,
		drivers: drivers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeWS handles GET /v1/events/ws. The caller identifies itself with the
// X-Actor-ID and X-Actor-Role headers; the bearer credential is opaque here.
func (e *Endpoint) ServeWS(c *gin.Context) {
	identity := domain.Identity{
		ActorID: c.GetHeader(channel.HeaderActorID),
		Role:    domain.Role(c.GetHeader(channel.HeaderActorRole)),
	}
	if identity.ActorID == "" || !identity.Role.Valid() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid actor identity"})
		return
	}

	conn, err := e.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		e.log.WithError(err).WithField("actor_id", identity.ActorID).Warn("ws upgrade failed")
		return
	}

	cl := &client{
		identity: identity,
		conn:     conn,
		send:     make(chan domain.Event, sendBuffer),
		done:     make(chan struct{}),
	}
	e.hub.register(cl)
	defer e.hub.unregister(cl)

	go e.writePump(cl)
	e.readPump(c.Request.Context(), cl)
}

func (e *Endpoint) readPump(ctx context.Context, cl *client) {
	cl.conn.SetReadLimit(maxMessage)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Inbound handling must outlive the upgrade request's context.
	ctx = context.WithoutCancel(ctx)
	for {
		var event domain.Event
		if err := cl.conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				e.log.WithError(err).WithField("actor_id", cl.identity.ActorID).Warn("ws read failed")
			}
			return
		}
		_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
		e.handle(ctx, cl.identity, event)
	}
}

func (e *Endpoint) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-cl.done:
			return
		case event := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := cl.conn.WriteJSON(event); err != nil {
				e.log.WithError(err).WithField("actor_id", cl.identity.ActorID).Warn("ws write failed")
				cl.close()
				return
			}
		case <-ticker.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				cl.close()
				return
			}
		}
	}
}

// handle dispatches one inbound event. Actors speak only for themselves:
// the driver id and canceller are taken from the connection identity.
func (e *Endpoint) handle(ctx context.Context, identity domain.Identity, event domain.Event) {
	logger := e.log.WithFields(logrus.Fields{
		"actor_id":   identity.ActorID,
		"role":       identity.Role,
		"event_type": event.Type,
		"ride_id":    event.RideID,
	})
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	switch event.Type {
	case domain.EventDriverLocation:
		if identity.Role != domain.RoleDriver {
			logger.Warn("event not allowed for role")
			return
		}
		e.handleLocation(ctx, identity, event, logger)
		return

	case domain.EventAccept, domain.EventArrive, domain.EventStart, domain.EventComplete:
		if identity.Role != domain.RoleDriver {
			logger.Warn("event not allowed for role")
			return
		}
		event.Payload[domain.PayloadDriverID] = identity.ActorID

	case domain.EventCancel:
		event.Payload[domain.PayloadCancelledBy] = identity.ActorID
		if identity.Role == domain.RoleDriver {
			event.Payload[domain.PayloadDriverID] = identity.ActorID
		}

	default:
		logger.Warn("unsupported inbound event dropped")
		return
	}

	if _, err := e.rides.ApplyEvent(ctx, event); err != nil {
		logger.WithError(err).Error("failed to apply event")
	}
}

func (e *Endpoint) handleLocation(ctx context.Context, identity domain.Identity, event domain.Event, logger logrus.FieldLogger) {
	lat, okLat := event.Float(domain.PayloadLat)
	lng, okLng := event.Float(domain.PayloadLng)
	if !okLat || !okLng {
		logger.Warn("driver location without coordinates dropped")
		return
	}

	if _, err := e.drivers.UpdateLocation(ctx, service.UpdateLocationRequest{
		DriverID: identity.ActorID,
		Lat:      lat,
		Lng:      lng,
		At:       event.SentAt,
	}); err != nil {
		logger.WithError(err).Warn("driver location rejected")
		return
	}

	// Forward the position to the rider of the driver's current ride.
	if event.RideID == "" || e.reader == nil {
		return
	}
	ride, err := e.reader.GetRide(ctx, event.RideID)
	if err != nil || ride.DriverID != identity.ActorID || ride.Status.IsTerminal() {
		return
	}
	at := event.SentAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	forward := domain.NewEvent(domain.EventDriverLocation, ride.ID, map[string]any{
		domain.PayloadDriverID: identity.ActorID,
		domain.PayloadLat:      lat,
		domain.PayloadLng:      lng,
	}, at)
	if err := e.hub.SendTo(ctx, []string{ride.RiderID}, forward); err != nil {
		logger.WithError(err).Warn("failed to forward driver location")
	}
}
