// Package hub is the server end of the real-time channel: it keeps one
// websocket per connected actor and routes outbound ride events to them.
package hub

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"rideflow/internal/domain"
	"rideflow/internal/redis"
)

const sendBuffer = 64

// Bus fans envelopes out to every server instance, this one included.
type Bus interface {
	Publish(ctx context.Context, env redis.Envelope) error
	Subscribe(ctx context.Context, ready chan<- struct{}, handle func(redis.Envelope)) error
}

// Ensure the Redis event bus implements Bus.
var _ Bus = (*redis.EventBus)(nil)

// client is one connected actor.
type client struct {
	identity domain.Identity
	conn     *websocket.Conn
	send     chan domain.Event
	done     chan struct{}
	once     sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub stores active connections keyed by actor ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	bus     Bus
	log     logrus.FieldLogger
}

// New creates a new Hub. bus may be nil for a single instance.
func New(bus Bus, log logrus.FieldLogger) *Hub {
	return &Hub{
		clients: make(map[string]*client),
		bus:     bus,
		log:     log,
	}
}

// Publish routes event to its recipients.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	return h.SendTo(ctx, Recipients(event), event)
}

// SendTo delivers event to the given actors. With a bus configured, delivery
// happens when the envelope comes back from the bus so every instance
// reaches its own clients.
func (h *Hub) SendTo(ctx context.Context, recipients []string, event domain.Event) error {
	if len(recipients) == 0 {
		return nil
	}
	if h.bus != nil {
		if err := h.bus.Publish(ctx, redis.Envelope{Recipients: recipients, Event: event}); err != nil {
			h.deliver(recipients, event)
			return fmt.Errorf("failed to fan out %s event: %w", event.Type, err)
		}
		return nil
	}
	h.deliver(recipients, event)
	return nil
}

// Run consumes the bus until ctx is cancelled. ready is closed once the
// subscription is live. Without a bus Run returns immediately.
func (h *Hub) Run(ctx context.Context, ready chan<- struct{}) error {
	if h.bus == nil {
		if ready != nil {
			close(ready)
		}
		return nil
	}
	return h.bus.Subscribe(ctx, ready, func(env redis.Envelope) {
		h.deliver(env.Recipients, env.Event)
	})
}

// Recipients returns the actors an outbound event is addressed to: the
// candidate drivers of a request, otherwise the ride's rider and driver.
func Recipients(event domain.Event) []string {
	if event.Type == domain.EventRequest {
		return event.Strings(domain.PayloadCandidateIDs)
	}
	var out []string
	for _, key := range []string{domain.PayloadRiderID, domain.PayloadDriverID} {
		if id := event.String(key); id != "" && (len(out) == 0 || out[0] != id) {
			out = append(out, id)
		}
	}
	return out
}

// Connected reports whether actorID has a live connection on this instance.
func (h *Hub) Connected(actorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[actorID]
	return ok
}

// Len returns the number of live connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(recipients []string, event domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range recipients {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		select {
		case c.send <- event:
		default:
			h.log.WithFields(logrus.Fields{
				"actor_id":   id,
				"event_type": event.Type,
				"ride_id":    event.RideID,
			}).Warn("client send buffer full, event dropped")
		}
	}
}

// register adds c, replacing and closing any previous connection of the same actor.
func (h *Hub) register(c *client) {
	h.mu.Lock()
	old, ok := h.clients[c.identity.ActorID]
	h.clients[c.identity.ActorID] = c
	h.mu.Unlock()

	if ok {
		old.close()
	}
	h.log.WithFields(logrus.Fields{"actor_id": c.identity.ActorID, "role": c.identity.Role}).Info("ws registered")
}

// unregister removes c if it is still the actor's current connection.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.identity.ActorID]; ok && cur == c {
		delete(h.clients, c.identity.ActorID)
	}
	h.mu.Unlock()

	c.close()
	h.log.WithField("actor_id", c.identity.ActorID).Info("ws removed")
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]*client)
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
