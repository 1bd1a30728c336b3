package domain

import (
	"fmt"
	"time"
)

// EventType names a message exchanged on the real-time channel.
type EventType string

const (
	EventRequest        EventType = "request"
	EventAccept         EventType = "accept"
	EventArrive         EventType = "arrive"
	EventStart          EventType = "start"
	EventComplete       EventType = "complete"
	EventCancel         EventType = "cancel"
	EventDriverLocation EventType = "driver_location"
)

// EventWildcard subscribes a handler to every event type.
const EventWildcard EventType = "*"

// Known reports whether t is one of the wire event types.
func (t EventType) Known() bool {
	switch t {
	case EventRequest, EventAccept, EventArrive, EventStart, EventComplete, EventCancel, EventDriverLocation:
		return true
	}
	return false
}

// Payload keys carried by lifecycle events.
const (
	PayloadDriverID     = "driverId"
	PayloadReason       = "reason"
	PayloadCancelledBy  = "cancelledBy"
	PayloadLat          = "lat"
	PayloadLng          = "lng"
	PayloadCandidateIDs = "candidateDriverIds"
	PayloadRiderID      = "riderId"
	PayloadStatus       = "status"
)

// Event is the wire envelope of the real-time channel.
type Event struct {
	Type    EventType      `json:"type"`
	RideID  string         `json:"rideId,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sentAt"`
}

// NewEvent builds an event stamped with sentAt.
func NewEvent(t EventType, rideID string, payload map[string]any, sentAt time.Time) Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return Event{Type: t, RideID: rideID, Payload: payload, SentAt: sentAt}
}

// String returns the payload value under key, or "" when absent or not a string.
func (e Event) String(key string) string {
	v, ok := e.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Float returns the numeric payload value under key.
func (e Event) Float(key string) (float64, bool) {
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Strings returns a string list payload value; JSON arrays decode as []any.
func (e Event) Strings(key string) []string {
	switch v := e.Payload[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// RideEventRecord is one entry of a ride's audit trail.
type RideEventRecord struct {
	ID         string
	RideID     string
	Type       EventType
	FromStatus RideStatus
	ToStatus   RideStatus
	Actor      string
	Payload    map[string]any
	OccurredAt time.Time
}
