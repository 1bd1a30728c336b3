package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"rideflow/internal/domain"
)

// EventChannel is the pub/sub channel hub instances share.
const EventChannel = "rideflow:events"

// Envelope carries an outbound event and the actors it is addressed to.
type Envelope struct {
	Recipients []string     `json:"recipients"`
	Event      domain.Event `json:"event"`
}

// EventBus fans out hub envelopes between server instances.
type EventBus struct {
	client  *redis.Client
	channel string
}

// NewEventBus creates a new EventBus on EventChannel.
func NewEventBus(client *redis.Client) *EventBus {
	return &EventBus{client: client, channel: EventChannel}
}

// Publish sends env to every subscribed instance.
func (b *EventBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe delivers envelopes to handle until ctx is cancelled. ready is
// closed once the subscription is confirmed by the server.
func (b *EventBus) Subscribe(ctx context.Context, ready chan<- struct{}, handle func(Envelope)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	if ready != nil {
		close(ready)
	}

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			handle(env)
		}
	}
}
