// Package channel keeps a reconnecting, bidirectional event stream open
// between one actor and the server, independent of the wire transport.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rideflow/internal/domain"
	"rideflow/internal/retry"
)

var (
	// ErrChannelUnavailable is returned by Publish while the connection is down.
	ErrChannelUnavailable = errors.New("channel unavailable")
	// ErrNotConnected is returned by Publish before Connect or after Disconnect.
	ErrNotConnected = errors.New("channel not connected")
	// ErrRetriesExhausted is recorded once reconnection gives up.
	ErrRetriesExhausted = errors.New("channel reconnect retries exhausted")
	// ErrRejected is returned by transports when the server refuses the identity.
	ErrRejected = errors.New("connection rejected")
	// ErrInvalidIdentity is returned by Connect for an empty actor id or unknown role.
	ErrInvalidIdentity = errors.New("invalid identity")
)

// State is the lifecycle state of a Channel.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateOpen         State = "OPEN"
	StateReconnecting State = "RECONNECTING"
	StateErrored      State = "ERRORED"
	StateClosed       State = "CLOSED"
)

// ConnectError describes a failed connection attempt.
type ConnectError struct {
	Err       error
	Retryable bool
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed (retryable=%t): %v", e.Retryable, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Conn is one established transport connection.
type Conn interface {
	// Read blocks until the next inbound event. It returns an error once
	// the connection is closed from either side.
	Read() (domain.Event, error)
	Write(ctx context.Context, event domain.Event) error
	Close() error
}

// Transport opens connections on behalf of an identity.
type Transport interface {
	Dial(ctx context.Context, identity domain.Identity) (Conn, error)
}

// Handler receives inbound events.
type Handler func(event domain.Event)

// Config holds channel configuration.
type Config struct {
	// ConnectTimeout bounds each dial, including reconnects.
	ConnectTimeout time.Duration
	// Backoff controls reconnection. Backoff.MaxRetries is the number of
	// reconnect attempts after an unexpected closure.
	Backoff retry.Config
	// OnRetriesExhausted is called once reconnection gives up.
	OnRetriesExhausted func(err error)
}

// DefaultConfig returns a default channel configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		Backoff: retry.Config{
			MaxRetries: 5,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   15 * time.Second,
			Multiplier: 2,
			Jitter:     true,
		},
	}
}

// Channel is a client-side event stream. Handlers for one connection run on
// a single goroutine in the order events arrive.
type Channel struct {
	transport Transport
	cfg       Config
	log       logrus.FieldLogger

	mu       sync.Mutex
	state    State
	conn     Conn
	lastErr  error
	identity domain.Identity
	cancel   context.CancelFunc

	handlersMu sync.RWMutex
	handlers   map[domain.EventType]map[uint64]Handler
	nextID     uint64

	writeMu sync.Mutex
	now     func() time.Time
}

// New creates a new Channel in the IDLE state.
func New(transport Transport, cfg Config, log logrus.FieldLogger) *Channel {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	return &Channel{
		transport: transport,
		cfg:       cfg,
		log:       log,
		state:     StateIdle,
		handlers:  make(map[domain.EventType]map[uint64]Handler),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the error behind the latest ERRORED or RECONNECTING state.
func (c *Channel) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect opens the channel for identity. On failure the channel is left
// ERRORED and the returned *ConnectError says whether trying again can help.
// Connecting an OPEN channel is a no-op.
func (c *Channel) Connect(ctx context.Context, identity domain.Identity) error {
	if identity.ActorID == "" || !identity.Role.Valid() {
		return ErrInvalidIdentity
	}

	c.mu.Lock()
	switch c.state {
	case StateOpen:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return &ConnectError{Err: ErrChannelUnavailable, Retryable: true}
	}
	c.state = StateConnecting
	c.identity = identity
	c.lastErr = nil
	sessionCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(ctx, identity)
	if err != nil {
		cerr := &ConnectError{Err: err, Retryable: retryable(err)}
		c.mu.Lock()
		c.state = StateErrored
		c.lastErr = cerr
		c.mu.Unlock()
		cancel()
		c.log.WithError(err).WithField("actor_id", identity.ActorID).Error("channel connect failed")
		return cerr
	}

	c.mu.Lock()
	if sessionCtx.Err() != nil {
		// Disconnected while dialing.
		c.mu.Unlock()
		_ = conn.Close()
		return ErrNotConnected
	}
	c.state = StateOpen
	c.conn = conn
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"actor_id": identity.ActorID, "role": identity.Role}).Info("channel open")
	go c.run(sessionCtx, conn)
	return nil
}

// Disconnect closes the channel. Registered handlers stop receiving events
// and a fresh Connect is needed to use the channel again.
func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if c.state == StateIdle || c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.handlersMu.Lock()
	c.handlers = make(map[domain.EventType]map[uint64]Handler)
	c.handlersMu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Subscribe registers h for events of type t, or for every event when t is
// domain.EventWildcard. The returned func removes the registration and is
// safe to call more than once.
func (c *Channel) Subscribe(t domain.EventType, h Handler) (unsubscribe func()) {
	c.handlersMu.Lock()
	c.nextID++
	id := c.nextID
	if c.handlers[t] == nil {
		c.handlers[t] = make(map[uint64]Handler)
	}
	c.handlers[t][id] = h
	c.handlersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.handlersMu.Lock()
			defer c.handlersMu.Unlock()
			delete(c.handlers[t], id)
			if len(c.handlers[t]) == 0 {
				delete(c.handlers, t)
			}
		})
	}
}

// Publish sends event without waiting for any acknowledgment. It fails fast
// while the connection is down instead of queueing.
func (c *Channel) Publish(ctx context.Context, event domain.Event) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	switch state {
	case StateOpen:
	case StateIdle, StateClosed:
		return ErrNotConnected
	default:
		return ErrChannelUnavailable
	}

	if event.SentAt.IsZero() {
		event.SentAt = c.now()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.Write(ctx, event); err != nil {
		return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
	}
	return nil
}

// run reads from conn until the session ends, reconnecting after
// unexpected closures.
func (c *Channel) run(ctx context.Context, conn Conn) {
	for {
		err := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}

		c.mu.Lock()
		if c.conn != conn {
			c.mu.Unlock()
			return
		}
		c.state = StateReconnecting
		c.conn = nil
		c.lastErr = err
		c.mu.Unlock()
		_ = conn.Close()

		c.log.WithError(err).Warn("channel dropped, reconnecting")

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (c *Channel) readLoop(ctx context.Context, conn Conn) error {
	for {
		event, err := conn.Read()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.dispatch(ctx, event)
	}
}

// dispatch calls the handlers registered for the event. It stops before the
// next handler once the session ends, so a handler that disconnects is the
// last one called.
func (c *Channel) dispatch(ctx context.Context, event domain.Event) {
	c.handlersMu.RLock()
	var targets []Handler
	for _, h := range c.handlers[event.Type] {
		targets = append(targets, h)
	}
	if event.Type != domain.EventWildcard {
		for _, h := range c.handlers[domain.EventWildcard] {
			targets = append(targets, h)
		}
	}
	c.handlersMu.RUnlock()

	for _, h := range targets {
		if ctx.Err() != nil {
			return
		}
		h(event)
	}
}

// reconnect dials with backoff until it succeeds, the session ends or the
// retry budget is spent. It returns the new connection or nil.
func (c *Channel) reconnect(ctx context.Context) Conn {
	c.mu.Lock()
	identity := c.identity
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.cfg.Backoff.MaxRetries; attempt++ {
		delay := c.cfg.Backoff.Delay(attempt)
		c.log.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"delay":   delay,
		}).Warn("channel reconnect scheduled")

		if err := retry.Sleep(ctx, delay); err != nil {
			return nil
		}

		conn, err := c.dial(ctx, identity)
		if err != nil {
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.state = StateOpen
		c.conn = conn
		c.lastErr = nil
		c.mu.Unlock()

		c.log.WithField("attempt", attempt+1).Info("channel reconnected")
		return conn
	}

	if lastErr == nil {
		lastErr = c.LastError()
	}
	exhausted := fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return nil
	}
	c.state = StateErrored
	c.lastErr = exhausted
	c.mu.Unlock()

	c.log.WithError(exhausted).Error("channel gave up reconnecting")
	if c.cfg.OnRetriesExhausted != nil {
		c.cfg.OnRetriesExhausted(exhausted)
	}
	return nil
}

func (c *Channel) dial(ctx context.Context, identity domain.Identity) (Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	return c.transport.Dial(dialCtx, identity)
}

// retryable reports whether a failed dial may succeed when repeated.
func retryable(err error) bool {
	return !errors.Is(err, ErrRejected) && !errors.Is(err, ErrInvalidIdentity)
}
