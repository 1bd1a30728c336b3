package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"rideflow/internal/domain"
)

// Handshake headers carrying the actor identity.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

const defaultWriteTimeout = 5 * time.Second

// WebSocketTransport dials the server's event endpoint.
type WebSocketTransport struct {
	url          string
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWebSocketTransport creates a transport for url, e.g. ws://host/v1/events/ws.
func NewWebSocketTransport(url string, writeTimeout time.Duration) *WebSocketTransport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &WebSocketTransport{
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		writeTimeout: writeTimeout,
	}
}

// Dial opens a websocket. A 4xx handshake response is reported as ErrRejected.
func (t *WebSocketTransport) Dial(ctx context.Context, identity domain.Identity) (Conn, error) {
	header := http.Header{}
	header.Set(HeaderActorID, identity.ActorID)
	header.Set(HeaderActorRole, string(identity.Role))
	if identity.Credential != "" {
		header.Set("Authorization", "Bearer "+identity.Credential)
	}

	conn, resp, err := t.dialer.DialContext(ctx, t.url, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("%w: %s", ErrRejected, resp.Status)
		}
		return nil, fmt.Errorf("failed to dial %s: %w", t.url, err)
	}
	return &wsConn{conn: conn, writeTimeout: t.writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	writeMu      sync.Mutex
	closeOnce    sync.Once
}

func (c *wsConn) Read() (domain.Event, error) {
	var event domain.Event
	if err := c.conn.ReadJSON(&event); err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

func (c *wsConn) Write(ctx context.Context, event domain.Event) error {
	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(event)
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
