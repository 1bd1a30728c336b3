package channel

import (
	"context"
	"io"
	"sync"

	"rideflow/internal/domain"
)

const pipeBuffer = 64

// PipeTransport connects channels to in-process peers. Every successful Dial
// hands the server end of the new pipe to Peers.
type PipeTransport struct {
	mu       sync.Mutex
	failures int
	dialErr  error
	dials    int

	peers chan *PipePeer
}

// NewPipeTransport creates a new PipeTransport.
func NewPipeTransport() *PipeTransport {
	return &PipeTransport{peers: make(chan *PipePeer, pipeBuffer)}
}

// FailNext makes the next n dials return err.
func (t *PipeTransport) FailNext(n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = n
	t.dialErr = err
}

// Dials returns how many dials were attempted.
func (t *PipeTransport) Dials() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// Peers delivers the server end of each connection.
func (t *PipeTransport) Peers() <-chan *PipePeer {
	return t.peers
}

// Dial opens a new pipe.
func (t *PipeTransport) Dial(ctx context.Context, identity domain.Identity) (Conn, error) {
	t.mu.Lock()
	t.dials++
	if t.failures > 0 {
		t.failures--
		err := t.dialErr
		t.mu.Unlock()
		return nil, err
	}
	t.mu.Unlock()

	toClient := make(chan domain.Event, pipeBuffer)
	toServer := make(chan domain.Event, pipeBuffer)
	p := &pipe{closed: make(chan struct{})}

	peer := &PipePeer{Identity: identity, in: toServer, out: toClient, pipe: p}
	select {
	case t.peers <- peer:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pipeConn{in: toClient, out: toServer, pipe: p}, nil
}

type pipe struct {
	once   sync.Once
	closed chan struct{}
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.closed) })
}

type pipeConn struct {
	in   <-chan domain.Event
	out  chan<- domain.Event
	pipe *pipe
}

func (c *pipeConn) Read() (domain.Event, error) {
	return recv(context.Background(), c.in, c.pipe)
}

func (c *pipeConn) Write(ctx context.Context, event domain.Event) error {
	return send(ctx, c.out, c.pipe, event)
}

func (c *pipeConn) Close() error {
	c.pipe.close()
	return nil
}

// PipePeer is the server end of a pipe.
type PipePeer struct {
	Identity domain.Identity

	in   <-chan domain.Event
	out  chan<- domain.Event
	pipe *pipe
}

// Send delivers event to the client.
func (p *PipePeer) Send(ctx context.Context, event domain.Event) error {
	return send(ctx, p.out, p.pipe, event)
}

// Receive returns the next event the client published.
func (p *PipePeer) Receive(ctx context.Context) (domain.Event, error) {
	return recv(ctx, p.in, p.pipe)
}

// Close drops the connection from the server side.
func (p *PipePeer) Close() {
	p.pipe.close()
}

func send(ctx context.Context, out chan<- domain.Event, p *pipe, event domain.Event) error {
	select {
	case <-p.closed:
		return io.ErrClosedPipe
	default:
	}
	select {
	case out <- event:
		return nil
	case <-p.closed:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func recv(ctx context.Context, in <-chan domain.Event, p *pipe) (domain.Event, error) {
	select {
	case event := <-in:
		return event, nil
	case <-p.closed:
		return domain.Event{}, io.EOF
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	}
}
