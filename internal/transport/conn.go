package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/instrument-station/internal/protocol"
)

// DefaultTimeout bounds one request when DialOptions.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// DialOptions configures a client connection.
type DialOptions struct {
	// Token is sent as an Authorization bearer token when non-empty.
	Token string

	// Timeout bounds each request round trip and the dial handshake.
	Timeout time.Duration
}

// Conn is the client side of the request channel.
//
// Requests carry a fresh UUID and replies are matched by it, so Do may be
// called from several goroutines. A timed-out request leaves the
// connection marked broken; the next Do redials.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Conn struct {
	url     string
	header  http.Header
	timeout time.Duration
	dialer  *websocket.Dialer

	mu     sync.Mutex
	cur    *link
	closed bool
}

// link is one underlying WebSocket connection and its in-flight requests.
type link struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	broken  bool
}

// Dial connects to a station's request channel.
//
// Parameters:
//   - ctx: Bounds the initial handshake
//   - url: WebSocket URL (e.g., "ws://localhost:5555/ws")
//   - opts: Token and per-request timeout
//
// Returns:
//   - *Conn: Connected client
//   - error: ErrUnauthorized, or a wrapped ErrConnectionBroken
func Dial(ctx context.Context, url string, opts DialOptions) (*Conn, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	c := &Conn{
		url:     url,
		header:  header,
		timeout: timeout,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			Proxy:            http.ProxyFromEnvironment,
		},
	}
	if _, err := c.connection(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// URL returns the address the connection dials.
func (c *Conn) URL() string { return c.url }

// Do sends one instruction and waits for its reply.
//
// Remote failures come back inside the Response; the returned error covers
// only transport problems: ErrServerTimeout when no reply arrives in time,
// ErrConnectionBroken when the connection drops, ErrClosed after Close,
// or the context's error on cancellation.
func (c *Conn) Do(ctx context.Context, in protocol.Instruction) (protocol.Response, error) {
	l, err := c.connection(ctx)
	if err != nil {
		return protocol.Response{}, err
	}

	id := uuid.NewString()
	frame, err := protocol.EncodeRequest(id, in)
	if err != nil {
		return protocol.Response{}, err
	}

	ch := l.register(id)
	defer l.forget(id)

	deadline := time.Now().Add(c.timeout)
	if err := l.write(frame, deadline); err != nil {
		l.fail()
		return protocol.Response{}, fmt.Errorf("%w: %w", ErrConnectionBroken, err)
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return protocol.Response{}, ErrConnectionBroken
		}
		return resp, nil
	case <-timer.C:
		l.fail()
		return protocol.Response{}, fmt.Errorf("%w: no reply within %v", ErrServerTimeout, c.timeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			l.fail()
			return protocol.Response{}, fmt.Errorf("%w: %w", ErrServerTimeout, ctx.Err())
		}
		// The late reply will find no pending entry and be dropped.
		return protocol.Response{}, ctx.Err()
	}
}

// Close shuts the connection. Further calls to Do return ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.cur != nil {
		c.cur.fail()
		c.cur = nil
	}
	return nil
}

// connection returns the live link, redialling if the last one broke.
func (c *Conn) connection(ctx context.Context) (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.cur != nil && !c.cur.isBroken() {
		return c.cur, nil
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: dialling %s: %w", ErrConnectionBroken, c.url, err)
	}

	l := &link{ws: ws, pending: make(map[string]chan protocol.Response)}
	c.cur = l
	go l.readLoop()
	return l, nil
}

func (l *link) readLoop() {
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			l.fail()
			return
		}
		id, resp, err := protocol.DecodeReply(data)
		if err != nil {
			continue
		}
		l.resolve(id, resp)
	}
}

func (l *link) write(frame []byte, deadline time.Time) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	l.ws.SetWriteDeadline(deadline)
	return l.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (l *link) register(id string) chan protocol.Response {
	ch := make(chan protocol.Response, 1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken {
		close(ch)
		return ch
	}
	l.pending[id] = ch
	return ch
}

func (l *link) forget(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *link) resolve(id string, resp protocol.Response) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ch, ok := l.pending[id]; ok {
		delete(l.pending, id)
		ch <- resp // buffered; never blocks
	}
}

// fail closes the socket and wakes every waiter. Idempotent.
func (l *link) fail() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.broken {
		return
	}
	l.broken = true
	l.ws.Close()
	for id, ch := range l.pending {
		close(ch)
		delete(l.pending, id)
	}
}

func (l *link) isBroken() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.broken
}
