// Package remote is a small request/ack client for websocket daemons that
// drive hardware or speech on behalf of the greeter.
//
// Each call sends one JSON request and blocks until the daemon answers with
// an ack carrying the same id. Calls are serialized over a single connection
// which is dialed lazily and redialed after any transport failure.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/logging"
)

// DefaultTimeout bounds a call whose context carries no deadline.
const DefaultTimeout = 5 * time.Second

// Request is the wire form of a call.
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Ack is the daemon's answer to a Request.
type Ack struct {
	ID    string `json:"id"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Client talks to one websocket endpoint.
type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	timeout time.Duration
	logger  *logging.Logger
	newID   func() string

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithTimeout sets the per-call timeout used when the context has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHeader adds headers sent on dial.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h.Clone() }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// NewClient creates a client for url. No connection is made until the first call.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		timeout: DefaultTimeout,
		logger:  logging.NopLogger(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("remote").With("url", url)
	return c
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string {
	return c.url
}

// Call sends a request of the given type and waits for its ack. A negative ack
// is returned as an error matching errors.ErrRejected; transport failures drop
// the connection so the next call redials.
func (c *Client) Call(ctx context.Context, typ string, payload any) error {
	req := Request{ID: c.newID(), Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", typ, err)
		}
		req.Payload = raw
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	conn, err := c.connectLocked(ctx)
	if err != nil {
		return err
	}

	ack, err := c.roundTrip(ctx, conn, req)
	if err != nil {
		c.dropLocked()
		switch ctxErr := ctx.Err(); {
		case errors.Is(ctxErr, context.DeadlineExceeded):
			return errors.NewTimeoutError(typ, c.timeout).WithCause(ctxErr)
		case ctxErr != nil:
			return fmt.Errorf("%s call: %w", typ, ctxErr)
		}
		return fmt.Errorf("%s call: %w", typ, err)
	}
	if !ack.OK {
		msg := ack.Error
		if msg == "" {
			msg = "no reason given"
		}
		return fmt.Errorf("%s: %s: %w", typ, msg, errors.ErrRejected)
	}
	return nil
}

func (c *Client) connectLocked(ctx context.Context) (*websocket.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)
		}
		c.logger.Warn("remote dial failed", "error", err)
		return nil, fmt.Errorf("%w: %w", errors.ErrNotConnected, err)
	}
	c.logger.Debug("remote connected")
	c.conn = conn
	return conn, nil
}

// roundTrip writes req and reads acks until one matches its id. Acks for
// earlier calls that timed out are discarded.
func (c *Client) roundTrip(ctx context.Context, conn *websocket.Conn, req Request) (Ack, error) {
	deadline, _ := ctx.Deadline()
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	// Deadlines alone do not observe cancellation.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := conn.WriteJSON(req); err != nil {
		return Ack{}, fmt.Errorf("write request: %w", err)
	}

	for {
		var ack Ack
		if err := conn.ReadJSON(&ack); err != nil {
			return Ack{}, fmt.Errorf("read ack: %w", err)
		}
		if ack.ID == req.ID {
			return ack, nil
		}
		c.logger.Debug("discarding stale ack", "ack_id", ack.ID, "want_id", req.ID)
	}
}

func (c *Client) dropLocked() {
	if c.conn == nil {
		return
	}
	_ = c.conn.Close()
	c.conn = nil
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close sends a close frame and releases the connection. Later calls fail
// with errors.ErrNotConnected.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}
