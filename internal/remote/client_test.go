package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/greeter/internal/errors"
)

// daemon is a scripted websocket peer. reply decides the acks sent for each
// request, in order.
type daemon struct {
	mu       sync.Mutex
	requests []Request
	dials    atomic.Int32
	reply    func(Request) []Ack
}

func newDaemon(t *testing.T, reply func(Request) []Ack) (*daemon, string) {
	t.Helper()
	d := &daemon{reply: reply}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		d.dials.Add(1)
		defer conn.Close()
		for {
			var req Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			d.mu.Lock()
			d.requests = append(d.requests, req)
			d.mu.Unlock()
			for _, ack := range d.reply(req) {
				if err := conn.WriteJSON(ack); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(server.Close)

	return d, "ws" + strings.TrimPrefix(server.URL, "http")
}

func (d *daemon) received() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

func okAck(req Request) []Ack { return []Ack{{ID: req.ID, OK: true}} }

func TestClient_CallSendsRequestAndWaitsForAck(t *testing.T) {
	d, url := newDaemon(t, okAck)
	c := NewClient(url)
	defer c.Close()

	assert.False(t, c.Connected(), "client should dial lazily")

	err := c.Call(context.Background(), "pose", map[string]float64{"roll": 15})
	require.NoError(t, err)
	assert.True(t, c.Connected())

	reqs := d.received()
	require.Len(t, reqs, 1)
	assert.Equal(t, "pose", reqs[0].Type)
	assert.NotEmpty(t, reqs[0].ID)

	var payload map[string]float64
	require.NoError(t, json.Unmarshal(reqs[0].Payload, &payload))
	assert.Equal(t, 15.0, payload["roll"])
}

func TestClient_ReusesConnection(t *testing.T) {
	d, url := newDaemon(t, okAck)
	c := NewClient(url)
	defer c.Close()

	for range 3 {
		require.NoError(t, c.Call(context.Background(), "ping", nil))
	}
	assert.Equal(t, int32(1), d.dials.Load())
	assert.Len(t, d.received(), 3)
}

func TestClient_NegativeAck(t *testing.T) {
	_, url := newDaemon(t, func(req Request) []Ack {
		return []Ack{{ID: req.ID, OK: false, Error: "motor fault"}}
	})
	c := NewClient(url)
	defer c.Close()

	err := c.Call(context.Background(), "pose", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRejected)
	assert.Contains(t, err.Error(), "motor fault")
	assert.True(t, c.Connected(), "a rejection is not a transport failure")
}

func TestClient_SkipsStaleAcks(t *testing.T) {
	_, url := newDaemon(t, func(req Request) []Ack {
		return []Ack{
			{ID: "left-over", OK: false, Error: "late answer"},
			{ID: req.ID, OK: true},
		}
	})
	c := NewClient(url)
	defer c.Close()

	require.NoError(t, c.Call(context.Background(), "ping", nil))
	require.NoError(t, c.Call(context.Background(), "ping", nil))
}

func TestClient_TimeoutDropsConnection(t *testing.T) {
	var calls atomic.Int32
	d, url := newDaemon(t, func(req Request) []Ack {
		if calls.Add(1) == 1 {
			return nil
		}
		return okAck(req)
	})
	c := NewClient(url, WithTimeout(100*time.Millisecond))
	defer c.Close()

	start := time.Now()
	err := c.Call(context.Background(), "pose", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTimeout)
	assert.True(t, errors.IsRetryable(err))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, c.Connected())

	require.NoError(t, c.Call(context.Background(), "pose", nil))
	assert.Equal(t, int32(2), d.dials.Load(), "second call should redial")
}

func TestClient_CancelledContext(t *testing.T) {
	_, url := newDaemon(t, func(Request) []Ack { return nil })
	c := NewClient(url)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := c.Call(ctx, "speak", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_DialFailure(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/none", WithTimeout(500*time.Millisecond))
	defer c.Close()

	err := c.Call(context.Background(), "pose", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsRetryable(err))
}

func TestClient_ClosedClient(t *testing.T) {
	_, url := newDaemon(t, okAck)
	c := NewClient(url)
	require.NoError(t, c.Call(context.Background(), "ping", nil))
	require.NoError(t, c.Close())

	err := c.Call(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.Equal(t, url, c.URL())
}

func TestClient_ConcurrentCallsAreSerialized(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	d, url := newDaemon(t, func(req Request) []Ack {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return okAck(req)
	})
	c := NewClient(url)
	defer c.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Call(context.Background(), "ping", nil))
		}()
	}
	wg.Wait()

	assert.Len(t, d.received(), 10)
	assert.Equal(t, int32(1), maxInFlight.Load())
}
