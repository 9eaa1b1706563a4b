package event

import "sync"

// DefaultHistorySize is the number of events kept when no size is configured.
const DefaultHistorySize = 100

// History is a fixed-capacity ring of the most recent events.
type History struct {
	mu    sync.Mutex
	buf   []Event
	start int
	n     int
}

// NewHistory creates a History holding at most size events. A non-positive
// size falls back to DefaultHistorySize.
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{buf: make([]Event, size)}
}

// Add appends e, overwriting the oldest event when full.
func (h *History) Add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = e
		h.n++
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % len(h.buf)
}

// Recent returns up to n of the newest events, oldest first. A non-positive
// n returns everything held.
func (h *History) Recent(n int) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || n > h.n {
		n = h.n
	}
	out := make([]Event, n)
	skip := h.n - n
	for i := range n {
		out[i] = h.buf[(h.start+skip+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of events held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.n
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Clear drops every event.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start, h.n = 0, 0
}
