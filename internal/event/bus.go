package event

import (
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Iron-Ham/greeter/internal/logging"
)

// Handler handles one event. A returned error is logged and counted as a
// handler failure; it never reaches the publisher's caller.
type Handler func(Event) error

// SubscriptionID identifies a registered handler.
type SubscriptionID uint64

type subscription struct {
	id      SubscriptionID
	kind    Kind // zero means every kind
	handler Handler
}

// Bus is a synchronous registry of event handlers. Handlers run on the
// publishing goroutine in registration order, each isolated from the others:
// a panic or error in one handler is logged and does not stop delivery.
type Bus struct {
	mu       sync.RWMutex
	subs     []subscription
	nextID   atomic.Uint64
	failures atomic.Uint64
	logger   *logging.Logger
}

// NewBus creates a new Bus. A nil logger discards handler failure logs.
func NewBus(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{logger: logger.WithComponent("event")}
}

// Subscribe registers a handler for one kind of event.
func (b *Bus) Subscribe(kind Kind, handler Handler) SubscriptionID {
	return b.add(kind, handler)
}

// SubscribeAll registers a handler for every kind of event.
func (b *Bus) SubscribeAll(handler Handler) SubscriptionID {
	return b.add(0, handler)
}

func (b *Bus) add(kind Kind, handler Handler) SubscriptionID {
	id := SubscriptionID(b.nextID.Add(1))
	b.mu.Lock()
	b.subs = append(b.subs, subscription{id: id, kind: kind, handler: handler})
	b.mu.Unlock()
	return id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id SubscriptionID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := slices.IndexFunc(b.subs, func(s subscription) bool { return s.id == id })
	if i < 0 {
		return false
	}
	b.subs = slices.Delete(b.subs, i, i+1)
	return true
}

// Publish delivers e to every matching handler and returns how many of them
// failed. Handlers registered or removed during delivery take effect on the
// next Publish.
func (b *Bus) Publish(e Event) int {
	b.mu.RLock()
	subs := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == 0 || s.kind == e.Kind {
			subs = append(subs, s)
		}
	}
	b.mu.RUnlock()

	failed := 0
	for _, s := range subs {
		if err := b.safeCall(s, e); err != nil {
			failed++
			b.failures.Add(1)
			b.logger.Error("event handler failed",
				"subscription", uint64(s.id),
				logging.KeyEvent, e.Kind.String(),
				logging.KeySubject, e.Subject,
				"error", err.Error(),
			)
		}
	}
	return failed
}

// safeCall invokes a handler, converting a panic into an error carrying the
// stack.
func (b *Bus) safeCall(s subscription, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v\n%s", r, debug.Stack())
		}
	}()
	return s.handler(e)
}

// Clear removes all subscriptions.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Failures returns the lifetime number of failed handler invocations.
func (b *Bus) Failures() uint64 {
	return b.failures.Load()
}
