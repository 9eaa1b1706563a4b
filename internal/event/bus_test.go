package event

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/Iron-Ham/greeter/internal/logging"
)

func recognized(name string) Event {
	return Event{Kind: Recognized, Subject: name, Confidence: 0.9, Cycle: 1}
}

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(Recognized, func(Event) error {
		called = true
		return nil
	})

	if id == 0 {
		t.Error("Subscribe should return a non-zero ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}
	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_PublishFiltersByKind(t *testing.T) {
	bus := NewBus(nil)

	var got []Kind
	bus.Subscribe(Departed, func(e Event) error {
		got = append(got, e.Kind)
		return nil
	})

	bus.Publish(recognized("Alice"))
	bus.Publish(Event{Kind: Departed, Subject: "Alice"})

	if len(got) != 1 || got[0] != Departed {
		t.Errorf("handler received %v, want [departed]", got)
	}
}

func TestBus_RegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(Event) error { order = append(order, "all-1"); return nil })
	bus.Subscribe(Recognized, func(Event) error { order = append(order, "rec"); return nil })
	bus.SubscribeAll(func(Event) error { order = append(order, "all-2"); return nil })

	bus.Publish(recognized("Alice"))

	want := "all-1,rec,all-2"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := 0
	id := bus.Subscribe(Recognized, func(Event) error { calls++; return nil })

	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return true for an existing subscription")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return false the second time")
	}

	bus.Publish(recognized("Alice"))
	if calls != 0 {
		t.Errorf("unsubscribed handler called %d times", calls)
	}
}

func TestBus_HandlerIsolation(t *testing.T) {
	var logs bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&logs, logging.LevelDebug))

	var reached []string
	bus.Subscribe(Recognized, func(Event) error { panic("boom") })
	bus.Subscribe(Recognized, func(Event) error { return errors.New("handler error") })
	bus.Subscribe(Recognized, func(e Event) error {
		reached = append(reached, e.Subject)
		return nil
	})

	failed := bus.Publish(recognized("Alice"))
	if failed != 2 {
		t.Errorf("Publish() failed = %d, want 2", failed)
	}
	if len(reached) != 1 {
		t.Error("handler after the failing ones should still run")
	}

	bus.Publish(recognized("Bob"))
	if len(reached) != 2 {
		t.Error("later publishes should still reach healthy handlers")
	}
	if bus.Failures() != 4 {
		t.Errorf("Failures() = %d, want 4", bus.Failures())
	}
	if !strings.Contains(logs.String(), "handler panicked: boom") {
		t.Errorf("panic not logged: %s", logs.String())
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(Recognized, func(Event) error { return nil })
	bus.SubscribeAll(func(Event) error { return nil })

	bus.Clear()
	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after Clear", bus.SubscriptionCount())
	}
}

func TestBus_ConcurrentAccess(t *testing.T) {
	bus := NewBus(nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := bus.SubscribeAll(func(Event) error { return nil })
			bus.Unsubscribe(id)
		}()
		go func() {
			defer wg.Done()
			bus.Publish(recognized("Alice"))
		}()
	}
	wg.Wait()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", bus.SubscriptionCount())
	}
}

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{Recognized, "recognized"},
		{Unknown, "unknown"},
		{Departed, "departed"},
		{NoSubjects, "no_subjects"},
		{Kind(42), "kind(42)"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds() {
		got, err := ParseKind(strings.ToUpper(k.String()))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("waved"); err == nil {
		t.Error("ParseKind should reject unknown names")
	}

	var k Kind
	if err := k.UnmarshalText([]byte("departed")); err != nil || k != Departed {
		t.Errorf("UnmarshalText = %v, %v", k, err)
	}
}
