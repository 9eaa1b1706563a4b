package behavior

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

// Built-in behavior names.
const (
	GreetingWave    = "greeting_wave"
	CuriousTilt     = "curious_tilt"
	UnknownGreeting = "unknown_greeting"
	UnknownCurious  = "unknown_curious"
	Neutral         = "neutral"
	IdleDriftName   = "idle_drift"
)

// IdleDriftPriority is the lowest priority in the library so any other
// behavior preempts drift.
const IdleDriftPriority = 1

// Library is a named set of behaviors. It is safe for concurrent use.
type Library struct {
	mu        sync.RWMutex
	behaviors map[string]*Behavior
}

// NewLibrary returns an empty library.
func NewLibrary() *Library {
	return &Library{behaviors: make(map[string]*Behavior)}
}

// DefaultLibrary returns a library holding the built-in gestures.
func DefaultLibrary() *Library {
	l := NewLibrary()
	for _, b := range builtins() {
		l.behaviors[b.Name] = b
	}
	return l
}

// Add validates b and stores it, replacing any behavior of the same name.
func (l *Library) Add(b *Behavior) error {
	if err := b.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.behaviors[b.Name] = b
	return nil
}

// Get looks a behavior up by name.
func (l *Library) Get(name string) (*Behavior, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.behaviors[name]
	return b, ok
}

// MustGet is Get for names known to be present, such as the built-ins.
func (l *Library) MustGet(name string) *Behavior {
	b, ok := l.Get(name)
	if !ok {
		panic(fmt.Sprintf("behavior %q not in library", name))
	}
	return b
}

// Names returns the library's behavior names in sorted order.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.behaviors))
	for n := range l.behaviors {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Len reports the number of behaviors.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.behaviors)
}

// ApplyPriorities overrides priorities by behavior name. Stored behaviors are
// replaced with copies so values already handed out stay unchanged. Unknown
// names and out-of-range priorities are reported without applying anything.
func (l *Library) ApplyPriorities(priorities map[string]int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for name, p := range priorities {
		if _, ok := l.behaviors[name]; !ok {
			return fmt.Errorf("priority override for unknown behavior %q", name)
		}
		if p < MinPriority || p > MaxPriority {
			return fmt.Errorf("priority %d for %q must be between %d and %d", p, name, MinPriority, MaxPriority)
		}
	}
	for name, p := range priorities {
		l.behaviors[name] = l.behaviors[name].WithPriority(p)
	}
	return nil
}

// Merge adds every behavior of other, replacing same-named entries.
func (l *Library) Merge(other *Library) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, b := range other.behaviors {
		l.behaviors[name] = b
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func hold(roll, pitch float64, d time.Duration) Step {
	return Step{Pose: Pose{Roll: roll, Pitch: pitch}, Hold: d, Wait: true}
}

func builtins() []*Behavior {
	return []*Behavior{
		{
			Name: GreetingWave,
			Steps: []Step{
				hold(0, 0, ms(300)),
				hold(15, -5, ms(300)),
				hold(-15, -5, ms(300)),
				hold(0, 0, ms(300)),
			},
			Priority: 8,
		},
		{
			Name: CuriousTilt,
			Steps: []Step{
				hold(-12, 8, ms(600)),
				hold(-12, 8, ms(400)),
				hold(0, 0, ms(500)),
			},
			Interruptible: true,
			Priority:      6,
		},
		{
			Name: UnknownGreeting,
			Steps: []Step{
				hold(0, 0, ms(300)),
				hold(10, -8, ms(500)),
				hold(10, -8, ms(300)),
				hold(0, -5, ms(400)),
				hold(0, 0, ms(300)),
			},
			Priority: 7,
		},
		{
			Name: UnknownCurious,
			Steps: []Step{
				hold(-15, 10, ms(500)),
				hold(-15, 10, ms(500)),
				hold(15, 10, ms(500)),
				hold(15, 10, ms(400)),
				hold(0, -8, ms(500)),
				hold(0, 0, ms(300)),
			},
			Interruptible: true,
			Priority:      6,
		},
		{
			Name:          Neutral,
			Steps:         []Step{hold(0, 0, ms(500))},
			Interruptible: true,
			Priority:      3,
		},
	}
}

// IdleDrift builds a fresh randomized drift: a small wander followed by a
// smaller settle, each lasting two to four seconds. Steps do not wait, so
// the actuator interpolates while the scheduler is already free.
func IdleDrift(rng *rand.Rand) *Behavior {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	uniform := func(lim float64) float64 { return (rng.Float64()*2 - 1) * lim }
	d := 2*time.Second + time.Duration(rng.Int64N(int64(2*time.Second)))

	return &Behavior{
		Name: IdleDriftName,
		Steps: []Step{
			{Pose: Pose{Roll: uniform(5), Pitch: uniform(5), Yaw: uniform(10)}, Hold: d},
			{Pose: Pose{Roll: uniform(2), Pitch: uniform(2), Yaw: uniform(5)}, Hold: d},
		},
		Interruptible: true,
		Priority:      IdleDriftPriority,
	}
}
