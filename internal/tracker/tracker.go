// Package tracker turns a per-cycle stream of noisy identity classifications
// into debounced presence events.
//
// Each identity is debounced independently against wall-clock time taken from
// the batch: an identity is announced once it has been continuously present
// for the debounce threshold, and declared departed once it has been
// continuously absent for the departure threshold. A short gap shorter than
// the departure threshold does not end a presence run for an announced
// identity, so it is never announced twice for the same visit.
package tracker

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/logging"
)

// Observation is one classified face in one sensing cycle.
type Observation struct {
	Identity   string
	Confidence float64
	Region     *event.Region
}

// Batch is everything the classifier reported for one sensing cycle.
// At is the capture time; a zero At is replaced by the tracker clock.
type Batch struct {
	Cycle        uint64
	At           time.Time
	Observations []Observation
}

// Config holds the debounce parameters.
type Config struct {
	Debounce    time.Duration
	Departure   time.Duration
	HistorySize int
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for batches that carry no timestamp.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithBus makes the tracker publish on an existing bus instead of its own.
func WithBus(bus *event.Bus) Option {
	return func(t *Tracker) {
		t.bus = bus
	}
}

// subjectState is the per-identity run-length record.
// Invariant: consecutivePresent > 0 iff consecutiveAbsent == 0.
type subjectState struct {
	name               string
	consecutivePresent int
	consecutiveAbsent  int
	lastConfidence     float64
	lastRegion         *event.Region
	announced          bool
	firstSeen          time.Time // start of the current presence run
	lastSeen           time.Time
}

// Tracker is the debounce state machine. Submit is meant to be driven by a
// single sensing loop; concurrent Submit calls are serialized. Handlers run
// synchronously inside Submit and must not call Submit themselves.
type Tracker struct {
	cfg    Config
	logger *logging.Logger
	now    func() time.Time

	bus     *event.Bus
	history *event.History

	// submitMu serializes whole submissions (state update plus delivery) so
	// handlers observe events in cycle order.
	submitMu sync.Mutex

	mu        sync.Mutex
	subjects  map[string]*subjectState
	lastCycle uint64
	seenCycle bool
	lastKind  event.Kind
	cycles    uint64
	counts    map[event.Kind]uint64
}

// New creates a Tracker. Negative thresholds are treated as zero.
func New(cfg Config, logger *logging.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	cfg.Debounce = max(cfg.Debounce, 0)
	cfg.Departure = max(cfg.Departure, 0)

	t := &Tracker{
		cfg:      cfg,
		logger:   logger.WithComponent("tracker"),
		now:      time.Now,
		history:  event.NewHistory(cfg.HistorySize),
		subjects: make(map[string]*subjectState),
		counts:   make(map[event.Kind]uint64),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.bus == nil {
		t.bus = event.NewBus(logger)
	}

	t.logger.Info("tracker initialized",
		"debounce_ms", cfg.Debounce.Milliseconds(),
		"departure_ms", cfg.Departure.Milliseconds(),
		"history_size", t.history.Cap(),
	)
	return t
}

// Submit processes one batch and returns the events it produced, in emission
// order. A batch whose cycle is not newer than the last accepted one is
// rejected with errors.ErrStaleCycle and changes nothing; so is a batch with
// an empty identity or a confidence outside [0,1].
func (t *Tracker) Submit(b Batch) ([]event.Event, error) {
	t.submitMu.Lock()
	defer t.submitMu.Unlock()

	if err := validate(b); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.seenCycle && b.Cycle <= t.lastCycle {
		last := t.lastCycle
		t.mu.Unlock()
		t.logger.Debug("stale cycle ignored", "cycle", b.Cycle, "last_cycle", last)
		return nil, fmt.Errorf("cycle %d after %d: %w", b.Cycle, last, errors.ErrStaleCycle)
	}
	at := b.At
	if at.IsZero() {
		at = t.now()
	}
	emitted := t.advance(b.Cycle, at, dedupe(b.Observations))
	t.mu.Unlock()

	for _, e := range emitted {
		t.history.Add(e)
		t.logger.Info("event emitted",
			logging.KeyEvent, e.Kind.String(),
			logging.KeySubject, e.Subject,
			"confidence", e.Confidence,
			"cycle", e.Cycle,
		)
	}
	for _, e := range emitted {
		t.bus.Publish(e)
	}
	return emitted, nil
}

func validate(b Batch) error {
	for i, o := range b.Observations {
		if o.Identity == "" {
			return errors.NewValidationError("identity must not be empty").
				WithField(fmt.Sprintf("observations[%d].identity", i))
		}
		if o.Confidence < 0 || o.Confidence > 1 {
			return errors.NewValidationError("confidence must be within [0,1]").
				WithField(fmt.Sprintf("observations[%d].confidence", i)).
				WithValue(o.Confidence).
				WithCause(errors.ErrInvalidConfidence)
		}
	}
	return nil
}

// dedupe collapses repeated identities to their highest-confidence entry,
// keeping first-appearance order.
func dedupe(obs []Observation) []Observation {
	out := make([]Observation, 0, len(obs))
	index := make(map[string]int, len(obs))
	for _, o := range obs {
		if i, ok := index[o.Identity]; ok {
			if o.Confidence > out[i].Confidence {
				out[i] = o
			}
			continue
		}
		index[o.Identity] = len(out)
		out = append(out, o)
	}
	return out
}

// advance applies one accepted cycle. Caller holds mu.
func (t *Tracker) advance(cycle uint64, at time.Time, obs []Observation) []event.Event {
	t.lastCycle, t.seenCycle = cycle, true
	t.cycles++

	var emitted []event.Event
	emit := func(e event.Event) {
		emitted = append(emitted, e)
		t.counts[e.Kind]++
		t.lastKind = e.Kind
	}

	present := make(map[string]bool, len(obs))
	for _, o := range obs {
		present[o.Identity] = true

		s, ok := t.subjects[o.Identity]
		if !ok {
			s = &subjectState{name: o.Identity, firstSeen: at}
			t.subjects[o.Identity] = s
			t.logger.Debug("started tracking", logging.KeySubject, o.Identity, "cycle", cycle)
		} else if s.consecutivePresent == 0 && !s.announced {
			// A gap ends an unannounced run; debouncing starts over.
			s.firstSeen = at
		}
		s.consecutivePresent++
		s.consecutiveAbsent = 0
		s.lastConfidence = o.Confidence
		s.lastRegion = o.Region
		s.lastSeen = at

		if !s.announced && at.Sub(s.firstSeen) >= t.cfg.Debounce {
			s.announced = true
			kind := event.Recognized
			if o.Identity == event.UnknownIdentity {
				kind = event.Unknown
			}
			emit(event.Event{
				Kind:       kind,
				Timestamp:  at,
				Subject:    o.Identity,
				Confidence: o.Confidence,
				Region:     o.Region,
				Cycle:      cycle,
			})
		}
	}

	// Absent identities are visited in name order so emission is deterministic.
	for _, name := range slices.Sorted(maps.Keys(t.subjects)) {
		if present[name] {
			continue
		}
		s := t.subjects[name]
		s.consecutiveAbsent++
		s.consecutivePresent = 0

		if at.Sub(s.lastSeen) < t.cfg.Departure {
			continue
		}
		if s.announced {
			emit(event.Event{
				Kind:      event.Departed,
				Timestamp: at,
				Subject:   name,
				Cycle:     cycle,
			})
		} else {
			t.logger.Debug("dropped unannounced subject", logging.KeySubject, name, "cycle", cycle)
		}
		delete(t.subjects, name)
	}

	if len(obs) == 0 && len(t.subjects) == 0 && t.lastKind != event.NoSubjects {
		emit(event.Event{Kind: event.NoSubjects, Timestamp: at, Cycle: cycle})
	}
	return emitted
}

// Register subscribes handler to one kind of event.
func (t *Tracker) Register(kind event.Kind, handler event.Handler) event.SubscriptionID {
	return t.bus.Subscribe(kind, handler)
}

// RegisterAll subscribes handler to every event.
func (t *Tracker) RegisterAll(handler event.Handler) event.SubscriptionID {
	return t.bus.SubscribeAll(handler)
}

// Unregister removes a handler. It reports whether the ID was registered.
func (t *Tracker) Unregister(id event.SubscriptionID) bool {
	return t.bus.Unsubscribe(id)
}

// Recent returns up to n of the most recent events, oldest first.
func (t *Tracker) Recent(n int) []event.Event {
	return t.history.Recent(n)
}

// SubjectSnapshot is a read-only copy of one identity's tracking state.
type SubjectSnapshot struct {
	Name               string
	ConsecutivePresent int
	ConsecutiveAbsent  int
	LastConfidence     float64
	LastRegion         *event.Region
	Announced          bool
	FirstSeen          time.Time
	LastSeen           time.Time
}

// Subject returns the tracking state for name, if tracked.
func (t *Tracker) Subject(name string) (SubjectSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.subjects[name]
	if !ok {
		return SubjectSnapshot{}, false
	}
	return s.snapshot(), true
}

// Subjects returns every tracked identity sorted by name.
func (t *Tracker) Subjects() []SubjectSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SubjectSnapshot, 0, len(t.subjects))
	for _, name := range slices.Sorted(maps.Keys(t.subjects)) {
		out = append(out, t.subjects[name].snapshot())
	}
	return out
}

func (s *subjectState) snapshot() SubjectSnapshot {
	return SubjectSnapshot{
		Name:               s.name,
		ConsecutivePresent: s.consecutivePresent,
		ConsecutiveAbsent:  s.consecutiveAbsent,
		LastConfidence:     s.lastConfidence,
		LastRegion:         s.lastRegion,
		Announced:          s.announced,
		FirstSeen:          s.firstSeen,
		LastSeen:           s.lastSeen,
	}
}

// Stats is a point-in-time summary of the tracker.
type Stats struct {
	Cycles           uint64
	LastCycle        uint64
	HistorySize      int
	Tracked          int
	TrackedNames     []string
	EventCounts      map[event.Kind]uint64
	Callbacks        int
	CallbackFailures uint64

	// Accuracy report: announcements split by known and unknown identity.
	RecognizedCount uint64
	UnknownCount    uint64
	TotalEvents     uint64
}

// Stats returns a snapshot of the tracker's counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	names := slices.Sorted(maps.Keys(t.subjects))
	counts := maps.Clone(t.counts)
	st := Stats{
		Cycles:       t.cycles,
		LastCycle:    t.lastCycle,
		Tracked:      len(names),
		TrackedNames: names,
		EventCounts:  counts,
	}
	t.mu.Unlock()

	st.HistorySize = t.history.Len()
	st.Callbacks = t.bus.SubscriptionCount()
	st.CallbackFailures = t.bus.Failures()
	st.RecognizedCount = counts[event.Recognized]
	st.UnknownCount = counts[event.Unknown]
	for _, n := range counts {
		st.TotalEvents += n
	}
	return st
}

// Reset forgets every tracked identity, the cycle watermark, the history and
// the event counters. Registered handlers are kept.
func (t *Tracker) Reset() {
	t.submitMu.Lock()
	defer t.submitMu.Unlock()

	t.mu.Lock()
	t.subjects = make(map[string]*subjectState)
	t.lastCycle, t.seenCycle = 0, false
	t.lastKind = 0
	t.cycles = 0
	t.counts = make(map[event.Kind]uint64)
	t.mu.Unlock()

	t.history.Clear()
	t.logger.Info("tracker reset")
}
