// Package coordinator turns tracker events into paired gesture and speech
// responses.
//
// A recognized subject is greeted at most once per session. Only one
// greeting runs at a time; subjects recognized meanwhile wait in a pending
// set and are served highest confidence first once the active greeting
// finishes. Each greeting starts its gesture immediately, waits a fixed
// offset, then speaks, recording latency along the way.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/logging"
	"github.com/Iron-Ham/greeter/internal/phrase"
	"github.com/Iron-Ham/greeter/internal/speech"
)

// Dispatch modes.
const (
	// DispatchSync handles each event on the publishing goroutine.
	DispatchSync = "sync"
	// DispatchAsync handles each event on its own goroutine.
	DispatchAsync = "async"
)

// Scheduler runs gestures. *scheduler.Scheduler satisfies it.
type Scheduler interface {
	Run(b *behavior.Behavior) bool
}

// Registrar is where the coordinator subscribes for events.
// *tracker.Tracker satisfies it.
type Registrar interface {
	Register(kind event.Kind, handler event.Handler) event.SubscriptionID
	Unregister(id event.SubscriptionID) bool
}

// Config tunes the coordinator.
type Config struct {
	GreetingBehavior string
	UnknownBehavior  string
	Offset           time.Duration
	LatencyTarget    time.Duration
	SpeechTimeout    time.Duration
	Dispatch         string
	// Farewell speaks a goodbye when a greeted subject departs.
	Farewell bool
	// GreetUnknown speaks to unrecognized visitors after the curious gesture.
	GreetUnknown bool
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		GreetingBehavior: behavior.GreetingWave,
		UnknownBehavior:  behavior.UnknownCurious,
		Offset:           300 * time.Millisecond,
		LatencyTarget:    400 * time.Millisecond,
		SpeechTimeout:    5 * time.Second,
		Dispatch:         DispatchAsync,
	}
}

// Greeting reports one completed greeting.
type Greeting struct {
	SessionID       string
	Subject         string
	Confidence      float64
	Text            string
	GestureAccepted bool
	SpeechErr       error
	InitialLatency  time.Duration
	TotalLatency    time.Duration
	At              time.Time
}

// Stats is a snapshot of the coordinator's session and latency counters.
type Stats struct {
	SessionID         string
	SessionStart      time.Time
	TotalGreetings    int
	UniqueGreeted     int
	InProgress        bool
	Pending           int
	AvgLatency        time.Duration
	MinLatency        time.Duration
	MaxLatency        time.Duration
	AvgInitialLatency time.Duration
	LatencyTargetMet  bool
	SpeechFailures    int
	GestureRejections int
	UnknownResponses  int
	Farewells         int
	Dropped           int
}

type pendingEntry struct {
	event event.Event
	seq   uint64
}

// Coordinator sequences greeting responses.
type Coordinator struct {
	cfg       Config
	scheduler Scheduler
	library   *behavior.Library
	speaker   speech.Speaker
	phrases   *phrase.Selector
	logger    *logging.Logger
	now       func() time.Time
	onGreet   func(Greeting)

	// lifeMu guards closed and ordering between dispatch and Close.
	lifeMu sync.RWMutex
	closed bool
	ctx    context.Context
	wg     conc.WaitGroup

	// speakMu keeps utterances from overlapping.
	speakMu sync.Mutex

	mu           sync.Mutex
	sessionID    string
	sessionStart time.Time
	greeted      map[string]bool
	pending      map[string]pendingEntry
	seq          uint64
	inProgress   bool

	totalGreetings    int
	latencySum        time.Duration
	latencyMin        time.Duration
	latencyMax        time.Duration
	initialSum        time.Duration
	targetMissed      int
	speechFailures    int
	gestureRejections int
	unknownResponses  int
	farewells         int
	dropped           int

	subs []event.SubscriptionID
	reg  Registrar
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the clock used for latency measurement.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithPhrases sets the phrase selector.
func WithPhrases(p *phrase.Selector) Option {
	return func(c *Coordinator) { c.phrases = p }
}

// WithGreetingHook registers fn to receive every completed greeting. fn runs
// on the greeting goroutine and must not block for long.
func WithGreetingHook(fn func(Greeting)) Option {
	return func(c *Coordinator) { c.onGreet = fn }
}

// New creates a coordinator. lib supplies the greeting and unknown
// behaviors named in cfg.
func New(cfg Config, sched Scheduler, lib *behavior.Library, speaker speech.Speaker, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:       cfg,
		scheduler: sched,
		library:   lib,
		speaker:   speaker,
		logger:    logging.NopLogger(),
		now:       time.Now,
		ctx:       context.Background(),
		greeted:   make(map[string]bool),
		pending:   make(map[string]pendingEntry),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.phrases == nil {
		c.phrases = phrase.NewSelector(phrase.DefaultConfig())
	}
	c.logger = c.logger.WithComponent("coordinator")
	c.newSessionLocked()
	return c
}

// Start sets the context that bounds in-flight responses. Cancelling ctx
// cuts short offset waits and speech calls.
func (c *Coordinator) Start(ctx context.Context) {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	c.ctx = ctx
}

// Attach subscribes the coordinator to reg's recognized, unknown and
// departed events.
func (c *Coordinator) Attach(reg Registrar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reg = reg
	c.subs = append(c.subs,
		reg.Register(event.Recognized, c.HandleRecognized),
		reg.Register(event.Unknown, c.HandleUnknown),
		reg.Register(event.Departed, c.HandleDeparted),
	)
}

// Detach removes the subscriptions made by Attach.
func (c *Coordinator) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reg == nil {
		return
	}
	for _, id := range c.subs {
		c.reg.Unregister(id)
	}
	c.subs = nil
	c.reg = nil
}

// Close stops accepting events and waits for in-flight responses.
func (c *Coordinator) Close() {
	c.Detach()

	c.lifeMu.Lock()
	c.closed = true
	c.lifeMu.Unlock()

	if r := c.wg.WaitAndRecover(); r != nil {
		c.logger.Error("response goroutine panicked", "error", r.AsError())
	}
}

// dispatch runs fn according to the dispatch mode. It reports false when
// the coordinator is closed.
func (c *Coordinator) dispatch(fn func(ctx context.Context)) bool {
	c.lifeMu.RLock()
	defer c.lifeMu.RUnlock()
	if c.closed {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		return false
	}
	ctx := c.ctx
	if c.cfg.Dispatch == DispatchSync {
		fn(ctx)
		return true
	}
	c.wg.Go(func() { fn(ctx) })
	return true
}

// HandleRecognized greets the event's subject unless it was already greeted
// this session. It is an event.Handler.
func (c *Coordinator) HandleRecognized(e event.Event) error {
	if e.Kind != event.Recognized {
		return fmt.Errorf("coordinator: expected %s event, got %s", event.Recognized, e.Kind)
	}
	if c.HasGreeted(e.Subject) {
		c.logger.Debug("already greeted", logging.KeySubject, e.Subject)
		return nil
	}
	c.dispatch(func(ctx context.Context) { c.respond(ctx, e) })
	return nil
}

// respond runs the single-flight greeting loop for e and then for whatever
// queued up meanwhile.
func (c *Coordinator) respond(ctx context.Context, e event.Event) {
	c.mu.Lock()
	if c.greeted[e.Subject] {
		c.mu.Unlock()
		return
	}
	if c.inProgress {
		c.enqueueLocked(e)
		c.mu.Unlock()
		c.logger.Debug("greeting in progress, queued", logging.KeySubject, e.Subject, "confidence", e.Confidence)
		return
	}
	c.inProgress = true
	c.mu.Unlock()

	next, ok := e, true
	for ok {
		c.greet(ctx, next)

		c.mu.Lock()
		next, ok = c.popPendingLocked()
		if !ok {
			c.inProgress = false
		}
		c.mu.Unlock()
	}
}

// enqueueLocked keeps one pending entry per subject, preferring the higher
// confidence. Caller holds mu.
func (c *Coordinator) enqueueLocked(e event.Event) {
	if cur, ok := c.pending[e.Subject]; ok {
		if e.Confidence > cur.event.Confidence {
			cur.event = e
			c.pending[e.Subject] = cur
		}
		return
	}
	c.seq++
	c.pending[e.Subject] = pendingEntry{event: e, seq: c.seq}
}

// popPendingLocked removes and returns the highest-confidence pending
// subject not yet greeted. Ties go to the earlier arrival. Caller holds mu.
func (c *Coordinator) popPendingLocked() (event.Event, bool) {
	var best pendingEntry
	found := false
	for name, p := range c.pending {
		if c.greeted[name] {
			delete(c.pending, name)
			continue
		}
		if !found || p.event.Confidence > best.event.Confidence ||
			(p.event.Confidence == best.event.Confidence && p.seq < best.seq) {
			best, found = p, true
		}
	}
	if !found {
		return event.Event{}, false
	}
	delete(c.pending, best.event.Subject)
	return best.event, true
}

// greet performs one gesture-then-speech response. It never panics; a
// failing speech backend still leaves the subject greeted.
func (c *Coordinator) greet(ctx context.Context, e event.Event) {
	log := c.logger.WithSubject(e.Subject)
	start := c.now()

	accepted := c.gesture(c.cfg.GreetingBehavior)
	initial := c.now().Sub(start)

	sleep(ctx, c.cfg.Offset)

	p := c.phrases.Select(phrase.KindRecognized, e.Subject)
	speechErr := c.speak(ctx, speech.Utterance{Text: p.Text, Tone: p.Tone})
	if speechErr != nil {
		speechErr = errors.NewSpeechError("greeting speech failed", speechErr).WithSubject(e.Subject)
		log.Warn("speech failed", "error", speechErr)
	}

	total := c.now().Sub(start)

	c.mu.Lock()
	c.greeted[e.Subject] = true
	c.totalGreetings++
	c.latencySum += total
	c.initialSum += initial
	if c.totalGreetings == 1 || total < c.latencyMin {
		c.latencyMin = total
	}
	if total > c.latencyMax {
		c.latencyMax = total
	}
	if initial > c.cfg.LatencyTarget {
		c.targetMissed++
	}
	if speechErr != nil {
		c.speechFailures++
	}
	sessionID := c.sessionID
	c.mu.Unlock()

	log.Info("greeted",
		"text", p.Text,
		"confidence", e.Confidence,
		"gesture_accepted", accepted,
		"initial_latency_ms", initial.Milliseconds(),
		"total_latency_ms", total.Milliseconds())
	if initial > c.cfg.LatencyTarget {
		log.Warn("initial response exceeded latency target",
			"initial_latency_ms", initial.Milliseconds(),
			"target_ms", c.cfg.LatencyTarget.Milliseconds())
	}

	if c.onGreet != nil {
		g := Greeting{
			SessionID:       sessionID,
			Subject:         e.Subject,
			Confidence:      e.Confidence,
			Text:            p.Text,
			GestureAccepted: accepted,
			SpeechErr:       speechErr,
			InitialLatency:  initial,
			TotalLatency:    total,
			At:              start,
		}
		if r := panics.Try(func() { c.onGreet(g) }); r != nil {
			log.Error("greeting hook panicked", "error", r.AsError())
		}
	}
}

// gesture asks the scheduler to run the named behavior.
func (c *Coordinator) gesture(name string) bool {
	b, ok := c.library.Get(name)
	if !ok {
		c.logger.Error("behavior not in library", "behavior", name)
		c.mu.Lock()
		c.gestureRejections++
		c.mu.Unlock()
		return false
	}
	if c.scheduler.Run(b) {
		return true
	}
	c.mu.Lock()
	c.gestureRejections++
	c.mu.Unlock()
	c.logger.Debug("gesture rejected by scheduler", "behavior", name)
	return false
}

// speak serializes speech and converts a panicking backend into an error.
func (c *Coordinator) speak(ctx context.Context, u speech.Utterance) error {
	c.speakMu.Lock()
	defer c.speakMu.Unlock()

	if c.cfg.SpeechTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SpeechTimeout)
		defer cancel()
	}

	var err error
	if r := panics.Try(func() { err = c.speaker.Speak(ctx, u) }); r != nil {
		return r.AsError()
	}
	return err
}

// HandleUnknown plays the curious gesture for an unrecognized visitor and,
// if configured, says hello. It is an event.Handler.
func (c *Coordinator) HandleUnknown(e event.Event) error {
	c.dispatch(func(ctx context.Context) {
		c.gesture(c.cfg.UnknownBehavior)
		c.mu.Lock()
		c.unknownResponses++
		c.mu.Unlock()

		if !c.cfg.GreetUnknown {
			return
		}
		sleep(ctx, c.cfg.Offset)
		p := c.phrases.Select(phrase.KindUnknown, "")
		if err := c.speak(ctx, speech.Utterance{Text: p.Text, Tone: p.Tone}); err != nil {
			c.mu.Lock()
			c.speechFailures++
			c.mu.Unlock()
			c.logger.Warn("unknown greeting speech failed", "error", err)
		}
	})
	return nil
}

// HandleDeparted says goodbye to a subject greeted this session when
// farewells are enabled. It is an event.Handler.
func (c *Coordinator) HandleDeparted(e event.Event) error {
	if !c.cfg.Farewell || e.Subject == event.UnknownIdentity || !c.HasGreeted(e.Subject) {
		return nil
	}
	c.dispatch(func(ctx context.Context) {
		p := c.phrases.Select(phrase.KindFarewell, e.Subject)
		err := c.speak(ctx, speech.Utterance{Text: p.Text, Tone: p.Tone})
		c.mu.Lock()
		c.farewells++
		if err != nil {
			c.speechFailures++
		}
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn("farewell speech failed", logging.KeySubject, e.Subject, "error", err)
		}
	})
	return nil
}

// HasGreeted reports whether name was greeted this session.
func (c *Coordinator) HasGreeted(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeted[name]
}

// ResetSession starts a new session: the greeted set, pending queue and
// phrase history are cleared. A greeting already in flight is not
// interrupted.
func (c *Coordinator) ResetSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, n := c.sessionID, len(c.greeted)
	c.newSessionLocked()
	c.phrases.Reset()
	c.logger.Info("session reset", "previous_session", prev, "cleared", n, logging.KeySession, c.sessionID)
	return c.sessionID
}

func (c *Coordinator) newSessionLocked() {
	c.sessionID = uuid.NewString()
	c.sessionStart = c.now()
	c.greeted = make(map[string]bool)
	c.pending = make(map[string]pendingEntry)
}

// SessionID returns the current session's id.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Stats returns a snapshot of the coordinator's counters.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		SessionID:         c.sessionID,
		SessionStart:      c.sessionStart,
		TotalGreetings:    c.totalGreetings,
		UniqueGreeted:     len(c.greeted),
		InProgress:        c.inProgress,
		Pending:           len(c.pending),
		MinLatency:        c.latencyMin,
		MaxLatency:        c.latencyMax,
		LatencyTargetMet:  c.targetMissed == 0,
		SpeechFailures:    c.speechFailures,
		GestureRejections: c.gestureRejections,
		UnknownResponses:  c.unknownResponses,
		Farewells:         c.farewells,
		Dropped:           c.dropped,
	}
	if c.totalGreetings > 0 {
		st.AvgLatency = c.latencySum / time.Duration(c.totalGreetings)
		st.AvgInitialLatency = c.initialSum / time.Duration(c.totalGreetings)
	}
	return st
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
