// Package app wires the tracker, scheduler, coordinator and their
// collaborators together for one run.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/greeter/internal/actuator"
	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/config"
	"github.com/Iron-Ham/greeter/internal/coordinator"
	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/feed"
	"github.com/Iron-Ham/greeter/internal/idle"
	"github.com/Iron-Ham/greeter/internal/journal"
	"github.com/Iron-Ham/greeter/internal/logging"
	"github.com/Iron-Ham/greeter/internal/phrase"
	"github.com/Iron-Ham/greeter/internal/remote"
	"github.com/Iron-Ham/greeter/internal/scheduler"
	"github.com/Iron-Ham/greeter/internal/speech"
	"github.com/Iron-Ham/greeter/internal/tracker"
)

// Hub owns every component of a run.
type Hub struct {
	logger *logging.Logger

	library     *behavior.Library
	scheduler   *scheduler.Scheduler
	speaker     *speech.Failover
	tracker     *tracker.Tracker
	coordinator *coordinator.Coordinator
	idle        *idle.Manager
	journal     *journal.Journal

	ownJournal bool
	closers    []io.Closer
	onGreeting func(coordinator.Greeting)

	mu      sync.Mutex
	started bool
	stopped bool
	skipped int
}

// NewHub builds every component from cfg.
func NewHub(cfg *config.Config, opts ...Option) (*Hub, error) {
	if cfg == nil {
		return nil, fmt.Errorf("app: config is required")
	}
	hc := &hubConfig{}
	for _, opt := range opts {
		opt(hc)
	}
	logger := hc.logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	h := &Hub{logger: logger.WithComponent("hub"), onGreeting: hc.onGreeting}

	lib, err := buildLibrary(cfg)
	if err != nil {
		return nil, err
	}
	h.library = lib

	act := hc.actuator
	if act == nil {
		if act, err = h.buildActuator(cfg, logger); err != nil {
			h.closeRemotes()
			return nil, err
		}
	}
	h.scheduler = scheduler.New(act,
		scheduler.WithCancelTimeout(cfg.Scheduler.CancelTimeout()),
		scheduler.WithLogger(logger))

	backends := append([]speech.Speaker(nil), hc.speakers...)
	configured, err := h.buildSpeakers(cfg, logger)
	if err != nil {
		h.scheduler.Close()
		h.closeRemotes()
		return nil, err
	}
	h.speaker = speech.NewFailover(logger, append(backends, configured...)...)

	h.tracker = tracker.New(tracker.Config{
		Debounce:    cfg.Tracker.Debounce(),
		Departure:   cfg.Tracker.Departure(),
		HistorySize: cfg.Tracker.HistorySize,
	}, logger)

	phrases := phrase.NewSelector(phrase.Config{
		Personality:      cfg.Phrases.Personality,
		RepetitionWindow: cfg.Phrases.RepetitionWindow,
		MorningStart:     cfg.Phrases.MorningStart,
		AfternoonStart:   cfg.Phrases.AfternoonStart,
		EveningStart:     cfg.Phrases.EveningStart,
		NightStart:       cfg.Phrases.NightStart,
	})

	h.coordinator = coordinator.New(coordinator.Config{
		GreetingBehavior: cfg.Scheduler.GreetingBehavior,
		UnknownBehavior:  cfg.Scheduler.UnknownBehavior,
		Offset:           cfg.Coordinator.Offset(),
		LatencyTarget:    cfg.Coordinator.LatencyTarget(),
		SpeechTimeout:    cfg.Speech.Timeout(),
		Dispatch:         cfg.Coordinator.Dispatch,
		Farewell:         cfg.Coordinator.Farewell,
		GreetUnknown:     cfg.Coordinator.GreetUnknown,
	}, h.scheduler, lib, h.speaker,
		coordinator.WithLogger(logger),
		coordinator.WithPhrases(phrases),
		coordinator.WithGreetingHook(h.recordGreeting))

	switch {
	case hc.journal != nil:
		h.journal = hc.journal
	case cfg.Journal.Enabled:
		j, err := journal.Open(cfg.Journal.JournalPath())
		if err != nil {
			h.scheduler.Close()
			h.closeRemotes()
			return nil, err
		}
		h.journal, h.ownJournal = j, true
	}

	if cfg.Idle.Enabled {
		h.idle = idle.New(idle.Config{
			ActivationThreshold: cfg.Idle.ActivationThreshold(),
			Interval:            cfg.Idle.Interval(),
		}, h.scheduler, idle.WithLogger(logger))
	}

	// Subscription order is delivery order.
	h.coordinator.Attach(h.tracker)
	if h.idle != nil {
		h.idle.Attach(h.tracker)
	}
	if h.journal != nil {
		h.tracker.RegisterAll(h.journal.HandleEvent)
	}
	if fn := hc.onEvent; fn != nil {
		h.tracker.RegisterAll(func(e event.Event) error {
			fn(e)
			return nil
		})
	}

	h.logger.Info("hub initialized",
		"behaviors", lib.Len(),
		"speech", h.speaker.Name(),
		"idle", h.idle != nil,
		"journal", h.journal != nil,
		logging.KeySession, h.coordinator.SessionID())
	return h, nil
}

func buildLibrary(cfg *config.Config) (*behavior.Library, error) {
	lib := behavior.DefaultLibrary()
	if path := cfg.Behaviors.Library; path != "" {
		extra, err := behavior.LoadLibraryFile(path)
		if err != nil {
			return nil, errors.NewConfigError("load behavior library", err).WithKey("behaviors.library")
		}
		lib.Merge(extra)
	}
	if err := lib.ApplyPriorities(cfg.Scheduler.Priorities); err != nil {
		return nil, errors.NewConfigError("apply behavior priorities", err).WithKey("scheduler.priorities")
	}
	required := map[string]string{
		"scheduler.greeting_behavior": cfg.Scheduler.GreetingBehavior,
		"scheduler.unknown_behavior":  cfg.Scheduler.UnknownBehavior,
	}
	for field, name := range required {
		if _, ok := lib.Get(name); !ok {
			return nil, errors.NewValidationError("behavior not in library").WithField(field).WithValue(name)
		}
	}
	return lib, nil
}

func (h *Hub) buildActuator(cfg *config.Config, logger *logging.Logger) (actuator.Actuator, error) {
	switch cfg.Actuator.Driver {
	case "", "sim":
		return actuator.NewSimulated(logger), nil
	case "remote":
		client := remote.NewClient(cfg.Actuator.RemoteURL,
			remote.WithLogger(logger),
			remote.WithTimeout(cfg.Actuator.Timeout()))
		h.closers = append(h.closers, client)
		return actuator.NewRemote(client), nil
	default:
		return nil, errors.NewValidationError("unknown actuator driver").WithField("actuator.driver").WithValue(cfg.Actuator.Driver)
	}
}

func (h *Hub) buildSpeakers(cfg *config.Config, logger *logging.Logger) ([]speech.Speaker, error) {
	var out []speech.Speaker
	for _, name := range cfg.Speech.Backends {
		switch name {
		case "log":
			out = append(out, speech.NewLogSpeaker(logger))
		case "remote":
			client := remote.NewClient(cfg.Speech.RemoteURL,
				remote.WithLogger(logger),
				remote.WithTimeout(cfg.Speech.Timeout()))
			h.closers = append(h.closers, client)
			out = append(out, speech.NewRemote(client))
		default:
			return nil, errors.NewValidationError("unknown speech backend").WithField("speech.backends").WithValue(name)
		}
	}
	return out, nil
}

// recordGreeting journals g and forwards it to the observer.
func (h *Hub) recordGreeting(g coordinator.Greeting) {
	if h.journal != nil {
		rec := journal.Greeting{
			SessionID:       g.SessionID,
			Subject:         g.Subject,
			Confidence:      g.Confidence,
			Text:            g.Text,
			GestureAccepted: g.GestureAccepted,
			InitialLatency:  g.InitialLatency,
			TotalLatency:    g.TotalLatency,
			At:              g.At,
		}
		if g.SpeechErr != nil {
			rec.SpeechError = g.SpeechErr.Error()
		}
		if err := h.journal.RecordGreeting(context.Background(), rec); err != nil {
			h.logger.Warn("failed to journal greeting", logging.KeySubject, g.Subject, "error", err)
		}
	}
	if h.onGreeting != nil {
		h.onGreeting(g)
	}
}

// Start begins background work: async greetings and idle drifting.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return fmt.Errorf("app: hub already started")
	}
	if h.stopped {
		return fmt.Errorf("app: hub stopped")
	}
	h.started = true
	h.coordinator.Start(ctx)
	if h.idle != nil {
		h.idle.Start(ctx)
	}
	return nil
}

// Submit feeds one batch to the tracker.
func (h *Hub) Submit(b tracker.Batch) ([]event.Event, error) {
	return h.tracker.Submit(b)
}

// Run drives the sensing loop from src until it is exhausted or ctx ends.
// Malformed or stale batches are logged and skipped.
func (h *Hub) Run(ctx context.Context, src feed.Source) error {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan tracker.Batch)

	g.Go(func() error {
		defer close(batches)
		for {
			b, err := src.Next(gctx)
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, errors.ErrInvalidInput):
				h.skip("malformed batch", err)
				continue
			case err != nil:
				return err
			}
			select {
			case batches <- b:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		for b := range batches {
			if _, err := h.Submit(b); err != nil {
				if errors.Is(err, errors.ErrInvalidInput) || errors.Is(err, errors.ErrStaleCycle) {
					h.skip("rejected batch", err)
					continue
				}
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

func (h *Hub) skip(msg string, err error) {
	h.mu.Lock()
	h.skipped++
	h.mu.Unlock()
	h.logger.Warn(msg, "error", err)
}

// Drain stops taking new events and waits for in-flight greetings and the
// current behavior to finish.
func (h *Hub) Drain() {
	if h.idle != nil {
		h.idle.Stop()
	}
	h.coordinator.Close()
	h.scheduler.Wait()
}

// Stop shuts every component down, cancelling the current behavior. It is
// idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	if h.idle != nil {
		h.idle.Stop()
		h.idle.Detach()
	}
	h.coordinator.Close()
	h.scheduler.Close()

	var errs []error
	if h.ownJournal {
		if err := h.journal.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	errs = append(errs, h.closeRemotes()...)
	h.logger.Info("hub stopped")
	return errors.Join(errs...)
}

func (h *Hub) closeRemotes() []error {
	var errs []error
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errs
}

// ResetSession starts a new greeting session.
func (h *Hub) ResetSession() string {
	return h.coordinator.ResetSession()
}

// Tracker returns the event tracker.
func (h *Hub) Tracker() *tracker.Tracker { return h.tracker }

// Scheduler returns the behavior scheduler.
func (h *Hub) Scheduler() *scheduler.Scheduler { return h.scheduler }

// Coordinator returns the interaction coordinator.
func (h *Hub) Coordinator() *coordinator.Coordinator { return h.coordinator }

// Library returns the behavior library in use.
func (h *Hub) Library() *behavior.Library { return h.library }

// Journal returns the journal, or nil when journaling is off.
func (h *Hub) Journal() *journal.Journal { return h.journal }

// Report is a snapshot of every component's statistics.
type Report struct {
	Tracker     tracker.Stats
	Scheduler   scheduler.Stats
	Coordinator coordinator.Stats
	Speech      speech.Stats
	Idle        *idle.Status
	Skipped     int
}

// Report collects statistics from every component.
func (h *Hub) Report() Report {
	r := Report{
		Tracker:     h.tracker.Stats(),
		Scheduler:   h.scheduler.Stats(),
		Coordinator: h.coordinator.Stats(),
		Speech:      h.speaker.Stats(),
	}
	if h.idle != nil {
		st := h.idle.Status()
		r.Idle = &st
	}
	h.mu.Lock()
	r.Skipped = h.skipped
	h.mu.Unlock()
	return r
}
