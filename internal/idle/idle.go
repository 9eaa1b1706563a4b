package idle

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/logging"
)

// Default timings.
const (
	DefaultActivationThreshold = 5 * time.Second
	DefaultInterval            = 3 * time.Second
)

// Scheduler runs behaviors. *scheduler.Scheduler satisfies it.
type Scheduler interface {
	Run(b *behavior.Behavior) bool
}

// Registrar is where the manager subscribes for events.
type Registrar interface {
	RegisterAll(handler event.Handler) event.SubscriptionID
	Unregister(id event.SubscriptionID) bool
}

// Config holds the idle timings. Non-positive values take the defaults.
type Config struct {
	ActivationThreshold time.Duration
	Interval            time.Duration
}

// Status is a snapshot of the manager.
type Status struct {
	Running   bool
	Active    bool
	Present   int
	Drifts    int
	Rejected  int
	LastDrift time.Time
}

// Manager drives idle drifting.
type Manager struct {
	cfg    Config
	sched  Scheduler
	logger *logging.Logger
	rng    *rand.Rand

	// wake coalesces presence changes for the loop.
	wake chan struct{}

	mu          sync.Mutex
	present     map[string]bool
	interrupted bool
	active      bool
	drifts      int
	rejected    int
	lastDrift   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	reg         Registrar
	sub         event.SubscriptionID
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRand sets the random source for drift poses.
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

// New creates a manager that submits drifts to sched.
func New(cfg Config, sched Scheduler, opts ...Option) *Manager {
	if cfg.ActivationThreshold <= 0 {
		cfg.ActivationThreshold = DefaultActivationThreshold
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	m := &Manager{
		cfg:     cfg,
		sched:   sched,
		logger:  logging.NopLogger(),
		wake:    make(chan struct{}, 1),
		present: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	m.logger = m.logger.WithComponent("idle")
	return m
}

// Attach subscribes the manager to every event from reg.
func (m *Manager) Attach(reg Registrar) {
	id := reg.RegisterAll(m.HandleEvent)
	m.mu.Lock()
	m.reg, m.sub = reg, id
	m.mu.Unlock()
}

// Detach removes the subscription made by Attach.
func (m *Manager) Detach() {
	m.mu.Lock()
	reg, id := m.reg, m.sub
	m.reg = nil
	m.mu.Unlock()
	if reg != nil {
		reg.Unregister(id)
	}
}

// HandleEvent updates presence from a tracker event. It is an event.Handler.
func (m *Manager) HandleEvent(e event.Event) error {
	m.mu.Lock()
	switch e.Kind {
	case event.Recognized, event.Unknown:
		m.present[e.Subject] = true
		m.interrupted = true
	case event.Departed:
		delete(m.present, e.Subject)
	case event.NoSubjects:
		clear(m.present)
	}
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start launches the idle loop. The scene is assumed empty at start, so the
// activation countdown begins immediately. Calling Start twice is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
}

// Stop ends the loop and waits for it to exit. A drift already handed to the
// scheduler keeps running.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// loop owns the single timer. While waiting it counts down the activation
// threshold; once active it fires every interval.
func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(m.cfg.ActivationThreshold)
	defer timer.Stop()
	armed := true

	for {
		select {
		case <-ctx.Done():
			m.setActive(false)
			return

		case <-m.wake:
			m.mu.Lock()
			interrupted, quiet := m.interrupted, len(m.present) == 0
			m.interrupted = false
			m.mu.Unlock()

			if interrupted {
				timer.Stop()
				armed = false
				if m.setActive(false) {
					m.logger.Info("idle deactivated")
				}
			}
			if quiet && !armed {
				timer.Reset(m.cfg.ActivationThreshold)
				armed = true
				m.logger.Debug("scene empty, idle countdown started",
					"activation_threshold_ms", m.cfg.ActivationThreshold.Milliseconds())
			}

		case <-timer.C:
			if !m.setActive(true) {
				m.logger.Info("idle activated")
			}
			m.drift()
			timer.Reset(m.cfg.Interval)
		}
	}
}

// setActive stores v and reports the previous value.
func (m *Manager) setActive(v bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.active
	m.active = v
	return prev
}

func (m *Manager) drift() {
	b := behavior.IdleDrift(m.rng)
	ok := m.sched.Run(b)

	m.mu.Lock()
	if ok {
		m.drifts++
		m.lastDrift = time.Now()
	} else {
		m.rejected++
	}
	m.mu.Unlock()

	if ok {
		m.logger.Debug("idle drift started", "pose", b.Steps[0].Pose)
	} else {
		m.logger.Debug("idle drift rejected, scheduler busy")
	}
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Running:   m.cancel != nil,
		Active:    m.active,
		Present:   len(m.present),
		Drifts:    m.drifts,
		Rejected:  m.rejected,
		LastDrift: m.lastDrift,
	}
}
