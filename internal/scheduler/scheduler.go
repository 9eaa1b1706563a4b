// Package scheduler runs at most one behavior at a time on the actuator,
// arbitrating between competing requests by priority and interruptibility.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/greeter/internal/actuator"
	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/logging"
)

// DefaultCancelTimeout bounds how long a preempting request waits for the
// active behavior to stop.
const DefaultCancelTimeout = 2 * time.Second

// State is the scheduler's execution state.
type State int32

const (
	// StateIdle means no behavior is active.
	StateIdle State = iota

	// StateRunning means a behavior is executing.
	StateRunning

	// StateCancelling means the active behavior has been told to stop and the
	// scheduler is waiting for it to wind down.
	StateCancelling
)

// String returns a human-readable string for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of scheduler counters.
type Stats struct {
	State          State
	Current        string
	Accepted       uint64
	Rejected       uint64
	Preemptions    uint64
	Completed      uint64
	Interrupted    uint64
	Failed         uint64
	CancelTimeouts uint64
}

type outcome int

const (
	outcomeCompleted outcome = iota
	outcomeInterrupted
	outcomeFailed
)

// execution is one accepted run of a behavior.
type execution struct {
	behavior *behavior.Behavior
	cancel   context.CancelFunc
	done     chan struct{}
	started  time.Time
}

// Scheduler owns the actuator on behalf of behaviors.
//
// Run, CancelCurrent and the worker's slot release are serialized by mu.
// The active execution and state are also published atomically so that
// IsBusy, Current and State never block behind a preemption wait.
type Scheduler struct {
	act           actuator.Actuator
	logger        *logging.Logger
	cancelTimeout time.Duration

	mu     sync.Mutex
	closed bool
	active atomic.Pointer[execution]
	state  atomic.Int32

	wg sync.WaitGroup

	accepted, rejected, preemptions atomic.Uint64
	completed, interrupted, failed  atomic.Uint64
	cancelTimeouts                  atomic.Uint64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCancelTimeout overrides DefaultCancelTimeout.
func WithCancelTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.cancelTimeout = d
		}
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a scheduler driving act.
func New(act actuator.Actuator, opts ...Option) *Scheduler {
	s := &Scheduler{
		act:           act,
		logger:        logging.NopLogger(),
		cancelTimeout: DefaultCancelTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("scheduler")
	return s
}

// Run asks the scheduler to execute b. It returns false when b is rejected:
// the active behavior is non-interruptible, b's priority does not strictly
// exceed the active one, or the scheduler is closed. On acceptance any active
// behavior is cancelled first and b starts on its own goroutine.
func (s *Scheduler) Run(b *behavior.Behavior) bool {
	if b == nil || len(b.Steps) == 0 {
		s.rejected.Add(1)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		s.rejected.Add(1)
		s.logger.Debug("behavior rejected", "behavior", b.Name, "error", errors.ErrSchedulerClosed)
		return false
	}

	if cur := s.active.Load(); cur != nil {
		if !cur.behavior.Interruptible || b.Priority <= cur.behavior.Priority {
			s.rejected.Add(1)
			s.logger.Debug("behavior rejected",
				"behavior", b.Name, "priority", b.Priority,
				"active", cur.behavior.Name, "active_priority", cur.behavior.Priority,
				"active_interruptible", cur.behavior.Interruptible)
			return false
		}
		s.preemptions.Add(1)
		s.logger.Info("preempting behavior", "active", cur.behavior.Name, "by", b.Name)
		s.cancelLocked(cur)
	}

	s.startLocked(b)
	return true
}

// startLocked installs and launches a new execution. Caller holds mu.
func (s *Scheduler) startLocked(b *behavior.Behavior) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := &execution{
		behavior: b,
		cancel:   cancel,
		done:     make(chan struct{}),
		started:  time.Now(),
	}
	s.active.Store(ex)
	s.state.Store(int32(StateRunning))
	s.accepted.Add(1)

	s.logger.Debug("behavior started", "behavior", b.Name, "priority", b.Priority, "steps", len(b.Steps))

	s.wg.Add(1)
	go s.execute(ctx, ex)
}

// cancelLocked cancels ex and waits up to the cancel timeout for its worker
// to stop. On timeout the slot is released anyway. Caller holds mu; the
// worker closes done before it needs mu, so the wait cannot deadlock.
func (s *Scheduler) cancelLocked(ex *execution) bool {
	s.state.Store(int32(StateCancelling))
	ex.cancel()

	timer := time.NewTimer(s.cancelTimeout)
	defer timer.Stop()

	stopped := true
	select {
	case <-ex.done:
	case <-timer.C:
		stopped = false
		s.cancelTimeouts.Add(1)
		err := errors.NewTimeoutError("cancel behavior "+ex.behavior.Name, s.cancelTimeout).WithCause(errors.ErrCancelTimeout)
		s.logger.Warn("behavior did not stop in time", "behavior", ex.behavior.Name, "error", err)
	}

	if s.active.Load() == ex {
		s.active.Store(nil)
	}
	s.state.Store(int32(StateIdle))
	return stopped
}

// CancelCurrent stops the active behavior regardless of its interruptibility.
// It returns false if nothing was running.
func (s *Scheduler) CancelCurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.active.Load()
	if cur == nil {
		return false
	}
	s.cancelLocked(cur)
	return true
}

func (s *Scheduler) execute(ctx context.Context, ex *execution) {
	defer s.wg.Done()

	result := s.runSteps(ctx, ex)

	elapsed := time.Since(ex.started)
	switch result {
	case outcomeCompleted:
		s.completed.Add(1)
		s.logger.Debug("behavior completed", "behavior", ex.behavior.Name, "duration_ms", elapsed.Milliseconds())
	case outcomeInterrupted:
		s.interrupted.Add(1)
		s.logger.Debug("behavior interrupted", "behavior", ex.behavior.Name, "duration_ms", elapsed.Milliseconds())
	case outcomeFailed:
		s.failed.Add(1)
	}

	ex.cancel()
	close(ex.done)

	s.mu.Lock()
	if s.active.Load() == ex {
		s.active.Store(nil)
		s.state.Store(int32(StateIdle))
	}
	s.mu.Unlock()
}

func (s *Scheduler) runSteps(ctx context.Context, ex *execution) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("behavior panicked", "behavior", ex.behavior.Name, "panic", fmt.Sprint(r))
			result = outcomeFailed
		}
	}()

	for i, step := range ex.behavior.Steps {
		if ctx.Err() != nil {
			return outcomeInterrupted
		}
		if err := s.act.Apply(ctx, actuator.FromStep(step)); err != nil {
			if ctx.Err() != nil {
				return outcomeInterrupted
			}
			aerr := errors.NewActuatorError("apply pose", err).WithBehavior(ex.behavior.Name).WithStep(i)
			s.logger.Error("actuator failed", "behavior", ex.behavior.Name, "step", i,
				"error", aerr, "retryable", errors.IsRetryable(aerr))
			return outcomeFailed
		}
		// A hold is not interrupted mid-step; cancellation is observed at
		// the next step boundary.
		if step.Wait && step.Hold > 0 {
			time.Sleep(step.Hold)
		}
	}
	return outcomeCompleted
}

// IsBusy reports whether a behavior is active.
func (s *Scheduler) IsBusy() bool {
	return s.active.Load() != nil
}

// Current returns the active behavior's name, or "" when idle.
func (s *Scheduler) Current() string {
	if ex := s.active.Load(); ex != nil {
		return ex.behavior.Name
	}
	return ""
}

// State returns the current execution state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		State:          s.State(),
		Current:        s.Current(),
		Accepted:       s.accepted.Load(),
		Rejected:       s.rejected.Load(),
		Preemptions:    s.preemptions.Load(),
		Completed:      s.completed.Load(),
		Interrupted:    s.interrupted.Load(),
		Failed:         s.failed.Load(),
		CancelTimeouts: s.cancelTimeouts.Load(),
	}
}

// Wait blocks until every started worker has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close rejects further requests, cancels the active behavior and waits for
// all workers to exit. It is safe to call more than once.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if cur := s.active.Load(); cur != nil {
			s.cancelLocked(cur)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
}
