package scheduler

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Iron-Ham/greeter/internal/actuator"
	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/logging"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gesture builds a behavior of n identical steps held for hold each.
func gesture(name string, priority int, interruptible bool, n int, hold time.Duration) *behavior.Behavior {
	steps := make([]behavior.Step, n)
	for i := range steps {
		steps[i] = behavior.Step{Pose: behavior.Pose{Roll: float64(i)}, Hold: hold, Wait: true}
	}
	return &behavior.Behavior{Name: name, Steps: steps, Interruptible: interruptible, Priority: priority}
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	require.Eventually(t, func() bool { return !s.IsBusy() }, 3*time.Second, 5*time.Millisecond)
}

func TestRun_IdleAcceptsAndCompletes(t *testing.T) {
	act := actuator.NewSimulated(nil)
	s := New(act)
	defer s.Close()

	assert.Equal(t, StateIdle, s.State())
	require.True(t, s.Run(gesture("nod", 5, true, 3, 5*time.Millisecond)))
	assert.True(t, s.IsBusy())
	assert.Equal(t, "nod", s.Current())
	assert.Equal(t, StateRunning, s.State())

	waitIdle(t, s)

	assert.Len(t, act.Commands(), 3)
	assert.Equal(t, "", s.Current())
	assert.Equal(t, StateIdle, s.State())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Accepted)
	assert.Equal(t, uint64(1), st.Completed)
	assert.Zero(t, st.Rejected)
}

func TestRun_BuiltinGreetingPoses(t *testing.T) {
	act := actuator.NewSimulated(nil)
	s := New(act)
	defer s.Close()

	require.True(t, s.Run(behavior.DefaultLibrary().MustGet(behavior.GreetingWave)))
	waitIdle(t, s)

	cmds := act.Commands()
	require.Len(t, cmds, 4)
	rolls := []float64{cmds[0].Roll, cmds[1].Roll, cmds[2].Roll, cmds[3].Roll}
	assert.Equal(t, []float64{0, 15, -15, 0}, rolls)
	assert.Equal(t, 300*time.Millisecond, cmds[1].Duration)
}

func TestRun_NonInterruptibleRejectsEverything(t *testing.T) {
	s := New(actuator.NewSimulated(nil))
	defer s.Close()

	require.True(t, s.Run(gesture("wave", 8, false, 5, 20*time.Millisecond)))

	assert.False(t, s.Run(gesture("urgent", 10, true, 1, time.Millisecond)))
	assert.False(t, s.Run(gesture("urgent_locked", 10, false, 1, time.Millisecond)))
	assert.Equal(t, "wave", s.Current())

	waitIdle(t, s)
	st := s.Stats()
	assert.Equal(t, uint64(2), st.Rejected)
	assert.Equal(t, uint64(1), st.Completed)
	assert.Zero(t, st.Preemptions)
}

func TestRun_StrictPriority(t *testing.T) {
	s := New(actuator.NewSimulated(nil))
	defer s.Close()

	require.True(t, s.Run(gesture("tilt", 6, true, 20, 10*time.Millisecond)))

	assert.False(t, s.Run(gesture("lower", 5, true, 1, time.Millisecond)), "lower priority must be rejected")
	assert.False(t, s.Run(gesture("equal", 6, true, 1, time.Millisecond)), "equal priority must be rejected")
	assert.Equal(t, "tilt", s.Current())

	require.True(t, s.Run(gesture("wave", 8, false, 2, 5*time.Millisecond)))
	assert.Equal(t, "wave", s.Current())

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Preemptions)
	assert.Equal(t, uint64(1), st.Interrupted, "preempted worker finishes before the new one starts")
	assert.Equal(t, uint64(2), st.Rejected)

	waitIdle(t, s)
	assert.Equal(t, uint64(1), s.Stats().Completed)
}

func TestRun_IdleDriftYieldsToGreeting(t *testing.T) {
	act := actuator.NewSimulated(nil)
	s := New(act)
	defer s.Close()

	lib := behavior.DefaultLibrary()
	drift := gesture(behavior.IdleDriftName, behavior.IdleDriftPriority, true, 50, 10*time.Millisecond)
	require.True(t, s.Run(drift))
	require.True(t, s.Run(lib.MustGet(behavior.GreetingWave)))
	assert.Equal(t, behavior.GreetingWave, s.Current())
}

func TestRun_CancelTimeoutIsCounted(t *testing.T) {
	s := New(actuator.NewSimulated(nil), WithCancelTimeout(20*time.Millisecond))
	defer s.Close()

	slow := gesture("slow", 2, true, 1, 300*time.Millisecond)
	require.True(t, s.Run(slow))
	time.Sleep(10 * time.Millisecond)

	start := time.Now()
	require.True(t, s.Run(gesture("greet", 8, false, 1, 5*time.Millisecond)), "new behavior starts after the timeout")
	assert.Less(t, time.Since(start), 250*time.Millisecond)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.CancelTimeouts)
	assert.Equal(t, uint64(1), st.Preemptions)

	// The late worker must not clear the new behavior's slot.
	s.Wait()
	assert.False(t, s.IsBusy())
	assert.Equal(t, StateIdle, s.State())
}

func TestRun_ActuatorFailureEndsBehavior(t *testing.T) {
	act := actuator.NewSimulated(nil)
	act.FailWith(errors.ErrActuatorUnavailable)
	s := New(act)
	defer s.Close()

	require.True(t, s.Run(gesture("nod", 5, true, 3, 5*time.Millisecond)))
	waitIdle(t, s)

	st := s.Stats()
	assert.Equal(t, uint64(1), st.Failed)
	assert.Zero(t, st.Completed)
	assert.Empty(t, act.Commands())

	act.FailWith(nil)
	require.True(t, s.Run(gesture("nod", 5, true, 1, time.Millisecond)), "scheduler recovers after a failure")
	waitIdle(t, s)
	assert.Equal(t, uint64(1), s.Stats().Completed)
}

type panicActuator struct{}

func (panicActuator) Apply(context.Context, actuator.Command) error { panic("servo exploded") }

func TestRun_ActuatorPanicIsContained(t *testing.T) {
	s := New(panicActuator{})
	defer s.Close()

	require.True(t, s.Run(gesture("nod", 5, true, 2, time.Millisecond)))
	waitIdle(t, s)
	assert.Equal(t, uint64(1), s.Stats().Failed)
}

func TestRun_RejectsEmptyBehavior(t *testing.T) {
	s := New(actuator.NewSimulated(nil))
	defer s.Close()

	assert.False(t, s.Run(nil))
	assert.False(t, s.Run(&behavior.Behavior{Name: "empty", Priority: 5}))
	assert.Equal(t, uint64(2), s.Stats().Rejected)
}

func TestCancelCurrent(t *testing.T) {
	s := New(actuator.NewSimulated(nil))
	defer s.Close()

	assert.False(t, s.CancelCurrent(), "nothing to cancel")

	require.True(t, s.Run(gesture("wave", 8, false, 20, 10*time.Millisecond)))
	assert.True(t, s.CancelCurrent(), "cancel ignores interruptibility")
	assert.False(t, s.IsBusy())
	assert.Equal(t, uint64(1), s.Stats().Interrupted)
}

func TestClose(t *testing.T) {
	act := actuator.NewSimulated(nil)
	s := New(act)

	require.True(t, s.Run(gesture("long", 5, true, 100, 10*time.Millisecond)))
	s.Close()

	assert.False(t, s.IsBusy())
	assert.Less(t, len(act.Commands()), 100)
	assert.False(t, s.Run(gesture("late", 9, true, 1, time.Millisecond)))

	s.Close()
}

func TestRun_AfterCloseLogsSchedulerClosed(t *testing.T) {
	var logs bytes.Buffer
	s := New(actuator.NewSimulated(nil), WithLogger(logging.NewWriterLogger(&logs, logging.LevelDebug)))
	s.Close()

	assert.False(t, s.Run(gesture("late", 9, true, 1, time.Millisecond)))
	assert.Equal(t, uint64(1), s.Stats().Rejected)
	assert.Contains(t, logs.String(), errors.ErrSchedulerClosed.Error())
}

func TestRun_ConcurrentRequestsKeepOneActive(t *testing.T) {
	var applying, overlap atomic.Int32
	act := &trackingActuator{applying: &applying, overlap: &overlap}
	s := New(act)
	defer s.Close()

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			if s.Run(gesture("g", 1+p%10, true, 2, 2*time.Millisecond)) {
				accepted.Add(1)
			}
		}(i)
	}
	wg.Wait()
	waitIdle(t, s)

	st := s.Stats()
	assert.Equal(t, uint64(20), st.Accepted+st.Rejected)
	assert.Equal(t, uint64(accepted.Load()), st.Accepted)
	assert.Zero(t, overlap.Load(), "two behaviors drove the actuator at once")
}

// trackingActuator flags overlapping Apply calls.
type trackingActuator struct {
	applying *atomic.Int32
	overlap  *atomic.Int32
}

func (a *trackingActuator) Apply(ctx context.Context, _ actuator.Command) error {
	if a.applying.Add(1) > 1 {
		a.overlap.Add(1)
	}
	defer a.applying.Add(-1)
	time.Sleep(time.Millisecond)
	return ctx.Err()
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateRunning, "running"},
		{StateCancelling, "cancelling"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
