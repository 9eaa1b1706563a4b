package tracker

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/event"
)

// cadence is the simulated sensing period. With it, a 200ms debounce is
// "present on three consecutive cycles" and a 300ms departure is "absent on
// three consecutive cycles".
const cadence = 100 * time.Millisecond

var t0 = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	return New(Config{Debounce: 200 * time.Millisecond, Departure: 300 * time.Millisecond, HistorySize: 50}, nil)
}

func batch(cycle uint64, obs ...Observation) Batch {
	return Batch{Cycle: cycle, At: t0.Add(time.Duration(cycle-1) * cadence), Observations: obs}
}

func seen(name string, conf float64) Observation {
	return Observation{Identity: name, Confidence: conf}
}

// run submits cycles first..last with the same observations and returns all
// emitted events.
func run(t *testing.T, tr *Tracker, first, last uint64, obs ...Observation) []event.Event {
	t.Helper()
	var all []event.Event
	for c := first; c <= last; c++ {
		got, err := tr.Submit(batch(c, obs...))
		require.NoError(t, err, "cycle %d", c)
		all = append(all, got...)
	}
	return all
}

// brief strips events down to the fields scenarios care about.
type brief struct {
	Kind    event.Kind
	Subject string
	Cycle   uint64
}

func briefs(events []event.Event) []brief {
	out := make([]brief, len(events))
	for i, e := range events {
		out[i] = brief{e.Kind, e.Subject, e.Cycle}
	}
	return out
}

func TestScenarioA_RecognizedOnThirdCycle(t *testing.T) {
	tr := newTracker(t)

	got := run(t, tr, 1, 3, seen("Alice", 0.9))

	want := []brief{{event.Recognized, "Alice", 3}}
	if diff := cmp.Diff(want, briefs(got)); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestScenarioB_DepartureAndRestart(t *testing.T) {
	tr := newTracker(t)
	run(t, tr, 1, 3, seen("Alice", 0.9))

	got := run(t, tr, 4, 6)
	want := []brief{
		{event.Departed, "Alice", 6},
		{event.NoSubjects, "", 6},
	}
	if diff := cmp.Diff(want, briefs(got)); diff != "" {
		t.Errorf("departure events mismatch (-want +got):\n%s", diff)
	}
	_, tracked := tr.Subject("Alice")
	assert.False(t, tracked, "state should be removed after departure")

	// Re-appearance debounces from zero again.
	got = run(t, tr, 7, 8, seen("Alice", 0.9))
	assert.Empty(t, got, "must not re-announce before the debounce threshold")
	got = run(t, tr, 9, 9, seen("Alice", 0.9))
	assert.Equal(t, []brief{{event.Recognized, "Alice", 9}}, briefs(got))
}

func TestAnnounceOncePerRun(t *testing.T) {
	tr := newTracker(t)

	got := run(t, tr, 1, 30, seen("Alice", 0.8))
	assert.Equal(t, 1, len(got))
}

func TestShortGapDoesNotReannounce(t *testing.T) {
	tr := newTracker(t)
	run(t, tr, 1, 3, seen("Alice", 0.9))

	// Two absent cycles is below the 300ms departure threshold.
	gap := run(t, tr, 4, 5)
	assert.Empty(t, gap)

	back := run(t, tr, 6, 12, seen("Alice", 0.9))
	assert.Empty(t, back, "announced identity returning within the departure window must not re-announce")
}

func TestGapRestartsUnannouncedDebounce(t *testing.T) {
	tr := newTracker(t)
	run(t, tr, 1, 2, seen("Bob", 0.7))
	run(t, tr, 3, 3) // one absent cycle

	got := run(t, tr, 4, 5, seen("Bob", 0.7))
	assert.Empty(t, got, "debounce restarts after a gap")

	got = run(t, tr, 6, 6, seen("Bob", 0.7))
	assert.Equal(t, []brief{{event.Recognized, "Bob", 6}}, briefs(got))
}

func TestCounterInvariant(t *testing.T) {
	tr := newTracker(t)
	pattern := []bool{true, true, false, true, false, false, true, true, true, false, false, false, false}

	for i, present := range pattern {
		c := uint64(i + 1)
		var obs []Observation
		if present {
			obs = append(obs, seen("Alice", 0.9))
		}
		_, err := tr.Submit(batch(c, obs...))
		require.NoError(t, err)

		for _, s := range tr.Subjects() {
			assert.Equal(t, s.ConsecutivePresent > 0, s.ConsecutiveAbsent == 0,
				"cycle %d: present=%d absent=%d", c, s.ConsecutivePresent, s.ConsecutiveAbsent)
		}
	}
}

func TestStaleCycleIsIdempotent(t *testing.T) {
	tr := newTracker(t)
	run(t, tr, 1, 2, seen("Alice", 0.9))
	before, _ := tr.Subject("Alice")

	for _, c := range []uint64{2, 1} {
		got, err := tr.Submit(batch(3, seen("Alice", 0.9)).withCycle(c))
		require.ErrorIs(t, err, errors.ErrStaleCycle)
		assert.Empty(t, got)
	}

	after, _ := tr.Subject("Alice")
	assert.Equal(t, before, after, "stale batch must not change state")
	assert.Equal(t, uint64(2), tr.Stats().Cycles)
}

func (b Batch) withCycle(c uint64) Batch {
	b.Cycle = c
	return b
}

func TestDuplicateIdentityKeepsHighestConfidence(t *testing.T) {
	tr := New(Config{Debounce: 0, Departure: time.Second}, nil)

	got, err := tr.Submit(batch(1, seen("Alice", 0.4), seen("Alice", 0.95), seen("Alice", 0.6)))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0.95, got[0].Confidence)

	s, _ := tr.Subject("Alice")
	assert.Equal(t, 1, s.ConsecutivePresent, "duplicates count once per cycle")
}

func TestZeroDebounceAnnouncesOnFirstSight(t *testing.T) {
	tr := New(Config{Departure: time.Second}, nil)

	got, err := tr.Submit(batch(1, seen("Alice", 0.9), seen(event.UnknownIdentity, 0.3)))
	require.NoError(t, err)
	assert.Equal(t, []brief{
		{event.Recognized, "Alice", 1},
		{event.Unknown, event.UnknownIdentity, 1},
	}, briefs(got))
}

func TestUnannouncedSubjectDroppedSilently(t *testing.T) {
	tr := newTracker(t)
	run(t, tr, 1, 1, seen("Ghost", 0.5))

	got := run(t, tr, 2, 4)
	// No DEPARTED for an identity that was never announced; NO_SUBJECTS once it is gone.
	assert.Equal(t, []brief{{event.NoSubjects, "", 4}}, briefs(got))
	assert.Equal(t, 0, tr.Stats().Tracked)
}

func TestNoSubjectsIsEdgeTriggered(t *testing.T) {
	tr := newTracker(t)

	got := run(t, tr, 1, 5)
	assert.Equal(t, []brief{{event.NoSubjects, "", 1}}, briefs(got))

	run(t, tr, 6, 8, seen("Alice", 0.9))
	got = run(t, tr, 9, 20)
	assert.Equal(t, []brief{
		{event.Departed, "Alice", 11},
		{event.NoSubjects, "", 11},
	}, briefs(got))
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		obs  Observation
	}{
		{"empty identity", Observation{Identity: "", Confidence: 0.5}},
		{"confidence above one", Observation{Identity: "Alice", Confidence: 1.2}},
		{"negative confidence", Observation{Identity: "Alice", Confidence: -0.1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker(t)
			_, err := tr.Submit(batch(1, tt.obs))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidInput)
			assert.Equal(t, uint64(0), tr.Stats().Cycles)

			// The rejected cycle number is still usable.
			_, err = tr.Submit(batch(1))
			assert.NoError(t, err)
		})
	}
}

func TestZeroTimestampUsesClock(t *testing.T) {
	now := t0
	tr := New(Config{Debounce: 200 * time.Millisecond, Departure: time.Second}, nil,
		WithClock(func() time.Time { return now }))

	for c := uint64(1); c <= 3; c++ {
		got, err := tr.Submit(Batch{Cycle: c, Observations: []Observation{seen("Alice", 0.9)}})
		require.NoError(t, err)
		if c < 3 {
			assert.Empty(t, got)
		} else {
			require.Len(t, got, 1)
			assert.Equal(t, now, got[0].Timestamp)
		}
		now = now.Add(cadence)
	}
}

func TestCallbacks(t *testing.T) {
	t.Run("delivered after state update in registration order", func(t *testing.T) {
		tr := newTracker(t)
		var order []string

		tr.RegisterAll(func(e event.Event) error {
			order = append(order, "all:"+e.Kind.String())
			return nil
		})
		tr.Register(event.Recognized, func(e event.Event) error {
			s, ok := tr.Subject(e.Subject)
			assert.True(t, ok && s.Announced, "state must already be updated when handlers run")
			order = append(order, "rec:"+e.Subject)
			return nil
		})

		run(t, tr, 1, 3, seen("Alice", 0.9))
		assert.Equal(t, []string{"all:recognized", "rec:Alice"}, order)
	})

	t.Run("panicking callback is isolated", func(t *testing.T) {
		tr := newTracker(t)
		calls := 0
		tr.Register(event.Recognized, func(event.Event) error { panic("callback bug") })
		tr.Register(event.Recognized, func(event.Event) error { calls++; return nil })

		got := run(t, tr, 1, 3, seen("Alice", 0.9), seen("Bob", 0.8))
		assert.Len(t, got, 2)
		assert.Equal(t, 2, calls)
		assert.Equal(t, uint64(2), tr.Stats().CallbackFailures)

		// Tracker keeps working on later cycles.
		got = run(t, tr, 4, 6)
		assert.Len(t, got, 3)
	})

	t.Run("unregister", func(t *testing.T) {
		tr := newTracker(t)
		calls := 0
		id := tr.Register(event.Recognized, func(event.Event) error { calls++; return nil })
		assert.True(t, tr.Unregister(id))
		assert.False(t, tr.Unregister(id))

		run(t, tr, 1, 3, seen("Alice", 0.9))
		assert.Zero(t, calls)
	})
}

func TestStatsAndHistory(t *testing.T) {
	tr := newTracker(t)
	tr.RegisterAll(func(event.Event) error { return nil })

	run(t, tr, 1, 3, seen("Alice", 0.9), seen(event.UnknownIdentity, 0.2))
	run(t, tr, 4, 6, seen("Bob", 0.85))

	st := tr.Stats()
	assert.Equal(t, uint64(6), st.Cycles)
	assert.Equal(t, uint64(6), st.LastCycle)
	assert.Equal(t, []string{"Bob"}, st.TrackedNames, "Alice and unknown departed on cycle 6")
	assert.Equal(t, uint64(2), st.RecognizedCount)
	assert.Equal(t, uint64(1), st.UnknownCount)
	assert.Equal(t, uint64(5), st.TotalEvents) // 2 recognized, 1 unknown, 2 departed
	assert.Equal(t, uint64(2), st.EventCounts[event.Departed])
	assert.Equal(t, 1, st.Callbacks)
	assert.Equal(t, 5, st.HistorySize)

	recent := tr.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(6), recent[1].Cycle)
}

func TestHistoryIsBounded(t *testing.T) {
	tr := New(Config{Departure: 0, HistorySize: 3}, nil)

	for c := uint64(1); c <= 10; c++ {
		var obs []Observation
		if c%2 == 1 {
			obs = append(obs, seen("Alice", 0.9))
		}
		_, err := tr.Submit(batch(c, obs...))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, tr.Stats().HistorySize)
	recent := tr.Recent(0)
	require.Len(t, recent, 3)
	assert.Equal(t, uint64(10), recent[2].Cycle)
}

func TestReset(t *testing.T) {
	tr := newTracker(t)
	tr.RegisterAll(func(event.Event) error { return nil })
	run(t, tr, 1, 5, seen("Alice", 0.9))

	tr.Reset()

	st := tr.Stats()
	assert.Zero(t, st.Cycles)
	assert.Zero(t, st.Tracked)
	assert.Zero(t, st.HistorySize)
	assert.Equal(t, 1, st.Callbacks, "handlers survive a reset")

	// Cycle numbering may start over.
	got := run(t, tr, 1, 3, seen("Alice", 0.9))
	assert.Len(t, got, 1)
}

func TestEventsCarryRegion(t *testing.T) {
	tr := New(Config{Departure: time.Second}, nil)
	region := &event.Region{Top: 10, Right: 120, Bottom: 140, Left: 20}

	got, err := tr.Submit(batch(1, Observation{Identity: "Alice", Confidence: 0.9, Region: region}))
	require.NoError(t, err)
	require.Len(t, got, 1)

	want := event.Event{Kind: event.Recognized, Subject: "Alice", Confidence: 0.9, Region: region, Cycle: 1, Timestamp: t0}
	if diff := cmp.Diff(want, got[0], cmpopts.EquateApproxTime(0)); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}
