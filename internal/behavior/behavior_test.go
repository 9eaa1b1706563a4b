package behavior

import (
	"math"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/greeter/internal/errors"
)

func TestDefaultLibrary_Builtins(t *testing.T) {
	lib := DefaultLibrary()

	tests := []struct {
		name          string
		priority      int
		interruptible bool
		steps         int
		duration      time.Duration
	}{
		{GreetingWave, 8, false, 4, 1200 * time.Millisecond},
		{CuriousTilt, 6, true, 3, 1500 * time.Millisecond},
		{UnknownGreeting, 7, false, 5, 1800 * time.Millisecond},
		{UnknownCurious, 6, true, 6, 2700 * time.Millisecond},
		{Neutral, 3, true, 1, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, ok := lib.Get(tt.name)
			if !ok {
				t.Fatalf("Get(%q) not found", tt.name)
			}
			if b.Priority != tt.priority {
				t.Errorf("Priority = %d, want %d", b.Priority, tt.priority)
			}
			if b.Interruptible != tt.interruptible {
				t.Errorf("Interruptible = %v, want %v", b.Interruptible, tt.interruptible)
			}
			if len(b.Steps) != tt.steps {
				t.Errorf("len(Steps) = %d, want %d", len(b.Steps), tt.steps)
			}
			if got := b.Duration(); got != tt.duration {
				t.Errorf("Duration() = %v, want %v", got, tt.duration)
			}
			if err := b.Validate(); err != nil {
				t.Errorf("built-in failed validation: %v", err)
			}
		})
	}

	want := []string{CuriousTilt, GreetingWave, Neutral, UnknownCurious, UnknownGreeting}
	if got := lib.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestGreetingWave_Poses(t *testing.T) {
	b := DefaultLibrary().MustGet(GreetingWave)
	rolls := make([]float64, 0, len(b.Steps))
	for _, s := range b.Steps {
		rolls = append(rolls, s.Pose.Roll)
		if !s.Wait {
			t.Errorf("greeting step should wait: %+v", s)
		}
	}
	if want := []float64{0, 15, -15, 0}; !slices.Equal(rolls, want) {
		t.Errorf("rolls = %v, want %v", rolls, want)
	}
}

func TestMustGet_PanicsOnMissing(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustGet should panic for a missing behavior")
		}
	}()
	NewLibrary().MustGet("nope")
}

func TestBehavior_Validate(t *testing.T) {
	valid := func() *Behavior {
		return &Behavior{Name: "nod", Priority: 5, Steps: []Step{{Pose: Pose{Pitch: 10}, Hold: time.Second, Wait: true}}}
	}

	tests := []struct {
		name      string
		mutate    func(*Behavior)
		wantField string
	}{
		{"missing name", func(b *Behavior) { b.Name = "" }, "name"},
		{"no steps", func(b *Behavior) { b.Steps = nil }, "nod.steps"},
		{"priority too low", func(b *Behavior) { b.Priority = 0 }, "nod.priority"},
		{"priority too high", func(b *Behavior) { b.Priority = 11 }, "nod.priority"},
		{"negative hold", func(b *Behavior) { b.Steps[0].Hold = -time.Second }, "nod.steps[0].hold"},
		{"roll out of range", func(b *Behavior) { b.Steps[0].Pose.Roll = 31 }, "nod.steps[0].roll"},
		{"pitch out of range", func(b *Behavior) { b.Steps[0].Pose.Pitch = -41 }, "nod.steps[0].pitch"},
		{"yaw out of range", func(b *Behavior) { b.Steps[0].Pose.Yaw = 181 }, "nod.steps[0].yaw"},
		{"negative yaw out of range", func(b *Behavior) { b.Steps[0].Pose.Yaw = -181 }, "nod.steps[0].yaw"},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid behavior rejected: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid()
			tt.mutate(b)
			err := b.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			var verr *errors.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Error("validation error should match ErrInvalidInput")
			}
		})
	}
}

func TestBehavior_WithPriorityCopies(t *testing.T) {
	orig := DefaultLibrary().MustGet(Neutral)
	c := orig.WithPriority(9)

	if c.Priority != 9 || orig.Priority != 3 {
		t.Errorf("priorities = %d/%d, want 9/3", c.Priority, orig.Priority)
	}
	c.Steps[0].Hold = time.Hour
	if orig.Steps[0].Hold == time.Hour {
		t.Error("WithPriority should copy steps")
	}
}

func TestBehavior_String(t *testing.T) {
	s := DefaultLibrary().MustGet(GreetingWave).String()
	for _, want := range []string{"greeting_wave", "priority 8", "non-interruptible", "4 steps"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() = %q, missing %q", s, want)
		}
	}
}

func TestLibrary_ApplyPriorities(t *testing.T) {
	t.Run("overrides", func(t *testing.T) {
		lib := DefaultLibrary()
		before := lib.MustGet(CuriousTilt)

		if err := lib.ApplyPriorities(map[string]int{CuriousTilt: 9}); err != nil {
			t.Fatalf("ApplyPriorities() error = %v", err)
		}
		if got := lib.MustGet(CuriousTilt).Priority; got != 9 {
			t.Errorf("priority = %d, want 9", got)
		}
		if before.Priority != 6 {
			t.Errorf("previously fetched behavior mutated to %d", before.Priority)
		}
	})

	t.Run("unknown name", func(t *testing.T) {
		lib := DefaultLibrary()
		if err := lib.ApplyPriorities(map[string]int{"dance": 5}); err == nil {
			t.Error("expected error for unknown behavior")
		}
	})

	t.Run("out of range leaves library untouched", func(t *testing.T) {
		lib := DefaultLibrary()
		err := lib.ApplyPriorities(map[string]int{Neutral: 4, GreetingWave: 0})
		if err == nil {
			t.Fatal("expected error for priority 0")
		}
		if got := lib.MustGet(Neutral).Priority; got != 3 {
			t.Errorf("neutral priority = %d, want unchanged 3", got)
		}
	})
}

func TestLibrary_AddAndMerge(t *testing.T) {
	lib := NewLibrary()
	if err := lib.Add(&Behavior{Name: "bad"}); err == nil {
		t.Error("Add should reject an invalid behavior")
	}
	if lib.Len() != 0 {
		t.Errorf("Len() = %d, want 0", lib.Len())
	}

	custom := NewLibrary()
	if err := custom.Add(&Behavior{Name: Neutral, Priority: 2, Steps: []Step{{Hold: time.Second, Wait: true}}}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	base := DefaultLibrary()
	base.Merge(custom)
	if got := base.MustGet(Neutral).Priority; got != 2 {
		t.Errorf("merged neutral priority = %d, want 2", got)
	}
	if base.Len() != 5 {
		t.Errorf("Len() = %d, want 5", base.Len())
	}
}

func TestIdleDrift(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for range 50 {
		b := IdleDrift(rng)
		if b.Name != IdleDriftName || b.Priority != IdleDriftPriority || !b.Interruptible {
			t.Fatalf("unexpected drift header: %s", b)
		}
		if len(b.Steps) != 2 {
			t.Fatalf("len(Steps) = %d, want 2", len(b.Steps))
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("drift failed validation: %v", err)
		}
		first, settle := b.Steps[0], b.Steps[1]
		if first.Wait || settle.Wait {
			t.Error("drift steps should not wait")
		}
		if first.Hold < 2*time.Second || first.Hold >= 4*time.Second {
			t.Errorf("hold = %v, want in [2s, 4s)", first.Hold)
		}
		if math.Abs(first.Pose.Roll) > 5 || math.Abs(first.Pose.Pitch) > 5 || math.Abs(first.Pose.Yaw) > 10 {
			t.Errorf("wander pose out of range: %+v", first.Pose)
		}
		if math.Abs(settle.Pose.Roll) > 2 || math.Abs(settle.Pose.Pitch) > 2 || math.Abs(settle.Pose.Yaw) > 5 {
			t.Errorf("settle pose out of range: %+v", settle.Pose)
		}
	}
}

func TestIdleDrift_FreshEachCall(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	a, b := IdleDrift(rng), IdleDrift(rng)
	if a == b {
		t.Fatal("IdleDrift returned the same value twice")
	}
	if a.Steps[0].Pose == b.Steps[0].Pose {
		t.Error("consecutive drifts should differ")
	}
	if IdleDrift(nil) == nil {
		t.Error("IdleDrift(nil) should use a default source")
	}
}
