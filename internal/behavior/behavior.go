// Package behavior defines physical gestures as immutable sequences of head
// poses, the built-in gesture library, and a YAML loader for custom
// libraries.
package behavior

import (
	"fmt"
	"math"
	"time"

	"github.com/Iron-Ham/greeter/internal/errors"
)

// Pose limits accepted by Validate, in degrees.
const (
	MaxRoll  = 30.0
	MaxPitch = 40.0
	MaxYaw   = 180.0
)

// Priority bounds. Higher priorities preempt lower interruptible behaviors.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Pose is an abstract head orientation (degrees) and position offset
// (meters), plus an optional auxiliary antenna angle.
type Pose struct {
	Roll     float64  `yaml:"roll"`
	Pitch    float64  `yaml:"pitch"`
	Yaw      float64  `yaml:"yaw"`
	X        float64  `yaml:"x"`
	Y        float64  `yaml:"y"`
	Z        float64  `yaml:"z"`
	Antennas *float64 `yaml:"antennas,omitempty"`
}

// Step is one pose in a behavior. When Wait is set the worker holds the pose
// for Hold before moving on; otherwise the next step follows immediately.
type Step struct {
	Pose Pose
	Hold time.Duration
	Wait bool
}

// Behavior is a named, prioritized gesture. Values are shared between
// goroutines and must not be mutated once built; derive variants with
// WithPriority or construct a fresh one.
type Behavior struct {
	Name          string
	Steps         []Step
	Interruptible bool
	Priority      int
}

// Duration is the total time the behavior spends holding poses.
func (b *Behavior) Duration() time.Duration {
	var d time.Duration
	for _, s := range b.Steps {
		if s.Wait {
			d += s.Hold
		}
	}
	return d
}

// WithPriority returns a copy of b with a different priority.
func (b *Behavior) WithPriority(p int) *Behavior {
	c := *b
	c.Steps = append([]Step(nil), b.Steps...)
	c.Priority = p
	return &c
}

// String renders the behavior for logs.
func (b *Behavior) String() string {
	mode := "interruptible"
	if !b.Interruptible {
		mode = "non-interruptible"
	}
	return fmt.Sprintf("%s (priority %d, %s, %d steps)", b.Name, b.Priority, mode, len(b.Steps))
}

// Validate checks that the behavior is runnable and its poses within limits.
func (b *Behavior) Validate() error {
	if b.Name == "" {
		return errors.NewValidationError("behavior name is required").WithField("name")
	}
	if len(b.Steps) == 0 {
		return errors.NewValidationError("behavior needs at least one step").WithField(b.Name + ".steps")
	}
	if b.Priority < MinPriority || b.Priority > MaxPriority {
		return errors.NewValidationError(fmt.Sprintf("priority must be between %d and %d", MinPriority, MaxPriority)).
			WithField(b.Name + ".priority").WithValue(b.Priority)
	}
	for i, s := range b.Steps {
		field := fmt.Sprintf("%s.steps[%d]", b.Name, i)
		switch {
		case s.Hold < 0:
			return errors.NewValidationError("hold must be non-negative").WithField(field + ".hold").WithValue(s.Hold)
		case math.Abs(s.Pose.Roll) > MaxRoll:
			return errors.NewValidationError(fmt.Sprintf("roll must be within ±%g", MaxRoll)).WithField(field + ".roll").WithValue(s.Pose.Roll)
		case math.Abs(s.Pose.Pitch) > MaxPitch:
			return errors.NewValidationError(fmt.Sprintf("pitch must be within ±%g", MaxPitch)).WithField(field + ".pitch").WithValue(s.Pose.Pitch)
		case math.Abs(s.Pose.Yaw) > MaxYaw:
			return errors.NewValidationError(fmt.Sprintf("yaw must be within ±%g", MaxYaw)).WithField(field + ".yaw").WithValue(s.Pose.Yaw)
		}
	}
	return nil
}
