// Package actuator moves the robot head. The scheduler hands each behavior
// step to an Actuator as a Command.
package actuator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/logging"
	"github.com/Iron-Ham/greeter/internal/remote"
)

// Command is one target for the head. Duration is how long the driver should
// take to reach the pose; zero means as fast as it can.
type Command struct {
	Roll     float64       `json:"roll"`
	Pitch    float64       `json:"pitch"`
	Yaw      float64       `json:"yaw"`
	X        float64       `json:"x"`
	Y        float64       `json:"y"`
	Z        float64       `json:"z"`
	Antennas *float64      `json:"antennas,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// FromStep converts a behavior step into a command.
func FromStep(s behavior.Step) Command {
	return Command{
		Roll:     s.Pose.Roll,
		Pitch:    s.Pose.Pitch,
		Yaw:      s.Pose.Yaw,
		X:        s.Pose.X,
		Y:        s.Pose.Y,
		Z:        s.Pose.Z,
		Antennas: s.Pose.Antennas,
		Duration: s.Hold,
	}
}

func (c Command) String() string {
	return fmt.Sprintf("roll=%.1f pitch=%.1f yaw=%.1f", c.Roll, c.Pitch, c.Yaw)
}

// Actuator applies commands to hardware. Implementations must be safe for
// concurrent use and should return promptly when ctx is done.
type Actuator interface {
	Apply(ctx context.Context, cmd Command) error
}

// Simulated records commands instead of moving anything.
type Simulated struct {
	logger *logging.Logger

	mu       sync.Mutex
	commands []Command
	failWith error
	delay    time.Duration
}

// NewSimulated creates a simulated actuator.
func NewSimulated(logger *logging.Logger) *Simulated {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Simulated{logger: logger.WithComponent("actuator")}
}

// Apply records cmd, or returns the injected failure.
func (s *Simulated) Apply(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	fail, delay := s.failWith, s.delay
	s.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	if fail != nil {
		return errors.NewActuatorError("simulated failure", fail)
	}

	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
	s.logger.Debug("pose", "roll", cmd.Roll, "pitch", cmd.Pitch, "yaw", cmd.Yaw)
	return nil
}

// FailWith makes later Apply calls fail with err; nil restores success.
func (s *Simulated) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// SetDelay makes Apply block for d before recording.
func (s *Simulated) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Commands returns a copy of everything applied so far.
func (s *Simulated) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Reset forgets recorded commands.
func (s *Simulated) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = nil
}

// Remote drives a head through a websocket daemon. Each command is sent as a
// "pose" request and acknowledged once the daemon accepts it.
type Remote struct {
	client *remote.Client
}

// NewRemote wraps a remote client.
func NewRemote(client *remote.Client) *Remote {
	return &Remote{client: client}
}

// Apply sends the pose and waits for the daemon's ack.
func (r *Remote) Apply(ctx context.Context, cmd Command) error {
	if err := r.client.Call(ctx, "pose", cmd); err != nil {
		if errors.Is(err, errors.ErrNotConnected) {
			err = fmt.Errorf("%w: %w", errors.ErrActuatorUnavailable, err)
		}
		aerr := errors.NewActuatorError("remote pose failed", err)
		if errors.Is(err, errors.ErrRejected) {
			aerr = aerr.WithRetryable(false)
		}
		return aerr
	}
	return nil
}

// Close releases the underlying connection.
func (r *Remote) Close() error {
	return r.client.Close()
}
