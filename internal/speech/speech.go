// Package speech turns greeting text into audible speech.
//
// A Speaker is one backend. Failover chains several backends in priority
// order, falling through to the next on error and keeping per-backend
// statistics.
package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/greeter/internal/errors"
	"github.com/Iron-Ham/greeter/internal/logging"
	"github.com/Iron-Ham/greeter/internal/remote"
)

// Utterance is something to say. Tone is a delivery hint such as "warm" or
// "curious"; backends that cannot vary delivery ignore it.
type Utterance struct {
	Text string `json:"text"`
	Tone string `json:"tone,omitempty"`
}

// Speaker is a speech backend.
type Speaker interface {
	Name() string
	Speak(ctx context.Context, u Utterance) error
}

// LogSpeaker "speaks" by writing the text to the log. It is the simulation
// backend and the last resort in a failover chain.
type LogSpeaker struct {
	logger *logging.Logger
}

// NewLogSpeaker creates a LogSpeaker.
func NewLogSpeaker(logger *logging.Logger) *LogSpeaker {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LogSpeaker{logger: logger.WithComponent("speech")}
}

// Name returns "log".
func (s *LogSpeaker) Name() string { return "log" }

// Speak logs the utterance.
func (s *LogSpeaker) Speak(ctx context.Context, u Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.logger.Info("speaking", "text", u.Text, "tone", u.Tone)
	return nil
}

// Remote speaks through a websocket speech daemon. The call returns once
// the daemon has accepted the utterance for playback.
type Remote struct {
	client *remote.Client
}

// NewRemote wraps a remote client.
func NewRemote(client *remote.Client) *Remote {
	return &Remote{client: client}
}

// Name returns "remote".
func (r *Remote) Name() string { return "remote" }

// Speak sends a "speak" request.
func (r *Remote) Speak(ctx context.Context, u Utterance) error {
	return r.client.Call(ctx, "speak", u)
}

// Close releases the underlying connection.
func (r *Remote) Close() error {
	return r.client.Close()
}

// BackendStats counts one backend's outcomes.
type BackendStats struct {
	Name              string
	Successes         int
	Failures          int
	TotalLatency      time.Duration
	LastFailure       time.Time
	LastFailureReason string
}

// AvgLatency is the mean latency of successful calls.
func (b BackendStats) AvgLatency() time.Duration {
	if b.Successes == 0 {
		return 0
	}
	return b.TotalLatency / time.Duration(b.Successes)
}

// SuccessRate is the percentage of calls that succeeded.
func (b BackendStats) SuccessRate() float64 {
	total := b.Successes + b.Failures
	if total == 0 {
		return 0
	}
	return float64(b.Successes) / float64(total) * 100
}

// Stats is a snapshot of a Failover's counters.
type Stats struct {
	Requests  int
	Successes int
	Failures  int
	Backends  []BackendStats
}

// SuccessRate is the percentage of requests that some backend served.
func (s Stats) SuccessRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Requests) * 100
}

// Failover tries its backends in order until one succeeds.
type Failover struct {
	backends []Speaker
	logger   *logging.Logger
	now      func() time.Time

	mu        sync.Mutex
	requests  int
	successes int
	failures  int
	stats     []BackendStats
}

// NewFailover creates a chain over backends, highest priority first.
func NewFailover(logger *logging.Logger, backends ...Speaker) *Failover {
	if logger == nil {
		logger = logging.NopLogger()
	}
	f := &Failover{
		backends: backends,
		logger:   logger.WithComponent("speech"),
		now:      time.Now,
		stats:    make([]BackendStats, len(backends)),
	}
	for i, b := range backends {
		f.stats[i].Name = b.Name()
	}
	return f
}

// Name lists the chain, e.g. "failover(remote,log)".
func (f *Failover) Name() string {
	names := make([]string, len(f.backends))
	for i, b := range f.backends {
		names[i] = b.Name()
	}
	return "failover(" + strings.Join(names, ",") + ")"
}

// Speak tries each backend in order. If every backend fails the returned
// error matches errors.ErrAllBackendsFailed and wraps each backend's error.
// A done context stops the chain early.
func (f *Failover) Speak(ctx context.Context, u Utterance) error {
	f.mu.Lock()
	f.requests++
	f.mu.Unlock()

	if len(f.backends) == 0 {
		f.recordFailure()
		return errors.NewSpeechError("no speech backends configured", errors.ErrSpeechUnavailable)
	}

	var errs []error
	for i, b := range f.backends {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		start := f.now()
		err := safeSpeak(ctx, b, u)
		elapsed := f.now().Sub(start)

		if err == nil {
			f.mu.Lock()
			f.stats[i].Successes++
			f.stats[i].TotalLatency += elapsed
			f.successes++
			f.mu.Unlock()
			f.logger.Debug("speech delivered", "backend", b.Name(), "latency_ms", elapsed.Milliseconds())
			return nil
		}

		f.mu.Lock()
		f.stats[i].Failures++
		f.stats[i].LastFailure = f.now()
		f.stats[i].LastFailureReason = err.Error()
		f.mu.Unlock()

		serr := errors.NewSpeechError("speak", err).WithBackend(b.Name())
		f.logger.Warn("speech backend failed", "backend", b.Name(), "error", err)
		errs = append(errs, serr)
	}

	f.recordFailure()
	f.logger.Error("all speech backends failed", "text", u.Text)
	return fmt.Errorf("%w: %w", errors.ErrAllBackendsFailed, errors.Join(errs...))
}

func (f *Failover) recordFailure() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

// Stats returns a snapshot of the chain's counters.
func (f *Failover) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Requests:  f.requests,
		Successes: f.successes,
		Failures:  f.failures,
		Backends:  append([]BackendStats(nil), f.stats...),
	}
}

func safeSpeak(ctx context.Context, s Speaker, u Utterance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("speaker %s panicked: %v", s.Name(), r)
		}
	}()
	return s.Speak(ctx, u)
}
