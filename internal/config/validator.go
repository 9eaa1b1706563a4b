package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "tracker.debounce_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidPersonalities returns the list of valid greeting personalities
func ValidPersonalities() []string {
	return []string{"warm", "playful", "formal"}
}

// ValidSpeechBackends returns the list of valid speech backend names
func ValidSpeechBackends() []string {
	return []string{"remote", "log"}
}

// ValidActuatorDrivers returns the list of valid actuator drivers
func ValidActuatorDrivers() []string {
	return []string{"sim", "remote"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateTracker()...)
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateCoordinator()...)
	errors = append(errors, c.validateIdle()...)
	errors = append(errors, c.validatePhrases()...)
	errors = append(errors, c.validateSpeech()...)
	errors = append(errors, c.validateActuator()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func nonNegative(field string, v int) []ValidationError {
	if v < 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be non-negative"}}
	}
	return nil
}

func positive(field string, v int) []ValidationError {
	if v <= 0 {
		return []ValidationError{{Field: field, Value: v, Message: "must be positive"}}
	}
	return nil
}

func (c *Config) validateTracker() []ValidationError {
	var errors []ValidationError
	errors = append(errors, nonNegative("tracker.debounce_ms", c.Tracker.DebounceMs)...)
	errors = append(errors, nonNegative("tracker.departure_ms", c.Tracker.DepartureMs)...)
	errors = append(errors, positive("tracker.history_size", c.Tracker.HistorySize)...)
	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError
	errors = append(errors, positive("scheduler.cancel_timeout_ms", c.Scheduler.CancelTimeoutMs)...)

	if c.Scheduler.GreetingBehavior == "" {
		errors = append(errors, ValidationError{
			Field:   "scheduler.greeting_behavior",
			Value:   c.Scheduler.GreetingBehavior,
			Message: "must name a behavior",
		})
	}
	for name, p := range c.Scheduler.Priorities {
		if p < 1 || p > 10 {
			errors = append(errors, ValidationError{
				Field:   "scheduler.priorities." + name,
				Value:   p,
				Message: "must be between 1 and 10",
			})
		}
	}
	return errors
}

func (c *Config) validateCoordinator() []ValidationError {
	var errors []ValidationError
	errors = append(errors, nonNegative("coordinator.gesture_speech_offset_ms", c.Coordinator.GestureSpeechOffsetMs)...)
	errors = append(errors, positive("coordinator.latency_target_ms", c.Coordinator.LatencyTargetMs)...)

	if d := c.Coordinator.Dispatch; d != DispatchAsync && d != DispatchSync {
		errors = append(errors, ValidationError{
			Field:   "coordinator.dispatch",
			Value:   d,
			Message: fmt.Sprintf("must be %q or %q", DispatchAsync, DispatchSync),
		})
	}
	return errors
}

func (c *Config) validateIdle() []ValidationError {
	if !c.Idle.Enabled {
		return nil
	}
	var errors []ValidationError
	errors = append(errors, nonNegative("idle.activation_threshold_ms", c.Idle.ActivationThresholdMs)...)
	errors = append(errors, positive("idle.interval_ms", c.Idle.IntervalMs)...)
	return errors
}

func (c *Config) validatePhrases() []ValidationError {
	var errors []ValidationError
	p := c.Phrases

	if !slices.Contains(ValidPersonalities(), p.Personality) {
		errors = append(errors, ValidationError{
			Field:   "phrases.personality",
			Value:   p.Personality,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPersonalities(), ", ")),
		})
	}
	errors = append(errors, nonNegative("phrases.repetition_window", p.RepetitionWindow)...)

	hours := []struct {
		field string
		v     int
	}{
		{"phrases.morning_start", p.MorningStart},
		{"phrases.afternoon_start", p.AfternoonStart},
		{"phrases.evening_start", p.EveningStart},
		{"phrases.night_start", p.NightStart},
	}
	for i, h := range hours {
		if h.v < 0 || h.v > 23 {
			errors = append(errors, ValidationError{Field: h.field, Value: h.v, Message: "must be an hour between 0 and 23"})
			continue
		}
		if i > 0 && h.v <= hours[i-1].v {
			errors = append(errors, ValidationError{
				Field:   h.field,
				Value:   h.v,
				Message: fmt.Sprintf("must be after %s (%d)", hours[i-1].field, hours[i-1].v),
			})
		}
	}
	return errors
}

func (c *Config) validateSpeech() []ValidationError {
	var errors []ValidationError
	s := c.Speech

	if len(s.Backends) == 0 {
		errors = append(errors, ValidationError{Field: "speech.backends", Value: s.Backends, Message: "must list at least one backend"})
	}
	seen := make(map[string]bool)
	for i, b := range s.Backends {
		field := fmt.Sprintf("speech.backends[%d]", i)
		if !slices.Contains(ValidSpeechBackends(), b) {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   b,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidSpeechBackends(), ", ")),
			})
		}
		if seen[b] {
			errors = append(errors, ValidationError{Field: field, Value: b, Message: "duplicate backend"})
		}
		seen[b] = true
	}
	if seen["remote"] {
		errors = append(errors, validateWebsocketURL("speech.remote_url", s.RemoteURL)...)
	}
	errors = append(errors, positive("speech.timeout_ms", s.TimeoutMs)...)
	return errors
}

func (c *Config) validateActuator() []ValidationError {
	var errors []ValidationError
	a := c.Actuator

	if !slices.Contains(ValidActuatorDrivers(), a.Driver) {
		errors = append(errors, ValidationError{
			Field:   "actuator.driver",
			Value:   a.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidActuatorDrivers(), ", ")),
		})
	}
	if a.Driver == "remote" {
		errors = append(errors, validateWebsocketURL("actuator.remote_url", a.RemoteURL)...)
	}
	errors = append(errors, positive("actuator.timeout_ms", a.TimeoutMs)...)
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError
	l := c.Logging

	if !slices.Contains(ValidLogLevels(), strings.ToLower(l.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   l.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	errors = append(errors, nonNegative("logging.max_size_mb", l.MaxSizeMB)...)
	errors = append(errors, nonNegative("logging.max_backups", l.MaxBackups)...)
	return errors
}

func validateWebsocketURL(field, raw string) []ValidationError {
	if raw == "" {
		return []ValidationError{{Field: field, Value: raw, Message: "is required for the remote driver"}}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return []ValidationError{{Field: field, Value: raw, Message: "must be a ws:// or wss:// URL"}}
	}
	return nil
}
