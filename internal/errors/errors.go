// Package errors provides centralized error definitions and error handling utilities
// for greeter. It defines sentinel errors for the coordination core, domain error
// types for the external collaborators (actuator and speech backends), and
// classification helpers.
//
// # Error Types
//
// Domain-specific errors describe collaborator failures:
//   - ActuatorError: a pose command could not be applied
//   - SpeechError: a speech backend failed to synthesize or play an utterance
//   - ConfigError: configuration could not be loaded or applied
//
// Semantic errors represent common error conditions:
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// None of these are fatal to the process. The coordination core logs them at
// the boundary where they occur and carries on with the next cycle.
//
// # Usage
//
//	err := errors.NewActuatorError("apply pose", cause).WithBehavior("greeting_wave").WithStep(2)
//	if errors.IsRetryable(err) { ... }
//
//	var speechErr *errors.SpeechError
//	if errors.As(err, &speechErr) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Tracker sentinel errors
var (
	// ErrStaleCycle indicates a batch whose cycle number is not newer than the
	// last accepted one. The batch is ignored.
	ErrStaleCycle = New("stale cycle number")
	// ErrInvalidConfidence indicates an observation confidence outside [0,1].
	ErrInvalidConfidence = New("confidence out of range")
)

// Scheduler sentinel errors
var (
	// ErrCancelTimeout indicates the active behavior did not stop within the
	// cancellation timeout.
	ErrCancelTimeout = New("behavior cancellation timed out")
	// ErrSchedulerClosed indicates the scheduler no longer accepts behaviors.
	ErrSchedulerClosed = New("scheduler closed")
)

// Collaborator sentinel errors
var (
	// ErrActuatorUnavailable indicates the actuator driver cannot accept commands.
	ErrActuatorUnavailable = New("actuator unavailable")
	// ErrSpeechUnavailable indicates a speech backend cannot accept utterances.
	ErrSpeechUnavailable = New("speech backend unavailable")
	// ErrAllBackendsFailed indicates every speech backend in a chain failed.
	ErrAllBackendsFailed = New("all speech backends failed")
	// ErrNotConnected indicates a remote transport has no live connection.
	ErrNotConnected = New("not connected")
	// ErrRejected indicates a remote peer acknowledged a request with a failure.
	ErrRejected = New("request rejected by peer")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// GreeterError is the base interface for all domain errors.
type GreeterError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// ActuatorError represents a failure to drive the physical actuator.
//
// Example:
//
//	err := errors.NewActuatorError("apply pose", errors.ErrActuatorUnavailable)
//	err = err.WithBehavior("greeting_wave").WithStep(1)
//	fmt.Println(err) // "actuator error [behavior=greeting_wave, step=1]: apply pose: actuator unavailable"
type ActuatorError struct {
	baseError
	Behavior string
	Step     int
}

// NewActuatorError creates a new ActuatorError. Actuator failures are
// transient by default; the next behavior may well succeed.
func NewActuatorError(message string, cause error) *ActuatorError {
	return &ActuatorError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			retryable: true,
		},
		Step: -1,
	}
}

// WithBehavior adds the behavior name to the error context.
func (e *ActuatorError) WithBehavior(name string) *ActuatorError {
	e.Behavior = name
	return e
}

// WithStep adds the step index to the error context.
func (e *ActuatorError) WithStep(step int) *ActuatorError {
	e.Step = step
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *ActuatorError) WithRetryable(r bool) *ActuatorError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *ActuatorError) Error() string {
	var parts []string
	if e.Behavior != "" {
		parts = append(parts, fmt.Sprintf("behavior=%s", e.Behavior))
	}
	if e.Step >= 0 {
		parts = append(parts, fmt.Sprintf("step=%d", e.Step))
	}
	return formatDomain("actuator error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ActuatorError) Is(target error) bool {
	if _, ok := target.(*ActuatorError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// SpeechError represents a failure in a speech backend.
//
// Example:
//
//	err := errors.NewSpeechError("speak", cause).WithBackend("remote").WithSubject("Alice")
type SpeechError struct {
	baseError
	Backend string
	Subject string
}

// NewSpeechError creates a new SpeechError.
func NewSpeechError(message string, cause error) *SpeechError {
	return &SpeechError{
		baseError: baseError{
			message:   message,
			cause:     cause,
			retryable: true,
		},
	}
}

// WithBackend adds the backend name to the error context.
func (e *SpeechError) WithBackend(name string) *SpeechError {
	e.Backend = name
	return e
}

// WithSubject adds the addressed subject to the error context.
func (e *SpeechError) WithSubject(name string) *SpeechError {
	e.Subject = name
	return e
}

// Error returns the formatted error message.
func (e *SpeechError) Error() string {
	var parts []string
	if e.Backend != "" {
		parts = append(parts, fmt.Sprintf("backend=%s", e.Backend))
	}
	if e.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject=%s", e.Subject))
	}
	return formatDomain("speech error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *SpeechError) Is(target error) bool {
	if _, ok := target.(*SpeechError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ConfigError represents a configuration that cannot be loaded or used to
// construct a component. Unlike collaborator failures it is never retryable.
type ConfigError struct {
	baseError
	Key string
}

// NewConfigError creates a new ConfigError.
func NewConfigError(message string, cause error) *ConfigError {
	return &ConfigError{
		baseError: baseError{
			message: message,
			cause:   cause,
		},
	}
}

// WithKey adds the offending configuration key to the error context.
func (e *ConfigError) WithKey(key string) *ConfigError {
	e.Key = key
	return e
}

// Error returns the formatted error message.
func (e *ConfigError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	return formatDomain("config error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *ConfigError) Is(target error) bool {
	if _, ok := target.(*ConfigError); ok {
		return true
	}
	return e.baseError.Is(target)
}

func formatDomain(kind string, parts []string, message string, cause error) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("must be within [0,1]").WithField("confidence").WithValue(1.4)
type ValidationError struct {
	Field   string
	Value   any
	Message string
	cause   error
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation error")
	if e.Field != "" {
		sb.WriteString(fmt.Sprintf(" [%s]", e.Field))
	}
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Value != nil {
		sb.WriteString(fmt.Sprintf(" (got: %v)", e.Value))
	}
	if e.cause != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.cause))
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("cancel behavior idle_drift", 2*time.Second)
type TimeoutError struct {
	Operation string
	Duration  time.Duration
	cause     error
	retryable bool
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		Operation: operation,
		Duration:  duration,
		retryable: true,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *TimeoutError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.cause != nil && errors.Is(e.cause, target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. This checks for:
//   - Errors implementing GreeterError with IsRetryable() returning true
//   - TimeoutError instances
//   - Errors wrapping ErrTimeout, ErrNotConnected or a collaborator-unavailable sentinel
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var greeterErr GreeterError
	if As(err, &greeterErr) {
		return greeterErr.IsRetryable()
	}

	var timeout *TimeoutError
	if As(err, &timeout) {
		return timeout.retryable
	}

	return Is(err, ErrTimeout) || Is(err, ErrNotConnected) ||
		Is(err, ErrActuatorUnavailable) || Is(err, ErrSpeechUnavailable)
}
