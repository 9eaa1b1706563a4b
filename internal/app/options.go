package app

import (
	"github.com/Iron-Ham/greeter/internal/actuator"
	"github.com/Iron-Ham/greeter/internal/coordinator"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/journal"
	"github.com/Iron-Ham/greeter/internal/logging"
	"github.com/Iron-Ham/greeter/internal/speech"
)

// hubConfig holds optional configuration for a Hub.
type hubConfig struct {
	logger     *logging.Logger
	actuator   actuator.Actuator
	speakers   []speech.Speaker
	journal    *journal.Journal
	onEvent    func(event.Event)
	onGreeting func(coordinator.Greeting)
}

// Option configures a Hub.
type Option func(*hubConfig)

// WithLogger sets the logger shared by every component.
func WithLogger(l *logging.Logger) Option {
	return func(c *hubConfig) { c.logger = l }
}

// WithActuator replaces the configured actuator driver.
func WithActuator(a actuator.Actuator) Option {
	return func(c *hubConfig) { c.actuator = a }
}

// WithSpeaker puts s ahead of the configured speech backends.
func WithSpeaker(s speech.Speaker) Option {
	return func(c *hubConfig) { c.speakers = append(c.speakers, s) }
}

// WithJournal records to j instead of the configured journal. The caller
// keeps ownership of j.
func WithJournal(j *journal.Journal) Option {
	return func(c *hubConfig) { c.journal = j }
}

// WithEventObserver calls fn for every tracker event, after the
// coordinator and idle manager have seen it.
func WithEventObserver(fn func(event.Event)) Option {
	return func(c *hubConfig) { c.onEvent = fn }
}

// WithGreetingObserver calls fn for every completed greeting.
func WithGreetingObserver(fn func(coordinator.Greeting)) Option {
	return func(c *hubConfig) { c.onGreeting = fn }
}
