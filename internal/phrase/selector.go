// Package phrase picks what to say when greeting someone. Selection favors
// the configured personality and the current time of day, and avoids
// repeating recent lines.
package phrase

import (
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Kind is the occasion a phrase is for.
type Kind int

const (
	KindRecognized Kind = iota
	KindUnknown
	KindFarewell
)

func (k Kind) String() string {
	switch k {
	case KindRecognized:
		return "recognized"
	case KindUnknown:
		return "unknown"
	case KindFarewell:
		return "farewell"
	default:
		return "unknown_kind"
	}
}

// TimeOfDay buckets the hour for template filtering.
type TimeOfDay string

const (
	Morning   TimeOfDay = "morning"
	Afternoon TimeOfDay = "afternoon"
	Evening   TimeOfDay = "evening"
	Night     TimeOfDay = "night"
)

// Config tunes the selector. Hours are the first hour (0-23) of each bucket
// and must increase from morning to night; hours before MorningStart count
// as night.
type Config struct {
	Personality      string
	RepetitionWindow int
	MorningStart     int
	AfternoonStart   int
	EveningStart     int
	NightStart       int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Personality:      Warm,
		RepetitionWindow: 5,
		MorningStart:     6,
		AfternoonStart:   12,
		EveningStart:     18,
		NightStart:       22,
	}
}

// Phrase is a selected line with the name filled in.
type Phrase struct {
	Text     string
	Tone     string
	Template string
}

// Stats counts selections.
type Stats struct {
	Total        int
	ByKind       map[Kind]int
	UniquePeople int
	Personality  string
}

// Selector chooses phrases. It is safe for concurrent use.
type Selector struct {
	cfg       Config
	templates map[Kind][]Template
	now       func() time.Time

	mu        sync.Mutex
	rng       *rand.Rand
	recent    []string
	perPerson map[string]map[string]bool
	total     int
	byKind    map[Kind]int
}

// Option configures a Selector.
type Option func(*Selector)

// WithRand sets the random source.
func WithRand(r *rand.Rand) Option {
	return func(s *Selector) { s.rng = r }
}

// WithClock sets the clock used for time-of-day filtering.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// WithTemplates replaces the templates for one kind.
func WithTemplates(kind Kind, templates []Template) Option {
	return func(s *Selector) { s.templates[kind] = templates }
}

// NewSelector creates a selector over the built-in templates.
func NewSelector(cfg Config, opts ...Option) *Selector {
	s := &Selector{
		cfg: cfg,
		templates: map[Kind][]Template{
			KindRecognized: DefaultTemplates(KindRecognized),
			KindUnknown:    DefaultTemplates(KindUnknown),
			KindFarewell:   DefaultTemplates(KindFarewell),
		},
		now:       time.Now,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		perPerson: make(map[string]map[string]bool),
		byKind:    make(map[Kind]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TimeOfDay buckets t by the configured hours.
func (s *Selector) TimeOfDay(t time.Time) TimeOfDay {
	h := t.Hour()
	switch {
	case h >= s.cfg.NightStart || h < s.cfg.MorningStart:
		return Night
	case h >= s.cfg.EveningStart:
		return Evening
	case h >= s.cfg.AfternoonStart:
		return Afternoon
	default:
		return Morning
	}
}

// Select picks a phrase of the given kind for name. name may be empty for
// unknown visitors.
//
// Candidates are narrowed in turn by personality, time of day, the
// repetition window and what this person has already heard. A filter that
// would leave nothing is skipped.
func (s *Selector) Select(kind Kind, name string) Phrase {
	tod := s.TimeOfDay(s.now())

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.templates[kind]
	if len(all) == 0 {
		return fallback(kind, name)
	}

	candidates := narrow(all, func(t Template) bool { return t.Personality == s.cfg.Personality })
	candidates = narrow(candidates, func(t Template) bool { return t.suits(tod) })
	candidates = narrow(candidates, func(t Template) bool { return !s.recentlyUsed(t.Text) })
	if heard := s.perPerson[name]; name != "" && heard != nil {
		candidates = narrow(candidates, func(t Template) bool { return !heard[t.Text] })
	}

	chosen := candidates[s.rng.IntN(len(candidates))]

	s.remember(chosen.Text)
	if name != "" {
		if s.perPerson[name] == nil {
			s.perPerson[name] = make(map[string]bool)
		}
		s.perPerson[name][chosen.Text] = true
	}
	s.total++
	s.byKind[kind]++

	return Phrase{Text: fill(chosen.Text, name), Tone: chosen.Tone, Template: chosen.Text}
}

func narrow(in []Template, keep func(Template) bool) []Template {
	var out []Template
	for _, t := range in {
		if keep(t) {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return in
	}
	return out
}

func (s *Selector) recentlyUsed(text string) bool {
	for _, r := range s.recent {
		if r == text {
			return true
		}
	}
	return false
}

func (s *Selector) remember(text string) {
	if s.cfg.RepetitionWindow <= 0 {
		return
	}
	s.recent = append(s.recent, text)
	if over := len(s.recent) - s.cfg.RepetitionWindow; over > 0 {
		s.recent = s.recent[over:]
	}
}

func fill(text, name string) string {
	if name == "" {
		name = "friend"
	}
	return strings.ReplaceAll(text, "{name}", name)
}

func fallback(kind Kind, name string) Phrase {
	text := "Hello!"
	switch kind {
	case KindRecognized:
		text = "Hello {name}!"
	case KindUnknown:
		text = "Hello there!"
	case KindFarewell:
		text = "Goodbye {name}!"
	}
	return Phrase{Text: fill(text, name), Tone: "calm", Template: text}
}

// Reset forgets the repetition window and per-person history.
func (s *Selector) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = nil
	s.perPerson = make(map[string]map[string]bool)
}

// Stats returns selection counts.
func (s *Selector) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKind := make(map[Kind]int, len(s.byKind))
	for k, v := range s.byKind {
		byKind[k] = v
	}
	return Stats{
		Total:        s.total,
		ByKind:       byKind,
		UniquePeople: len(s.perPerson),
		Personality:  s.cfg.Personality,
	}
}
