package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/greeter/internal/errors"
)

// Config represents the complete greeter configuration
type Config struct {
	Tracker     TrackerConfig     `mapstructure:"tracker"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Idle        IdleConfig        `mapstructure:"idle"`
	Phrases     PhraseConfig      `mapstructure:"phrases"`
	Speech      SpeechConfig      `mapstructure:"speech"`
	Actuator    ActuatorConfig    `mapstructure:"actuator"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Behaviors   BehaviorsConfig   `mapstructure:"behaviors"`
}

// TrackerConfig controls presence debouncing
type TrackerConfig struct {
	// DebounceMs is how long an identity must be continuously present before
	// it is announced (default: 3000)
	DebounceMs int `mapstructure:"debounce_ms"`
	// DepartureMs is how long an identity must be continuously absent before
	// it is declared departed (default: 3000)
	DepartureMs int `mapstructure:"departure_ms"`
	// HistorySize is the number of recent events kept in memory (default: 100)
	HistorySize int `mapstructure:"history_size"`
}

// SchedulerConfig controls behavior execution
type SchedulerConfig struct {
	// CancelTimeoutMs bounds the wait for a preempted behavior to stop (default: 2000)
	CancelTimeoutMs int `mapstructure:"cancel_timeout_ms"`
	// GreetingBehavior is the gesture played for a recognized subject
	GreetingBehavior string `mapstructure:"greeting_behavior"`
	// UnknownBehavior is the gesture played for an unrecognized subject
	UnknownBehavior string `mapstructure:"unknown_behavior"`
	// Priorities overrides behavior priorities by name
	Priorities map[string]int `mapstructure:"priorities"`
}

// CoordinatorConfig controls the gesture/speech response
type CoordinatorConfig struct {
	// GestureSpeechOffsetMs is the fixed delay between starting the gesture
	// and starting speech (default: 300)
	GestureSpeechOffsetMs int `mapstructure:"gesture_speech_offset_ms"`
	// LatencyTargetMs is the initial response latency above which a warning
	// is logged (default: 400)
	LatencyTargetMs int `mapstructure:"latency_target_ms"`
	// Dispatch is "async" (default) or "sync"
	Dispatch string `mapstructure:"dispatch"`
	// Farewell says goodbye to greeted subjects when they leave
	Farewell bool `mapstructure:"farewell"`
	// GreetUnknown speaks to unrecognized visitors after the curious gesture
	GreetUnknown bool `mapstructure:"greet_unknown"`
}

// IdleConfig controls idle drifting while nobody is around
type IdleConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// ActivationThresholdMs is the quiet period before drifting starts (default: 5000)
	ActivationThresholdMs int `mapstructure:"activation_threshold_ms"`
	// IntervalMs is the time between drift movements (default: 3000)
	IntervalMs int `mapstructure:"interval_ms"`
}

// PhraseConfig controls greeting text selection
type PhraseConfig struct {
	// Personality is "warm", "playful" or "formal" (default: "warm")
	Personality string `mapstructure:"personality"`
	// RepetitionWindow is how many recently used templates are avoided (default: 5)
	RepetitionWindow int `mapstructure:"repetition_window"`
	// Hour boundaries for the time-of-day buckets
	MorningStart   int `mapstructure:"morning_start"`
	AfternoonStart int `mapstructure:"afternoon_start"`
	EveningStart   int `mapstructure:"evening_start"`
	NightStart     int `mapstructure:"night_start"`
}

// SpeechConfig controls the speech backend chain
type SpeechConfig struct {
	// Backends lists backends in priority order: "remote", "log"
	Backends  []string `mapstructure:"backends"`
	RemoteURL string   `mapstructure:"remote_url"`
	TimeoutMs int      `mapstructure:"timeout_ms"`
}

// ActuatorConfig selects the actuator driver
type ActuatorConfig struct {
	// Driver is "sim" (default) or "remote"
	Driver    string `mapstructure:"driver"`
	RemoteURL string `mapstructure:"remote_url"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// JournalConfig controls the sqlite event journal
type JournalConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path defaults to {data dir}/journal.db
	Path string `mapstructure:"path"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for greeter.log; empty logs to stderr
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 5)
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// BehaviorsConfig points at an optional YAML behavior library
type BehaviorsConfig struct {
	// Library is a YAML file whose behaviors replace or extend the built-ins
	Library string `mapstructure:"library"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Tracker: TrackerConfig{
			DebounceMs:  3000,
			DepartureMs: 3000,
			HistorySize: 100,
		},
		Scheduler: SchedulerConfig{
			CancelTimeoutMs:  2000,
			GreetingBehavior: "greeting_wave",
			UnknownBehavior:  "unknown_curious",
			Priorities:       map[string]int{},
		},
		Coordinator: CoordinatorConfig{
			GestureSpeechOffsetMs: 300,
			LatencyTargetMs:       400,
			Dispatch:              DispatchAsync,
		},
		Idle: IdleConfig{
			Enabled:               true,
			ActivationThresholdMs: 5000,
			IntervalMs:            3000,
		},
		Phrases: PhraseConfig{
			Personality:      "warm",
			RepetitionWindow: 5,
			MorningStart:     6,
			AfternoonStart:   12,
			EveningStart:     18,
			NightStart:       22,
		},
		Speech: SpeechConfig{
			Backends:  []string{"log"},
			TimeoutMs: 5000,
		},
		Actuator: ActuatorConfig{
			Driver:    "sim",
			TimeoutMs: 1000,
		},
		Journal: JournalConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
		},
	}
}

// Dispatch modes for the coordinator
const (
	DispatchAsync = "async"
	DispatchSync  = "sync"
)

// Debounce returns the debounce threshold as a time.Duration
func (c *TrackerConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Departure returns the departure threshold as a time.Duration
func (c *TrackerConfig) Departure() time.Duration {
	return time.Duration(c.DepartureMs) * time.Millisecond
}

// CancelTimeout returns the cancellation wait as a time.Duration
func (c *SchedulerConfig) CancelTimeout() time.Duration {
	return time.Duration(c.CancelTimeoutMs) * time.Millisecond
}

// Offset returns the gesture-speech offset as a time.Duration
func (c *CoordinatorConfig) Offset() time.Duration {
	return time.Duration(c.GestureSpeechOffsetMs) * time.Millisecond
}

// LatencyTarget returns the latency target as a time.Duration
func (c *CoordinatorConfig) LatencyTarget() time.Duration {
	return time.Duration(c.LatencyTargetMs) * time.Millisecond
}

// ActivationThreshold returns the idle quiet period as a time.Duration
func (c *IdleConfig) ActivationThreshold() time.Duration {
	return time.Duration(c.ActivationThresholdMs) * time.Millisecond
}

// Interval returns the idle drift interval as a time.Duration
func (c *IdleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Timeout returns the per-utterance speech timeout as a time.Duration
func (c *SpeechConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Timeout returns the per-command actuator timeout as a time.Duration
func (c *ActuatorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// JournalPath returns the configured journal path or the default location
func (c *JournalConfig) JournalPath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(DataDir(), "journal.db")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Tracker defaults
	viper.SetDefault("tracker.debounce_ms", defaults.Tracker.DebounceMs)
	viper.SetDefault("tracker.departure_ms", defaults.Tracker.DepartureMs)
	viper.SetDefault("tracker.history_size", defaults.Tracker.HistorySize)

	// Scheduler defaults
	viper.SetDefault("scheduler.cancel_timeout_ms", defaults.Scheduler.CancelTimeoutMs)
	viper.SetDefault("scheduler.greeting_behavior", defaults.Scheduler.GreetingBehavior)
	viper.SetDefault("scheduler.unknown_behavior", defaults.Scheduler.UnknownBehavior)
	viper.SetDefault("scheduler.priorities", defaults.Scheduler.Priorities)

	// Coordinator defaults
	viper.SetDefault("coordinator.gesture_speech_offset_ms", defaults.Coordinator.GestureSpeechOffsetMs)
	viper.SetDefault("coordinator.latency_target_ms", defaults.Coordinator.LatencyTargetMs)
	viper.SetDefault("coordinator.dispatch", defaults.Coordinator.Dispatch)
	viper.SetDefault("coordinator.farewell", defaults.Coordinator.Farewell)
	viper.SetDefault("coordinator.greet_unknown", defaults.Coordinator.GreetUnknown)

	// Idle defaults
	viper.SetDefault("idle.enabled", defaults.Idle.Enabled)
	viper.SetDefault("idle.activation_threshold_ms", defaults.Idle.ActivationThresholdMs)
	viper.SetDefault("idle.interval_ms", defaults.Idle.IntervalMs)

	// Phrase defaults
	viper.SetDefault("phrases.personality", defaults.Phrases.Personality)
	viper.SetDefault("phrases.repetition_window", defaults.Phrases.RepetitionWindow)
	viper.SetDefault("phrases.morning_start", defaults.Phrases.MorningStart)
	viper.SetDefault("phrases.afternoon_start", defaults.Phrases.AfternoonStart)
	viper.SetDefault("phrases.evening_start", defaults.Phrases.EveningStart)
	viper.SetDefault("phrases.night_start", defaults.Phrases.NightStart)

	// Speech defaults
	viper.SetDefault("speech.backends", defaults.Speech.Backends)
	viper.SetDefault("speech.remote_url", defaults.Speech.RemoteURL)
	viper.SetDefault("speech.timeout_ms", defaults.Speech.TimeoutMs)

	// Actuator defaults
	viper.SetDefault("actuator.driver", defaults.Actuator.Driver)
	viper.SetDefault("actuator.remote_url", defaults.Actuator.RemoteURL)
	viper.SetDefault("actuator.timeout_ms", defaults.Actuator.TimeoutMs)

	// Journal defaults
	viper.SetDefault("journal.enabled", defaults.Journal.Enabled)
	viper.SetDefault("journal.path", defaults.Journal.Path)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Behavior library defaults
	viper.SetDefault("behaviors.library", defaults.Behaviors.Library)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load for an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError("unmarshal config", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "greeter")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".greeter"
	}
	return filepath.Join(home, ".config", "greeter")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// DataDir returns the directory for the journal and other run data
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "greeter")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".greeter"
	}
	return filepath.Join(home, ".local", "share", "greeter")
}
