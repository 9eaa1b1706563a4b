package cmd

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/greeter/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify greeter configuration",
	Long: `View or modify greeter configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  greeter config set tracker.debounce_ms 2000
  greeter config set phrases.personality playful
  greeter config set coordinator.farewell true`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/greeter/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(out, "# Config file: %s\n", used)
	} else {
		fmt.Fprintln(out, "# Config file: (none - using defaults)")
	}

	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = out.Write(data)
	return err
}

// settableKeys maps each key accepted by "config set" to its value type.
var settableKeys = map[string]string{
	"tracker.debounce_ms":                  "int",
	"tracker.departure_ms":                 "int",
	"tracker.history_size":                 "int",
	"scheduler.cancel_timeout_ms":          "int",
	"scheduler.greeting_behavior":          "string",
	"scheduler.unknown_behavior":           "string",
	"coordinator.gesture_speech_offset_ms": "int",
	"coordinator.latency_target_ms":        "int",
	"coordinator.dispatch":                 "string",
	"coordinator.farewell":                 "bool",
	"coordinator.greet_unknown":            "bool",
	"idle.enabled":                         "bool",
	"idle.activation_threshold_ms":         "int",
	"idle.interval_ms":                     "int",
	"phrases.personality":                  "string",
	"phrases.repetition_window":            "int",
	"speech.remote_url":                    "string",
	"actuator.driver":                      "string",
	"actuator.remote_url":                  "string",
	"journal.enabled":                      "bool",
	"journal.path":                         "string",
	"logging.level":                        "string",
	"logging.dir":                          "string",
	"behaviors.library":                    "string",
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	keyType, ok := settableKeys[key]
	if !ok {
		keys := make([]string, 0, len(settableKeys))
		for k := range settableKeys {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		return fmt.Errorf("unknown configuration key: %s\nValid keys:\n  %s", key, strings.Join(keys, "\n  "))
	}

	var typed any
	switch keyType {
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typed = b
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typed = n
	default:
		typed = value
	}

	viper.Set(key, typed)
	if _, err := config.Load(); err != nil {
		return err
	}

	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\nConfig saved to %s\n", key, typed, configFile)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", errStyle.Render("✗"), v.Error())
			}
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s configuration is valid\n", okStyle.Render("✓"))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'greeter config set' to modify values", configFile)
	}
	if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintln(cmd.OutOrStdout(), used)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFile())
	return nil
}

const defaultConfigFile = `# Greeter configuration

tracker:
  # How long a face must be seen continuously before it is announced
  debounce_ms: 3000
  # How long a face must be missing before it is declared departed
  departure_ms: 3000
  # Recent events kept in memory
  history_size: 100

scheduler:
  # Wait for a preempted behavior to stop before giving up on it
  cancel_timeout_ms: 2000
  greeting_behavior: greeting_wave
  unknown_behavior: unknown_curious
  # Priority overrides by behavior name (1-10)
  priorities: {}

coordinator:
  # Delay between starting the gesture and starting speech
  gesture_speech_offset_ms: 300
  # Initial response latency that triggers a warning
  latency_target_ms: 400
  # async or sync
  dispatch: async
  farewell: false
  greet_unknown: false

idle:
  enabled: true
  activation_threshold_ms: 5000
  interval_ms: 3000

phrases:
  # warm, playful or formal
  personality: warm
  repetition_window: 5
  morning_start: 6
  afternoon_start: 12
  evening_start: 18
  night_start: 22

speech:
  # Tried in order: remote, log
  backends: [log]
  remote_url: ""
  timeout_ms: 5000

actuator:
  # sim or remote
  driver: sim
  remote_url: ""
  timeout_ms: 1000

journal:
  enabled: false
  # Defaults to the data directory
  path: ""

logging:
  # debug, info, warn or error
  level: info
  # Empty logs to stderr
  dir: ""
  max_size_mb: 10
  max_backups: 5
  compress: false

behaviors:
  # YAML file of extra or replacement behaviors
  library: ""
`
