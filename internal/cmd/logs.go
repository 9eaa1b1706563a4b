package cmd

import (
	"fmt"
	"io"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/greeter/internal/config"
	"github.com/Iron-Ham/greeter/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View greeter logs",
	Long: `View, filter and summarize the JSON logs written when logging.dir is set.

Rotated and compressed backups are read together with the active file.

Examples:
  # Show the last 50 entries
  greeter logs

  # Warnings and errors from the last hour
  greeter logs --level warn --since 1h

  # Everything about one visitor
  greeter logs --subject alice -n 0

  # Latency and event counts for the whole log
  greeter logs --summary

  # Export as CSV
  greeter logs --format csv -n 0 > greeter.csv`,
	RunE: runLogs,
}

var (
	logsDir       string
	logsTail      int
	logsLevel     string
	logsSince     string
	logsGrep      string
	logsSession   string
	logsComponent string
	logsSubject   string
	logsEvent     string
	logsSummary   bool
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().StringVar(&logsDir, "dir", "", "log directory (default: logging.dir)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter messages matching pattern (regex)")
	logsCmd.Flags().StringVarP(&logsSession, "session", "s", "", "Filter by session ID")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Filter by component (tracker, scheduler, coordinator, ...)")
	logsCmd.Flags().StringVar(&logsSubject, "subject", "", "Filter by subject name")
	logsCmd.Flags().StringVar(&logsEvent, "event", "", "Filter by event kind")
	logsCmd.Flags().BoolVar(&logsSummary, "summary", false, "Print a summary instead of entries")
	logsCmd.Flags().StringVar(&logsFormat, "format", "", "Output format: text, json or csv (default: colored text)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	dir := logsDir
	if dir == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		dir = cfg.Logging.Dir
	}
	if dir == "" {
		return fmt.Errorf("no log directory: set logging.dir or pass --dir")
	}

	filter := logging.LogFilter{
		Level:     logsLevel,
		SessionID: logsSession,
		Component: logsComponent,
		Subject:   logsSubject,
		Event:     logsEvent,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.StartTime = time.Now().Add(-d)
	}
	var grep *regexp.Regexp
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern: %w", err)
		}
		grep = re
	}

	entries, err := logging.AggregateLogs(dir)
	if err != nil {
		return err
	}
	entries = logging.FilterLogs(entries, filter)
	if grep != nil {
		entries = slices.DeleteFunc(entries, func(e logging.LogEntry) bool { return !grep.MatchString(e.Message) })
	}

	out := cmd.OutOrStdout()
	if logsSummary {
		printLogSummary(out, logging.Summarize(entries))
		return nil
	}

	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}
	if logsFormat != "" {
		return logging.ExportLogEntries(out, entries, logsFormat)
	}
	for _, e := range entries {
		fmt.Fprintln(out, levelStyle(e.Level).Render(logging.FormatEntry(e)))
	}
	return nil
}

func levelStyle(level string) lipgloss.Style {
	switch level {
	case logging.LevelError:
		return errStyle
	case logging.LevelWarn:
		return warnStyle
	case logging.LevelDebug:
		return mutedStyle
	default:
		return lipgloss.NewStyle()
	}
}

func printLogSummary(w io.Writer, r logging.Report) {
	if r.Total == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No log entries match."))
		return
	}

	fmt.Fprintln(w, section("Log", [][2]string{
		{"Entries", strconv.Itoa(r.Total)},
		{"From", r.Start.Local().Format("2006-01-02 15:04:05")},
		{"To", r.End.Local().Format("2006-01-02 15:04:05")},
		{"Span", r.Duration.Round(time.Second).String()},
	}))
	fmt.Fprintln(w, section("By level", countRows(r.ByLevel)))
	if len(r.ByComponent) > 0 {
		fmt.Fprintln(w, section("By component", countRows(r.ByComponent)))
	}
	if len(r.ByEvent) > 0 {
		fmt.Fprintln(w, section("By event", countRows(r.ByEvent)))
	}
	if len(r.Metrics) > 0 {
		var rows [][2]string
		for _, name := range sortedKeys(r.Metrics) {
			m := r.Metrics[name]
			rows = append(rows, [2]string{name, fmt.Sprintf("n=%d mean %.0f median %.0f min %.0f max %.0f",
				m.Count, m.Mean, m.Median, m.Min, m.Max)})
		}
		fmt.Fprintln(w, section("Latency (ms)", rows))
	}
	if len(r.RecentErrors) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Recent errors"))
		for _, e := range r.RecentErrors {
			fmt.Fprintln(w, errStyle.Render(logging.FormatEntry(e)))
		}
	}
}

func countRows(m map[string]int) [][2]string {
	rows := make([][2]string, 0, len(m))
	for _, k := range sortedKeys(m) {
		rows = append(rows, [2]string{k, strconv.Itoa(m[k])})
	}
	return rows
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
