package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/greeter/internal/config"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show who has been greeted and recent presence events",
	Long: `Read the event journal written when journal.enabled is set.

Prints a per-subject greeting summary followed by the most recent events.`,
	RunE: runJournal,
}

var (
	journalPath   string
	journalEvents int
)

func init() {
	rootCmd.AddCommand(journalCmd)

	journalCmd.Flags().StringVar(&journalPath, "path", "", "journal database (default from config)")
	journalCmd.Flags().IntVarP(&journalEvents, "events", "n", 20, "number of recent events to show (0 for all)")
}

func runJournal(cmd *cobra.Command, args []string) error {
	path := journalPath
	if path == "" {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path = cfg.Journal.JournalPath()
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal at %s: %w", path, err)
	}

	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	summary, err := j.GreetingSummary(ctx)
	if err != nil {
		return err
	}
	if len(summary) == 0 {
		fmt.Fprintln(out, mutedStyle.Render("No greetings recorded."))
	}
	for _, s := range summary {
		fmt.Fprintln(out, section(s.Subject, [][2]string{
			{"Greetings", strconv.Itoa(s.Greetings)},
			{"Sessions", strconv.Itoa(s.Sessions)},
			{"Speech failures", strconv.Itoa(s.SpeechFailures)},
			{"Avg latency", ms(s.AvgLatency)},
			{"Last greeted", s.LastGreeted.Local().Format("2006-01-02 15:04:05")},
		}))
	}

	counts, err := j.CountEvents(ctx)
	if err != nil {
		return err
	}
	rows := make([][2]string, 0, len(event.Kinds()))
	for _, k := range event.Kinds() {
		rows = append(rows, [2]string{k.String(), strconv.Itoa(counts[k])})
	}
	fmt.Fprintln(out, section("Events", rows))

	events, err := j.RecentEvents(ctx, journalEvents)
	if err != nil {
		return err
	}
	for _, e := range events {
		printEvent(out, e)
	}
	return nil
}
