package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/greeter/internal/app"
	"github.com/Iron-Ham/greeter/internal/config"
	"github.com/Iron-Ham/greeter/internal/coordinator"
	"github.com/Iron-Ham/greeter/internal/event"
	"github.com/Iron-Ham/greeter/internal/feed"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Greet visitors from an observation feed",
	Long: `Read observation batches as JSON lines and react to the presence events
they produce.

The feed is read from --feed, or from stdin when --feed is "-" or omitted.
With --follow, greeter keeps the file open and processes lines as they are
appended until interrupted.

Examples:
  # Replay a recorded feed
  greeter run --feed visit.jsonl

  # Tail a feed written by the vision pipeline
  greeter run --feed /var/run/greeter/feed.jsonl --follow`,
	RunE: runRun,
}

var (
	runFeed   string
	runFollow bool
	runQuiet  bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFeed, "feed", "f", "-", "JSONL feed file, or - for stdin")
	runCmd.Flags().BoolVar(&runFollow, "follow", false, "keep reading as the feed file grows")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "only print the final report")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var src feed.Source
	switch {
	case runFollow && runFeed == "-":
		return fmt.Errorf("--follow needs a feed file")
	case runFollow:
		f, err := feed.NewFollower(runFeed, nil)
		if err != nil {
			return err
		}
		defer f.Close()
		src = f
	case runFeed == "-":
		dec := feed.NewDecoder(cmd.InOrStdin())
		defer dec.Close()
		src = dec
	default:
		f, err := os.Open(runFeed)
		if err != nil {
			return fmt.Errorf("open feed: %w", err)
		}
		defer f.Close()
		dec := feed.NewDecoder(f)
		defer dec.Close()
		src = dec
	}

	return drive(cmd, cfg, src, runQuiet)
}

// drive runs one hub over src, printing events as they happen and a report
// at the end.
func drive(cmd *cobra.Command, cfg *config.Config, src feed.Source, quiet bool) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	out := cmd.OutOrStdout()
	opts := []app.Option{app.WithLogger(logger)}
	if !quiet {
		opts = append(opts,
			app.WithEventObserver(func(e event.Event) { printEvent(out, e) }),
			app.WithGreetingObserver(func(g coordinator.Greeting) { printGreeting(out, g) }))
	}

	hub, err := app.NewHub(cfg, opts...)
	if err != nil {
		return err
	}
	defer hub.Stop()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	if err := hub.Start(ctx); err != nil {
		return err
	}
	runErr := hub.Run(ctx, src)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	hub.Drain()

	printReport(out, hub.Report())
	return runErr
}

func printGreeting(w io.Writer, g coordinator.Greeting) {
	status := okStyle.Render("spoke")
	if g.SpeechErr != nil {
		status = errStyle.Render("speech failed")
	}
	gesture := okStyle.Render("gesture")
	if !g.GestureAccepted {
		gesture = warnStyle.Render("no gesture")
	}
	fmt.Fprintf(w, "  %s %q %s, %s %s\n",
		titleStyle.Render("→"), g.Text, gesture, status,
		mutedStyle.Render(fmt.Sprintf("(initial %s, total %s)", ms(g.InitialLatency), ms(g.TotalLatency))))
}

func printReport(w io.Writer, r app.Report) {
	itoa := func(n int) string { return strconv.Itoa(n) }
	utoa := func(n uint64) string { return strconv.FormatUint(n, 10) }

	target := okStyle.Render("met")
	if !r.Coordinator.LatencyTargetMet {
		target = warnStyle.Render("missed")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, section("Tracker", [][2]string{
		{"Cycles", utoa(r.Tracker.Cycles)},
		{"Recognized", utoa(r.Tracker.RecognizedCount)},
		{"Unknown", utoa(r.Tracker.UnknownCount)},
		{"Departed", utoa(r.Tracker.EventCounts[event.Departed])},
		{"Still tracked", itoa(r.Tracker.Tracked)},
		{"Skipped batches", itoa(r.Skipped)},
	}))
	fmt.Fprintln(w, section("Greetings", [][2]string{
		{"Session", r.Coordinator.SessionID},
		{"Greeted", itoa(r.Coordinator.TotalGreetings)},
		{"Unknown responses", itoa(r.Coordinator.UnknownResponses)},
		{"Farewells", itoa(r.Coordinator.Farewells)},
		{"Avg latency", ms(r.Coordinator.AvgLatency)},
		{"Avg initial latency", ms(r.Coordinator.AvgInitialLatency)},
		{"Latency target", target},
		{"Speech failures", itoa(r.Coordinator.SpeechFailures)},
		{"Gesture rejections", itoa(r.Coordinator.GestureRejections)},
	}))
	rows := [][2]string{
		{"Accepted", utoa(r.Scheduler.Accepted)},
		{"Rejected", utoa(r.Scheduler.Rejected)},
		{"Preemptions", utoa(r.Scheduler.Preemptions)},
		{"Completed", utoa(r.Scheduler.Completed)},
		{"Interrupted", utoa(r.Scheduler.Interrupted)},
		{"Failed", utoa(r.Scheduler.Failed)},
	}
	if r.Idle != nil {
		rows = append(rows, [2]string{"Idle drifts", itoa(r.Idle.Drifts)})
	}
	fmt.Fprintln(w, section("Behaviors", rows))

	speechRows := [][2]string{
		{"Requests", itoa(r.Speech.Requests)},
		{"Success rate", fmt.Sprintf("%.0f%%", r.Speech.SuccessRate())},
	}
	for _, b := range r.Speech.Backends {
		speechRows = append(speechRows, [2]string{
			b.Name, fmt.Sprintf("%d ok, %d failed, avg %s", b.Successes, b.Failures, ms(b.AvgLatency())),
		})
	}
	fmt.Fprintln(w, section("Speech", speechRows))
}
