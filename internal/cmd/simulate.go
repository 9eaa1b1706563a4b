package cmd

import (
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/greeter/internal/config"
	"github.com/Iron-Ham/greeter/internal/feed"
	"github.com/Iron-Ham/greeter/internal/tracker"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the built-in demo scene",
	Long: `Play a scripted scene through the full pipeline: a regular visitor
arrives, a second one joins, a stranger lingers, a low-confidence match
flickers past, and everyone leaves.

The scene plays in real time unless --fast is given. --record writes the
generated observations as a JSONL feed that "greeter run" can replay.`,
	RunE: runSimulate,
}

var (
	simFast   bool
	simSeed   uint64
	simRecord string
	simQuiet  bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().BoolVar(&simFast, "fast", false, "do not wait between frames")
	simulateCmd.Flags().Uint64Var(&simSeed, "seed", 0, "seed for confidence jitter (0 picks one at random)")
	simulateCmd.Flags().StringVar(&simRecord, "record", "", "write the generated feed to this file")
	simulateCmd.Flags().BoolVarP(&simQuiet, "quiet", "q", false, "only print the final report")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	seed := simSeed
	if seed == 0 {
		seed = rand.Uint64()
	}
	batches := feed.DemoScript().Batches(time.Now(), rand.New(rand.NewPCG(seed, seed)))

	if simRecord != "" {
		if err := recordFeed(simRecord, batches); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d batches to %s\n",
			okStyle.Render("Recorded"), len(batches), simRecord)
	}

	if !simQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n\n",
			titleStyle.Render("Demo scene"), mutedStyle.Render(fmt.Sprintf("seed %d, %d frames", seed, len(batches))))
	}
	return drive(cmd, cfg, feed.NewReplay(batches, !simFast), simQuiet)
}

func recordFeed(path string, batches []tracker.Batch) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create feed file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	enc := feed.NewEncoder(f)
	for _, b := range batches {
		if err := enc.Encode(b); err != nil {
			return err
		}
	}
	return enc.Flush()
}
