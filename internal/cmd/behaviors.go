package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/greeter/internal/behavior"
	"github.com/Iron-Ham/greeter/internal/config"
)

var behaviorsCmd = &cobra.Command{
	Use:   "behaviors",
	Short: "List the behavior library",
	Long: `List every behavior greeter can play, after merging the YAML library
named by behaviors.library (or --library) and applying priority overrides.`,
	RunE: runBehaviors,
}

var behaviorsLibrary string

func init() {
	rootCmd.AddCommand(behaviorsCmd)
	behaviorsCmd.Flags().StringVar(&behaviorsLibrary, "library", "", "YAML behavior library to merge over the built-ins")
}

func runBehaviors(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	lib := behavior.DefaultLibrary()
	path := cfg.Behaviors.Library
	if behaviorsLibrary != "" {
		path = behaviorsLibrary
	}
	if path != "" {
		extra, err := behavior.LoadLibraryFile(path)
		if err != nil {
			return err
		}
		lib.Merge(extra)
	}
	if err := lib.ApplyPriorities(cfg.Scheduler.Priorities); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Behaviors"), mutedStyle.Render("("+strconv.Itoa(lib.Len())+")"))
	for _, name := range lib.Names() {
		b := lib.MustGet(name)
		mode := okStyle.Render("interruptible")
		if !b.Interruptible {
			mode = warnStyle.Render("non-interruptible")
		}
		role := ""
		switch name {
		case cfg.Scheduler.GreetingBehavior:
			role = mutedStyle.Render(" [greeting]")
		case cfg.Scheduler.UnknownBehavior:
			role = mutedStyle.Render(" [unknown]")
		}
		fmt.Fprintf(out, "  %-20s priority %-2d %d steps %6s  %s%s\n",
			name, b.Priority, len(b.Steps), ms(b.Duration()), mode, role)
	}
	return nil
}
