package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/fxlab/internal/config"
	"github.com/conneroisu/fxlab/internal/preview"
	"github.com/conneroisu/fxlab/internal/registry"
)

var runCmd = &cobra.Command{
	Use:   "run <id|file>",
	Short: "Execute an effect headlessly and print its console",
	Long: `Load an effect's editor document into a headless execution context,
apply the requested interactions and print the console it produced.

The argument is a catalog effect id, or a catalog YAML file. For a file, the
first effect runs unless --effect picks another.

Examples:
  fxlab run neon-button                      # Load and print the console
  fxlab run magnetic-button --click .btn     # Click the first .btn
  fxlab run neon-button --wait 2s            # Let timers run for 2s
  fxlab run effects.yaml --effect ripple -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runFlags  *StandardFlags
	runClicks []string
	runWait   time.Duration
	runEffect string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runFlags = AddStandardFlags(runCmd, "output")
	runCmd.Flags().StringArrayVar(&runClicks, "click", nil, "Selector to click after load (repeatable, in order)")
	runCmd.Flags().DurationVar(&runWait, "wait", 0, "Virtual time to advance after the clicks")
	runCmd.Flags().StringVar(&runEffect, "effect", "", "Effect id to run from a catalog file")

	AddFlagValidation(runCmd, "output", func(format string) error {
		return ValidateFormatWithSuggestion(format, []string{"table", "json"})
	})
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	effect, err := resolveEffect(cfg, args[0], runEffect)
	if err != nil {
		return err
	}

	steps := make([]preview.Step, 0, len(runClicks)+1)
	for _, sel := range runClicks {
		steps = append(steps, preview.Step{Selector: sel, Event: "click"})
	}
	if runWait > 0 {
		steps = append(steps, preview.Step{Wait: runWait})
	}

	res, runErr := preview.RunHeadless(cmd.Context(), effect,
		preview.SandboxConfig(cfg.Preview, logger.WithComponent("headless")), steps...)

	if err := printRun(cmd, res); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("run %s: %w", effect.ID, runErr)
	}
	return nil
}

// resolveEffect finds id in the configured catalog, or treats arg as a
// catalog file when it names one.
func resolveEffect(cfg *config.Config, arg, pick string) (registry.Effect, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		effects, err := registry.LoadFile(arg)
		if err != nil {
			return registry.Effect{}, fmt.Errorf("failed to load %s: %w", arg, err)
		}
		if len(effects) == 0 {
			return registry.Effect{}, fmt.Errorf("%s holds no effects", arg)
		}
		if pick == "" {
			return effects[0], nil
		}
		for _, e := range effects {
			if e.ID == pick {
				return e, nil
			}
		}
		return registry.Effect{}, fmt.Errorf("effect %q not found in %s", pick, arg)
	}

	catalog, err := loadCatalog(cfg)
	if err != nil {
		return registry.Effect{}, fmt.Errorf("failed to load catalog: %w", err)
	}
	effect, ok := catalog.Get(arg)
	if !ok {
		return registry.Effect{}, fmt.Errorf("effect not found: %s", arg)
	}
	return effect, nil
}

func printRun(cmd *cobra.Command, res preview.Result) error {
	out := cmd.OutOrStdout()
	if strings.ToLower(runFlags.OutputFormat) == "json" {
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(res)
	}

	if runFlags.Quiet {
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, e := range res.Entries {
		fmt.Fprintf(w, "%s\t%s\n", strings.ToUpper(string(e.Kind)), e.Text)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if runFlags.Verbose {
		fmt.Fprintf(out, "\ngeneration %d, console %s\n", res.Generation, visibility(res.Visible))
	}
	return nil
}

func visibility(v bool) string {
	if v {
		return "shown"
	}
	return "hidden"
}
