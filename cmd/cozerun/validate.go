package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/cozerun/config"
)

// validateCmd validates a config file without calling the API.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a cozerun configuration file without running anything.

This command parses the YAML, expands environment variables (including a
.env file next to the config), and validates all fields. It's useful for
CI/CD pipelines or pre-deployment checks.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  cozerun validate -c config.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	vocab, err := cfg.Status.Vocabulary()
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	budget := pendingBudget(cfg.Poll)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  API:          %s\n", cfg.API.BaseURL)
	fmt.Fprintf(out, "  Workflow:     %s (%d parameters)\n", cfg.Workflow.ID, len(cfg.Workflow.Parameters))
	fmt.Fprintf(out, "  Poll:         %s initial, %s max, %d attempts (up to %.0fs)\n",
		cfg.Poll.InitialInterval.Duration(), cfg.Poll.MaxInterval.Duration(), *cfg.Poll.MaxAttempts, budget)
	fmt.Fprintf(out, "  Status:       %s (%s)\n", vocab.Name, vocab.StatusPath)
	fmt.Fprintf(out, "  Output dir:   %s\n", cfg.Output.Dir)

	if fields := cfg.Placeholders(); len(fields) > 0 {
		fmt.Fprintf(out, "  Warning:      placeholder values in %s\n", strings.Join(fields, ", "))
	}

	return nil
}

// pendingBudget returns the total wait in seconds before the final query,
// assuming every query reports pending.
func pendingBudget(p config.PollConfig) float64 {
	var budget float64
	interval := p.InitialInterval.Duration().Seconds()
	maxInterval := p.MaxInterval.Duration().Seconds()
	attempts := *p.MaxAttempts
	for i := 0; i < attempts; i++ {
		// the interval no longer changes
		if interval >= maxInterval || p.Multiplier == 1 {
			return budget + float64(attempts-i)*interval
		}
		budget += interval
		interval = min(interval*p.Multiplier, maxInterval)
	}
	return budget
}
