// Package main is the entry point for the cozerun CLI.
//
// cozerun runs a Coze workflow described by a YAML configuration file and
// writes the request and response to a JSON file.
//
// Usage:
//
//	cozerun run -c config.yaml            # Run synchronously
//	cozerun run -c config.yaml --async    # Submit and poll until done
//	cozerun poll -c config.yaml --handle ID
//	cozerun validate -c config.yaml       # Validate configuration
//	cozerun version                       # Show version info
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information - set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// global flags
var (
	logFormat   string
	logLevel    string
	metricsFile string
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "cozerun",
	Short: "Run Coze workflows and record the results",
	Long: `cozerun runs a Coze workflow and saves the request and the response
as a JSON file named <mode>_<YYYYMMDDHHMMSS>[_<execute id>].json.

Synchronous runs wait for the workflow inside one HTTP call. Asynchronous
runs submit the workflow and poll its run history with exponential backoff.

Quick start:
  1. Create a config file (cozerun.yaml)
  2. Run: cozerun run -c cozerun.yaml --async

Example config:
  api:
    token: ${COZE_API_TOKEN}
  workflow:
    id: "7428000000000000000"
    parameters:
      input: hello`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// Cobra already prints the error, just exit with code 1
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this cozerun binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "cozerun %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit (overrides metrics_file)")

	rootCmd.AddCommand(versionCmd)
}
