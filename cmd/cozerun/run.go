package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/jpalmerr/cozerun"
	"github.com/jpalmerr/cozerun/config"
)

// run and poll flags
var (
	runAsync     bool
	runParams    []string
	runOutputDir string
	pollHandle   string
)

// runCmd runs the configured workflow.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured workflow",
	Long: `Run the workflow described in the config file and save the result.

Without --async the workflow runs in a single call that may take up to
api.sync_timeout. With --async the run is submitted and its history polled
until it succeeds, fails, or poll.max_attempts is spent.

Parameters given with --param override those in the config file. Values
that parse as JSON keep their type; anything else is sent as a string.

Exit codes:
  0 - The run completed or succeeded
  1 - The run failed, did not finish, or could not be started

Example:
  cozerun run -c config.yaml
  cozerun run -c config.yaml --async --param city=Beijing --param days=3`,
	RunE: runRun,
}

// pollCmd resumes polling of an existing run.
var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll an existing asynchronous run",
	Long: `Poll the run history of an execute id obtained earlier and save the
result, without starting a new run.

Example:
  cozerun poll -c config.yaml --handle 7430000000000000000`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pollCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().BoolVar(&runAsync, "async", false, "submit asynchronously and poll for the result")
	runCmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "workflow parameter as key=value (repeatable)")
	runCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "directory for the result file (overrides output.dir)")

	pollCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = pollCmd.MarkFlagRequired("config")
	pollCmd.Flags().StringVar(&pollHandle, "handle", "", "execute id of the run to poll (required)")
	_ = pollCmd.MarkFlagRequired("handle")
	pollCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "directory for the result file (overrides output.dir)")
}

func runRun(cmd *cobra.Command, args []string) error {
	params, err := parseParams(runParams)
	if err != nil {
		return err
	}

	return withRunner(cmd, params, func(ctx context.Context, r *cozerun.Runner, req cozerun.RunRequest) (cozerun.Execution, error) {
		if runAsync {
			return r.RunAsync(ctx, req)
		}
		return r.RunSync(ctx, req)
	})
}

func runPoll(cmd *cobra.Command, args []string) error {
	return withRunner(cmd, nil, func(ctx context.Context, r *cozerun.Runner, req cozerun.RunRequest) (cozerun.Execution, error) {
		return r.Resume(ctx, req, pollHandle)
	})
}

// withRunner loads the config, builds a runner, executes fn, prints the
// summary and writes metrics.
func withRunner(cmd *cobra.Command, params map[string]any, fn func(context.Context, *cozerun.Runner, cozerun.RunRequest) (cozerun.Execution, error)) error {
	logger, err := newLogger(cmd.ErrOrStderr(), logFormat, logLevel)
	if err != nil {
		return err
	}

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	for _, field := range cfg.Placeholders() {
		logger.Warn("config still holds the sample placeholder", "field", field)
	}

	req, err := config.BuildRequest(cfg, params)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build options: %w", err)
	}
	if runOutputDir != "" {
		opts = append(opts, cozerun.WithOutputDir(runOutputDir))
	}

	reg := prometheus.NewRegistry()
	opts = append(opts,
		cozerun.WithLogger(logger),
		cozerun.WithMetricsRegisterer(reg),
		cozerun.WithAttemptCallback(func(a cozerun.AttemptResult) {
			logger.Info("status checked",
				"attempt", a.Attempt,
				"state", a.State.String(),
				"next_wait", a.Wait.String(),
			)
		}),
	)

	r, err := cozerun.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create runner: %w", err)
	}
	defer r.Close()

	// cancel on SIGINT/SIGTERM; the best known result is still saved
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	exec, runErr := fn(ctx, r, req)

	if path := metricsPath(cfg); path != "" {
		if err := prometheus.WriteToTextfile(path, reg); err != nil {
			logger.Warn("failed to write metrics", "path", path, "error", err.Error())
		}
	}

	if exec.ArtifactPath != "" {
		printSummary(cmd.OutOrStdout(), exec)
	}
	if runErr != nil {
		return runErr
	}

	switch exec.Outcome {
	case cozerun.OutcomeCompleted, cozerun.OutcomeSucceeded:
		return nil
	default:
		return fmt.Errorf("workflow run ended with outcome %s", exec.Outcome)
	}
}

func metricsPath(cfg *config.Config) string {
	if metricsFile != "" {
		return metricsFile
	}
	return cfg.MetricsFile
}

func printSummary(w io.Writer, exec cozerun.Execution) {
	fmt.Fprintf(w, "Outcome:  %s\n", exec.Outcome)
	if exec.RunHandle != "" {
		fmt.Fprintf(w, "Run:      %s\n", exec.RunHandle)
		fmt.Fprintf(w, "Queries:  %d\n", exec.Queries)
	}
	fmt.Fprintf(w, "Elapsed:  %s\n", exec.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Saved to: %s\n", exec.ArtifactPath)
}

// parseParams turns key=value pairs into workflow parameters. Values that
// are valid JSON keep their JSON type. Numbers keep their literal text, so
// 19-digit ids are sent unchanged.
//
//	city=Beijing          → "Beijing"
//	days=3                → 3
//	id=7428000000000000001 → 7428000000000000001
//	tags=["a","b"]        → ["a", "b"]
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		params[key] = paramValue(value)
	}
	return params, nil
}

// paramValue decodes value as JSON with numbers kept as [json.Number], or
// returns it unchanged when it is not JSON.
func paramValue(value string) any {
	if !gjson.Valid(value) {
		return value
	}
	dec := json.NewDecoder(strings.NewReader(value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return value
	}
	return v
}
