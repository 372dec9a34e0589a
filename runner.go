package cozerun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jpalmerr/cozerun/internal/coze"
	"github.com/jpalmerr/cozerun/internal/metrics"
	"github.com/jpalmerr/cozerun/internal/poller"
	"github.com/jpalmerr/cozerun/internal/store"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultSyncTimeout    = 10 * time.Minute
)

// Runner executes workflows and persists one artifact per execution.
//
// Runner is created using [New] with functional options. It runs one
// workflow at a time: each method blocks until the artifact is written.
//
//	r, err := cozerun.New(cozerun.WithToken(os.Getenv("COZE_API_TOKEN")))
//	if err != nil {
//	    slog.Error("failed to create runner", "error", err)
//	    os.Exit(1)
//	}
//	defer r.Close()
//
//	req, _ := cozerun.NewRunRequest(workflowID, cozerun.WithParameter("input", "hi"))
//	exec, err := r.RunAsync(ctx, req)
type Runner struct {
	client         *coze.Client
	policy         poller.Policy
	sleep          poller.Sleeper
	vocabulary     Vocabulary
	store          store.Store
	metrics        *metrics.Recorder
	logger         *slog.Logger
	baseURL        string
	requestTimeout time.Duration
	syncTimeout    time.Duration
	callbacks      []func(AttemptResult)
}

// New creates a new [Runner] with the given options.
//
// An access token must be configured via [WithToken]. Other options have
// defaults:
//   - Base URL: https://api.coze.cn
//   - Initial interval: 2 seconds, max interval: 30 seconds
//   - Max attempts: 120
//   - Backoff multipliers: 1.5 pending, 2 on failure
//   - Request timeout: 30 seconds, sync timeout: 10 minutes
//   - Vocabulary: [CozeVocabulary]
//   - Artifacts: current directory on the OS filesystem
//
// Returns an error if no token is configured or if any option is invalid.
func New(opts ...Option) (*Runner, error) {
	cfg := &runnerConfig{
		baseURL:        coze.DefaultBaseURL,
		policy:         poller.DefaultPolicy(),
		vocabulary:     CozeVocabulary,
		requestTimeout: defaultRequestTimeout,
		syncTimeout:    defaultSyncTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.token == "" {
		return nil, errors.New("access token is required")
	}
	if err := cfg.policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll settings: %w", err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	client, err := coze.NewClient(coze.Config{
		BaseURL:     cfg.baseURL,
		Token:       cfg.token,
		RunPath:     cfg.runPath,
		HistoryPath: cfg.historyPath,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	st := cfg.store
	if st == nil {
		if cfg.fs != nil {
			st = store.NewFileStore(cfg.fs, cfg.outputDir)
		} else {
			st = store.NewOSFileStore(cfg.outputDir)
		}
	}

	var recorder *metrics.Recorder
	if cfg.registerer != nil {
		recorder = metrics.NewRecorder(cfg.registerer)
	}

	return &Runner{
		client:         client,
		policy:         cfg.policy,
		sleep:          cfg.sleep,
		vocabulary:     cfg.vocabulary,
		store:          st,
		metrics:        recorder,
		logger:         logger,
		baseURL:        cfg.baseURL,
		requestTimeout: cfg.requestTimeout,
		syncTimeout:    cfg.syncTimeout,
		callbacks:      cfg.attemptCallback,
	}, nil
}

// BaseURL returns the API origin the runner talks to.
func (r *Runner) BaseURL() string {
	return r.baseURL
}

// Vocabulary returns the status vocabulary in use.
func (r *Runner) Vocabulary() Vocabulary {
	return r.vocabulary
}

// InitialInterval returns the wait after the first status query.
func (r *Runner) InitialInterval() time.Duration {
	return r.policy.InitialInterval
}

// MaxInterval returns the ceiling on the wait between status queries.
func (r *Runner) MaxInterval() time.Duration {
	return r.policy.MaxInterval
}

// MaxAttempts returns the status query budget before the final query.
func (r *Runner) MaxAttempts() int {
	return r.policy.MaxAttempts
}

// RunSync executes req in a single blocking call and persists the response.
//
// The call is bounded by the sync timeout. Whatever comes back, including a
// transport error document, is written with the "sync" prefix. The outcome
// is [OutcomeCompleted] when the API answered with JSON and
// [OutcomeStartFailed] otherwise.
//
// Returns an error only if the artifact cannot be written or ctx is done.
func (r *Runner) RunSync(ctx context.Context, req RunRequest) (Execution, error) {
	if err := validateRequest(req); err != nil {
		return Execution{}, err
	}

	started := time.Now()
	exec := Execution{
		ID:      uuid.NewString(),
		Mode:    ModeSync,
		Request: req.Body(false),
	}
	logger := r.logger.With("execution_id", exec.ID, "mode", string(exec.Mode), "workflow_id", req.WorkflowID())
	logger.Info("running workflow synchronously", "timeout", r.syncTimeout.String())

	res := r.client.StartRun(ctx, exec.Request, r.syncTimeout)
	exec.Response = res.Body
	exec.Outcome = OutcomeCompleted
	if !res.OK() {
		exec.Outcome = OutcomeStartFailed
		logger.Warn("synchronous run failed", "error", res.Err.Error(), "status_code", res.StatusCode)
	}

	return r.finish(logger, exec, started, ctx.Err())
}

// RunAsync submits req asynchronously, polls until the run is terminal or
// the attempt budget is spent, and persists the last payload.
//
// If the start call fails or its response carries no run handle, no polling
// happens: the start payload is persisted and the outcome is
// [OutcomeStartFailed].
//
// Returns an error only if the artifact cannot be written or ctx is done.
// On cancellation the best known state is still persisted and returned.
func (r *Runner) RunAsync(ctx context.Context, req RunRequest) (Execution, error) {
	if err := validateRequest(req); err != nil {
		return Execution{}, err
	}

	started := time.Now()
	exec := Execution{
		ID:      uuid.NewString(),
		Mode:    ModeAsync,
		Request: req.Body(true),
	}
	logger := r.logger.With("execution_id", exec.ID, "mode", string(exec.Mode), "workflow_id", req.WorkflowID())
	logger.Info("submitting asynchronous run")

	res := r.client.StartRun(ctx, exec.Request, r.requestTimeout)
	if res.OK() {
		exec.RunHandle = r.vocabulary.Handle(res.Body)
	}

	if exec.RunHandle == "" {
		exec.Outcome = OutcomeStartFailed
		exec.Response = res.Body
		logAttrs := []any{"status_code", res.StatusCode, "kind", res.Kind.String()}
		if res.Err != nil {
			logAttrs = append(logAttrs, "error", res.Err.Error())
		}
		logger.Error("failed to obtain run handle", logAttrs...)
		return r.finish(logger, exec, started, ctx.Err())
	}

	logger.Info("run submitted", "run_handle", exec.RunHandle)
	return r.pollRun(ctx, logger, exec, req.WorkflowID(), res.Body, started)
}

// Resume polls an existing run of req's workflow without starting a new one
// and persists the result like [Runner.RunAsync].
//
// Returns an error if handle is empty, the artifact cannot be written, or
// ctx is done.
func (r *Runner) Resume(ctx context.Context, req RunRequest, handle string) (Execution, error) {
	if err := validateRequest(req); err != nil {
		return Execution{}, err
	}
	if handle == "" {
		return Execution{}, errors.New("run handle cannot be empty")
	}

	started := time.Now()
	exec := Execution{
		ID:        uuid.NewString(),
		Mode:      ModeAsync,
		RunHandle: handle,
		Request:   req.Body(true),
	}
	logger := r.logger.With("execution_id", exec.ID, "mode", string(exec.Mode), "workflow_id", req.WorkflowID())
	logger.Info("resuming run", "run_handle", handle)

	return r.pollRun(ctx, logger, exec, req.WorkflowID(), nil, started)
}

// Close releases idle connections. Safe to call multiple times.
func (r *Runner) Close() {
	r.client.Close()
}

// pollRun drives the poller for exec.RunHandle and persists the outcome.
// fallback is persisted when no status query completed.
func (r *Runner) pollRun(ctx context.Context, logger *slog.Logger, exec Execution, workflowID string, fallback []byte, started time.Time) (Execution, error) {
	handle := exec.RunHandle

	p, err := poller.NewPoller(r.policy, r.extract, logger,
		poller.WithSleeper(r.sleep),
		poller.WithObserver(func(a poller.Attempt) {
			r.observeAttempt(handle, a, logger)
		}),
	)
	if err != nil {
		return exec, err
	}

	out, pollErr := p.Poll(ctx, handle, func(ctx context.Context, handle string) poller.Response {
		res := r.client.QueryRun(ctx, workflowID, handle, r.requestTimeout)
		return poller.Response{Body: res.Body, Err: res.Err}
	})
	if pollErr != nil && ctx.Err() == nil {
		return exec, fmt.Errorf("polling failed: %w", pollErr)
	}

	exec.State = fromPollerState(out.State)
	exec.Queries = out.Queries
	exec.Exhausted = out.Exhausted
	exec.Response = out.Body
	// empty only when cancelled before any status query completed
	if len(exec.Response) == 0 {
		exec.Response = fallback
	}

	switch exec.State {
	case StateSucceeded:
		exec.Outcome = OutcomeSucceeded
	case StateFailed:
		exec.Outcome = OutcomeFailed
	default:
		exec.Outcome = OutcomeIncomplete
	}

	return r.finish(logger, exec, started, pollErr)
}

// finish persists exec and records metrics. cause, when non-nil, is returned
// after a successful write.
func (r *Runner) finish(logger *slog.Logger, exec Execution, started time.Time, cause error) (Execution, error) {
	path, err := r.store.Save(store.Artifact{
		Mode:      string(exec.Mode),
		RunHandle: exec.RunHandle,
		Request:   exec.Request,
		Response:  exec.Response,
	})
	exec.Elapsed = time.Since(started)
	r.metrics.ObserveExecution(string(exec.Mode), exec.Outcome.String(), exec.Elapsed)

	if err != nil {
		logger.Error("failed to save artifact", "error", err.Error())
		return exec, fmt.Errorf("failed to save artifact: %w", err)
	}
	exec.ArtifactPath = path

	logAttrs := []any{
		"outcome", exec.Outcome.String(),
		"artifact", path,
		"elapsed", exec.Elapsed.Round(time.Millisecond).String(),
	}
	if exec.Mode == ModeAsync {
		logAttrs = append(logAttrs, "run_handle", exec.RunHandle, "queries", exec.Queries)
	}
	if exec.Outcome == OutcomeIncomplete || exec.Outcome == OutcomeStartFailed {
		logger.Warn("execution finished without a result", logAttrs...)
	} else {
		logger.Info("execution finished", logAttrs...)
	}

	return exec, cause
}

func (r *Runner) extract(body []byte) poller.State {
	return toPollerState(r.vocabulary.Classify(body))
}

// observeAttempt feeds metrics and attempt callbacks.
func (r *Runner) observeAttempt(handle string, a poller.Attempt, logger *slog.Logger) {
	r.metrics.ObserveQuery(string(a.State))
	r.metrics.ObserveWait(a.Wait)

	if len(r.callbacks) == 0 {
		return
	}
	result := AttemptResult{
		RunHandle: handle,
		Attempt:   a.Number,
		State:     fromPollerState(a.State),
		Error:     a.Err,
		Wait:      a.Wait,
		Final:     a.Final,
	}
	for _, cb := range r.callbacks {
		invokeCallbackSafe(cb, result, logger)
	}
}

func validateRequest(req RunRequest) error {
	if req.WorkflowID() == "" {
		return errors.New("run request has no workflow ID; use NewRunRequest")
	}
	return nil
}

// invokeCallbackSafe calls an attempt callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(AttemptResult), result AttemptResult, logger *slog.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("attempt callback panicked",
				"panic", rec,
				"run_handle", result.RunHandle,
				"attempt", result.Attempt,
			)
		}
	}()
	cb(result)
}
