package cozerun

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/jpalmerr/cozerun/internal/poller"
	"github.com/jpalmerr/cozerun/internal/store"
)

// runnerConfig holds mutable state during Runner construction.
type runnerConfig struct {
	token           string
	baseURL         string
	runPath         string
	historyPath     string
	policy          poller.Policy
	vocabulary      Vocabulary
	logger          *slog.Logger
	outputDir       string
	fs              afero.Fs
	store           store.Store
	requestTimeout  time.Duration
	syncTimeout     time.Duration
	registerer      prometheus.Registerer
	attemptCallback []func(AttemptResult)
	sleep           poller.Sleeper
}

// Option configures a [Runner] during construction.
//
// Options return an error if validation fails. Cross-field checks such as
// initial interval <= max interval run in [New] after all options applied.
type Option func(*runnerConfig) error

// WithToken sets the personal access token sent as a bearer token. Required.
func WithToken(token string) Option {
	return func(cfg *runnerConfig) error {
		if token == "" {
			return errors.New("access token cannot be empty")
		}
		cfg.token = token
		return nil
	}
}

// WithBaseURL sets the API origin. Defaults to https://api.coze.cn.
//
// Returns an error unless the URL is absolute http or https.
func WithBaseURL(rawURL string) Option {
	return func(cfg *runnerConfig) error {
		u, err := url.Parse(rawURL)
		if err != nil {
			return errors.New("invalid base URL: " + err.Error())
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return errors.New("base URL must have a scheme (http:// or https://)")
		}
		if u.Host == "" {
			return errors.New("base URL must have a host")
		}
		cfg.baseURL = rawURL
		return nil
	}
}

// WithRunPath overrides the path of the run endpoint.
func WithRunPath(path string) Option {
	return func(cfg *runnerConfig) error {
		if path == "" {
			return errors.New("run path cannot be empty")
		}
		cfg.runPath = path
		return nil
	}
}

// WithHistoryPath overrides the path of the run-history endpoint. The path
// may use the {workflow_id} and {run_handle} placeholders.
func WithHistoryPath(path string) Option {
	return func(cfg *runnerConfig) error {
		if path == "" {
			return errors.New("history path cannot be empty")
		}
		cfg.historyPath = path
		return nil
	}
}

// WithInitialInterval sets the wait after the first status query.
// Defaults to 2 seconds.
//
// Returns an error if the duration is zero or negative.
func WithInitialInterval(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		if d <= 0 {
			return errors.New("initial interval must be positive")
		}
		cfg.policy.InitialInterval = d
		return nil
	}
}

// WithMaxInterval caps the wait between status queries. Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithMaxInterval(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		if d <= 0 {
			return errors.New("max interval must be positive")
		}
		cfg.policy.MaxInterval = d
		return nil
	}
}

// WithMaxAttempts sets the status query budget before the final query.
// Defaults to 120. Zero means only the final query is issued.
//
// Returns an error if n is negative.
func WithMaxAttempts(n int) Option {
	return func(cfg *runnerConfig) error {
		if n < 0 {
			return errors.New("max attempts cannot be negative")
		}
		cfg.policy.MaxAttempts = n
		return nil
	}
}

// WithBackoffMultipliers sets the interval growth after a pending status and
// after a failed or status-less query. Defaults to 1.5 and 2.
//
// Returns an error if either multiplier is below 1.
func WithBackoffMultipliers(pending, failed float64) Option {
	return func(cfg *runnerConfig) error {
		if pending < 1 || failed < 1 {
			return fmt.Errorf("backoff multipliers must be >= 1, got %v and %v", pending, failed)
		}
		cfg.policy.Multiplier = pending
		cfg.policy.ErrorMultiplier = failed
		return nil
	}
}

// WithVocabulary sets how status responses are read. Defaults to
// [CozeVocabulary].
func WithVocabulary(v Vocabulary) Option {
	return func(cfg *runnerConfig) error {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid vocabulary: %w", err)
		}
		cfg.vocabulary = v
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *runnerConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithOutputDir sets the directory artifacts are written to. Defaults to
// the current directory. Ignored when [WithStore] is used.
func WithOutputDir(dir string) Option {
	return func(cfg *runnerConfig) error {
		cfg.outputDir = dir
		return nil
	}
}

// WithFilesystem writes artifacts to fs instead of the OS filesystem.
//
// Example:
//
//	fs := afero.NewMemMapFs()
//	r, err := cozerun.New(cozerun.WithToken(tok), cozerun.WithFilesystem(fs))
func WithFilesystem(fs afero.Fs) Option {
	return func(cfg *runnerConfig) error {
		if fs == nil {
			return errors.New("filesystem cannot be nil")
		}
		cfg.fs = fs
		return nil
	}
}

// WithStore replaces the file-based artifact store.
func WithStore(s store.Store) Option {
	return func(cfg *runnerConfig) error {
		if s == nil {
			return errors.New("store cannot be nil")
		}
		cfg.store = s
		return nil
	}
}

// WithRequestTimeout bounds each start and status request of an async run.
// Defaults to 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithRequestTimeout(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		if d <= 0 {
			return errors.New("request timeout must be positive")
		}
		cfg.requestTimeout = d
		return nil
	}
}

// WithSyncTimeout bounds the single call of a synchronous run. Defaults to
// 10 minutes.
//
// Returns an error if the duration is zero or negative.
func WithSyncTimeout(d time.Duration) Option {
	return func(cfg *runnerConfig) error {
		if d <= 0 {
			return errors.New("sync timeout must be positive")
		}
		cfg.syncTimeout = d
		return nil
	}
}

// WithMetricsRegisterer records query, wait and execution metrics on reg.
//
// Returns an error if reg is nil.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(cfg *runnerConfig) error {
		if reg == nil {
			return errors.New("metrics registerer cannot be nil")
		}
		cfg.registerer = reg
		return nil
	}
}

// WithAttemptCallback registers a function called after every status query
// of an async run.
//
// Multiple callbacks may be registered; they execute in registration order.
// Callbacks run synchronously on the polling goroutine, so a slow callback
// delays the next query. Panics are recovered and logged.
//
// Example:
//
//	r, err := cozerun.New(
//	    cozerun.WithToken(tok),
//	    cozerun.WithAttemptCallback(func(a cozerun.AttemptResult) {
//	        fmt.Printf("attempt %d: %s\n", a.Attempt, a.State)
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithAttemptCallback(cb func(AttemptResult)) Option {
	return func(cfg *runnerConfig) error {
		if cb == nil {
			return nil
		}
		cfg.attemptCallback = append(cfg.attemptCallback, cb)
		return nil
	}
}
