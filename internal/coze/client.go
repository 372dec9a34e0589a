package coze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	// DefaultBaseURL is the Coze China API host.
	DefaultBaseURL = "https://api.coze.cn"

	// DefaultRunPath submits a workflow run.
	DefaultRunPath = "/v1/workflow/run"

	// DefaultHistoryPath reads the history of one async run. The
	// {workflow_id} and {run_handle} placeholders are filled per request.
	DefaultHistoryPath = "/v1/workflows/{workflow_id}/run_histories/{run_handle}"
)

// connection pooling limits; a single run is polled at a time so these stay small
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 2
	defaultMaxConnsPerHost     = 4
	defaultIdleConnTimeout     = 60 * time.Second // conservative: matches common ALB defaults
)

// Kind tags the outcome of a network operation.
type Kind int

const (
	// KindOK means a JSON document was received. The remote system may still
	// report an application-level error inside it.
	KindOK Kind = iota

	// KindTransient means the operation failed but may be retried.
	KindTransient

	// KindFatal means the operation failed and must not be retried.
	KindFatal
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result holds the outcome of a request made by [Client].
//
// Body is always a JSON document: the remote response when it was valid
// JSON, otherwise an error document describing the failure so it can be
// persisted verbatim.
type Result struct {
	// Kind tags the result.
	Kind Kind

	// Body is the JSON payload, see [Result].
	Body []byte

	// StatusCode is the HTTP status code. Zero if no response was received.
	StatusCode int

	// Latency is the total time taken for the request.
	Latency time.Duration

	// Err is non-nil for transient and fatal results.
	Err error
}

// OK reports whether the result carries a remote JSON document.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

// Config configures a [Client].
type Config struct {
	// BaseURL is the API origin, e.g. https://api.coze.cn.
	BaseURL string

	// Token is the personal access token sent as a bearer token.
	Token string

	// RunPath overrides [DefaultRunPath].
	RunPath string

	// HistoryPath overrides [DefaultHistoryPath].
	HistoryPath string

	// Logger receives resty's own warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client talks to the workflow run and run-history endpoints.
//
// Client uses per-request timeouts via context rather than a global timeout,
// since a synchronous run may take minutes while a status query should not.
// No request is retried by the client; retry policy belongs to the caller.
type Client struct {
	http        *resty.Client
	runPath     string
	historyPath string
}

// NewClient creates a new [Client].
//
// Returns an error if the base URL or token is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("base URL cannot be empty")
	}
	if cfg.Token == "" {
		return nil, errors.New("access token cannot be empty")
	}

	runPath := cfg.RunPath
	if runPath == "" {
		runPath = DefaultRunPath
	}
	historyPath := cfg.HistoryPath
	if historyPath == "" {
		historyPath = DefaultHistoryPath
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New().
		SetLogger(slogAdapter{logger: logger}).
		SetTransport(&http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        defaultMaxIdleConns,
			MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
			MaxConnsPerHost:     defaultMaxConnsPerHost,
			IdleConnTimeout:     defaultIdleConnTimeout,
		}).
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.Token).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:        httpClient,
		runPath:     runPath,
		historyPath: historyPath,
	}, nil
}

// StartRun submits a workflow run with the given request body.
//
// The call is made once. Any failure (transport error, non-JSON response) is
// [KindFatal] because resubmitting could start a second run.
func (c *Client) StartRun(ctx context.Context, body map[string]any, timeout time.Duration) Result {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.runPath)

	return buildResult(resp, err, time.Since(start), KindFatal)
}

// QueryRun fetches the run history entry for handle.
//
// Failures are [KindTransient]; the caller is expected to retry.
func (c *Client) QueryRun(ctx context.Context, workflowID, handle string, timeout time.Duration) Result {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"workflow_id": workflowID,
			"run_handle":  handle,
		}).
		Get(c.historyPath)

	return buildResult(resp, err, time.Since(start), KindTransient)
}

// Close closes all idle connections in the client's connection pool.
//
// Safe to call multiple times and on a nil client. After Close, the client
// remains usable but new connections will be established as needed.
func (c *Client) Close() {
	if c == nil || c.http == nil {
		return
	}
	c.http.GetClient().CloseIdleConnections()
}

// buildResult turns a resty response into a tagged [Result]. failKind is the
// kind used when no usable JSON document came back.
func buildResult(resp *resty.Response, err error, latency time.Duration, failKind Kind) Result {
	if err != nil {
		return Result{
			Kind:    failKind,
			Body:    errorDocument(err),
			Latency: latency,
			Err:     fmt.Errorf("request failed: %w", err),
		}
	}

	body := resp.Body()
	if !json.Valid(body) {
		return Result{
			Kind:       failKind,
			Body:       rawDocument(body, resp.StatusCode()),
			StatusCode: resp.StatusCode(),
			Latency:    latency,
			Err:        fmt.Errorf("response is not JSON (HTTP %d)", resp.StatusCode()),
		}
	}

	return Result{
		Kind:       KindOK,
		Body:       body,
		StatusCode: resp.StatusCode(),
		Latency:    latency,
	}
}

// errorDocument describes a transport failure as {"error", "error_type"}.
func errorDocument(err error) []byte {
	doc, _ := json.Marshal(map[string]string{
		"error":      err.Error(),
		"error_type": errorType(err),
	})
	return doc
}

// rawDocument wraps a non-JSON body as {"raw_response", "status_code"}.
func rawDocument(body []byte, statusCode int) []byte {
	doc, _ := json.Marshal(map[string]any{
		"raw_response": string(body),
		"status_code":  statusCode,
	})
	return doc
}

// errorType names the innermost error type, e.g. "*net.OpError".
func errorType(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Timeout"
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	return fmt.Sprintf("%T", err)
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// slogAdapter satisfies resty.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Errorf(format string, v ...interface{}) {
	a.logger.Error(fmt.Sprintf(format, v...), "component", "resty")
}

func (a slogAdapter) Warnf(format string, v ...interface{}) {
	a.logger.Warn(fmt.Sprintf(format, v...), "component", "resty")
}

func (a slogAdapter) Debugf(format string, v ...interface{}) {
	a.logger.Debug(fmt.Sprintf(format, v...), "component", "resty")
}
