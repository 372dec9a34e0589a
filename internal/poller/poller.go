package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
)

// State is the normalized status of a run as seen by the poller.
//
// This is the poller-internal version of cozerun.RunState, kept as its own
// type to avoid an import cycle.
type State string

const (
	// StateUnknown means the query failed or the response carried no status.
	StateUnknown State = "unknown"

	// StatePending means the run answered and is not finished.
	StatePending State = "pending"

	// StateSucceeded is terminal.
	StateSucceeded State = "succeeded"

	// StateFailed is terminal.
	StateFailed State = "failed"
)

// Terminal reports whether the run will not progress further.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Response is the raw result of one status query.
type Response struct {
	// Body is the response payload. On failure it may hold an error
	// document describing what went wrong.
	Body []byte

	// Err is non-nil when the query itself failed (transport, decoding).
	Err error
}

// QueryFunc fetches the current status of the run identified by handle.
type QueryFunc func(ctx context.Context, handle string) Response

// StatusExtractor maps a successful response body to a [State].
// It must return [StateUnknown] when the body carries no status.
type StatusExtractor func(body []byte) State

// Sleeper blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Attempt records one status query.
type Attempt struct {
	// Number is 1-based; the post-exhaustion query has Number MaxAttempts+1.
	Number int

	// State is the classified state of this query.
	State State

	// Err is the query error, if any.
	Err error

	// Wait is the delay applied after this query. Zero for terminal and
	// final queries.
	Wait time.Duration

	// Final marks the single query issued after the budget ran out.
	Final bool
}

// Outcome is what a poll session ends with.
type Outcome struct {
	// Body is the payload of the last query.
	Body []byte

	// State is the classified state of the last query.
	State State

	// Queries counts every query issued, including the final one.
	Queries int

	// Exhausted is true when the main loop ran out of attempts without a
	// terminal state.
	Exhausted bool

	// Err is the error of the last query, if it failed.
	Err error
}

// Poller queries one run at a time until it is terminal or out of budget.
//
// A Poller holds no per-run state and may be reused sequentially.
type Poller struct {
	policy    Policy
	extractor StatusExtractor
	sleep     Sleeper
	observer  func(Attempt)
	logger    *slog.Logger
}

// Option customizes a [Poller].
type Option func(*Poller)

// WithSleeper replaces the timer-based wait, mainly for tests.
func WithSleeper(s Sleeper) Option {
	return func(p *Poller) {
		if s != nil {
			p.sleep = s
		}
	}
}

// WithObserver registers a function called after every query.
func WithObserver(fn func(Attempt)) Option {
	return func(p *Poller) {
		p.observer = fn
	}
}

// NewPoller creates a [Poller].
//
// Parameters:
//   - policy: backoff and budget, see [Policy]
//   - extractor: turns a response body into a [State]
//   - logger: logger for attempt and panic events
//
// Returns an error if the policy is invalid or the extractor is nil.
func NewPoller(policy Policy, extractor StatusExtractor, logger *slog.Logger, opts ...Option) (*Poller, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid poll policy: %w", err)
	}
	if extractor == nil {
		return nil, errors.New("status extractor cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Poller{
		policy:    policy,
		extractor: extractor,
		sleep:     sleepContext,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Poll queries handle until a terminal state or until MaxAttempts queries
// have been made, then issues exactly one more query and returns its result.
//
// Query failures and responses without a status are absorbed: they cost a
// regular attempt and grow the interval by ErrorMultiplier. Pending responses
// grow it by Multiplier. No wait follows a terminal response or the final
// query.
//
// The returned error is non-nil only for an empty handle, a nil query, or a
// cancelled context. On cancellation the outcome of the last query that
// completed before it is returned with ctx.Err(); a query cut short by the
// cancellation never replaces it. The outcome is empty when no query
// completed.
func (p *Poller) Poll(ctx context.Context, handle string, query QueryFunc) (Outcome, error) {
	if handle == "" {
		return Outcome{}, errors.New("run handle cannot be empty")
	}
	if query == nil {
		return Outcome{}, errors.New("query function cannot be nil")
	}

	interval := p.policy.InitialInterval
	var last Outcome

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		resp := query(ctx, handle)
		if resp.Err != nil && ctx.Err() != nil {
			return last, ctx.Err()
		}
		state := p.classify(resp)
		last = Outcome{Body: resp.Body, State: state, Queries: attempt, Err: resp.Err}

		if state.Terminal() {
			p.notify(Attempt{Number: attempt, State: state})
			p.logger.Debug("run reached terminal state",
				"run_handle", handle,
				"state", string(state),
				"attempt", attempt,
			)
			return last, nil
		}

		failed := state == StateUnknown
		p.notify(Attempt{Number: attempt, State: state, Err: resp.Err, Wait: interval})

		logAttrs := []any{
			"run_handle", handle,
			"attempt", attempt,
			"max_attempts", p.policy.MaxAttempts,
			"wait", interval.String(),
		}
		if failed {
			if resp.Err != nil {
				logAttrs = append(logAttrs, "error", resp.Err.Error())
			}
			p.logger.Warn("status unavailable, backing off", logAttrs...)
		} else {
			p.logger.Debug("run still pending", logAttrs...)
		}

		if err := p.sleep(ctx, interval); err != nil {
			return last, err
		}
		interval = p.policy.Next(interval, failed)
	}

	p.logger.Warn("attempt budget exhausted, issuing final query",
		"run_handle", handle,
		"max_attempts", p.policy.MaxAttempts,
	)

	final := p.policy.MaxAttempts + 1
	resp := query(ctx, handle)
	if resp.Err != nil && ctx.Err() != nil {
		last.Exhausted = true
		return last, ctx.Err()
	}
	state := p.classify(resp)
	p.notify(Attempt{Number: final, State: state, Err: resp.Err, Final: true})

	return Outcome{
		Body:      resp.Body,
		State:     state,
		Queries:   final,
		Exhausted: true,
		Err:       resp.Err,
	}, nil
}

// classify maps a response to a state. Failed queries are never passed to
// the extractor.
func (p *Poller) classify(resp Response) State {
	if resp.Err != nil {
		return StateUnknown
	}
	state := p.safeExtract(resp.Body)
	if state == "" {
		return StateUnknown
	}
	return state
}

// safeExtract calls the extractor with panic recovery.
// A panic is logged with a correlation ID and the stack, and the response is
// treated as carrying no status.
func (p *Poller) safeExtract(body []byte) (state State) {
	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			p.logger.Error("status extractor panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			state = StateUnknown
		}
	}()
	return p.extractor(body)
}

func (p *Poller) notify(a Attempt) {
	if p.observer != nil {
		p.observer(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
