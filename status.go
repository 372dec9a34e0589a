package cozerun

import (
	"encoding/json"
	"time"

	"github.com/jpalmerr/cozerun/internal/poller"
)

// RunState is the normalized status of a workflow run.
//
// The remote API reports its own vocabulary (Success/Fail/Running for Coze,
// completed/failed/pending for other variants); a [Vocabulary] maps those
// strings onto the four values below.
type RunState string

const (
	// StatePending indicates the run answered and has not finished.
	StatePending RunState = "pending"

	// StateSucceeded indicates the run finished successfully. Terminal.
	StateSucceeded RunState = "succeeded"

	// StateFailed indicates the run finished with a failure. Terminal.
	StateFailed RunState = "failed"

	// StateUnknown indicates the status could not be determined, either
	// because the query failed or because the response had no status.
	StateUnknown RunState = "unknown"
)

// String returns the string representation of the state.
func (s RunState) String() string {
	return string(s)
}

// Terminal reports whether the run will not progress further.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Mode is how a run was executed.
type Mode string

const (
	// ModeSync waits for the workflow inside a single HTTP call.
	ModeSync Mode = "sync"

	// ModeAsync submits the workflow and polls its history.
	ModeAsync Mode = "async"
)

// Outcome summarizes how an execution ended.
type Outcome string

const (
	// OutcomeCompleted means a synchronous call returned a response. The
	// response itself may still describe an application error.
	OutcomeCompleted Outcome = "completed"

	// OutcomeSucceeded means an async run reached a successful terminal state.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed means an async run reached a failed terminal state.
	OutcomeFailed Outcome = "failed"

	// OutcomeIncomplete means the attempt budget ran out before a terminal
	// state was seen. The persisted response is the best known state.
	OutcomeIncomplete Outcome = "incomplete"

	// OutcomeStartFailed means no run handle was obtained; the persisted
	// response is the start failure.
	OutcomeStartFailed Outcome = "start_failed"
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	return string(o)
}

// Execution is the result of [Runner.RunSync], [Runner.RunAsync] or
// [Runner.Resume].
type Execution struct {
	// ID identifies this invocation in logs. It is not sent to the API.
	ID string

	// Mode is how the run was executed.
	Mode Mode

	// Outcome summarizes how the execution ended.
	Outcome Outcome

	// RunHandle is the remote run identifier. Empty when none was obtained.
	RunHandle string

	// State is the last known run state. Empty for synchronous runs.
	State RunState

	// Queries counts the status queries issued while polling.
	Queries int

	// Exhausted is true when polling stopped on the attempt budget.
	Exhausted bool

	// Request is the request body that was sent.
	Request map[string]any

	// Response is the raw payload that was persisted.
	Response json.RawMessage

	// ArtifactPath is where the request/response document was written.
	ArtifactPath string

	// Elapsed is the wall-clock duration of the execution.
	Elapsed time.Duration
}

// AttemptResult describes one status query of an async run, delivered to
// callbacks registered with [WithAttemptCallback].
type AttemptResult struct {
	// RunHandle is the run being polled.
	RunHandle string

	// Attempt is 1-based. The query issued after the budget ran out has
	// Attempt == MaxAttempts+1 and Final set.
	Attempt int

	// State is the classified state reported by this query.
	State RunState

	// Error is the query error, if the query itself failed.
	Error error

	// Wait is the delay before the next query. Zero when polling stops.
	Wait time.Duration

	// Final marks the single query issued after the budget ran out.
	Final bool
}

// fromPollerState converts the poller-internal state.
func fromPollerState(s poller.State) RunState {
	switch s {
	case poller.StatePending:
		return StatePending
	case poller.StateSucceeded:
		return StateSucceeded
	case poller.StateFailed:
		return StateFailed
	default:
		return StateUnknown
	}
}

// toPollerState converts to the poller-internal state.
func toPollerState(s RunState) poller.State {
	switch s {
	case StatePending:
		return poller.StatePending
	case StateSucceeded:
		return poller.StateSucceeded
	case StateFailed:
		return poller.StateFailed
	default:
		return poller.StateUnknown
	}
}
