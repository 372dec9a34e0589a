package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"
)

// testLogger returns a logger that discards all output for clean test output.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSleeper captures every requested wait without sleeping.
type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

// scriptedQuery replays responses in order; once exhausted it repeats the last one.
type scriptedQuery struct {
	responses []Response
	calls     int
}

func (s *scriptedQuery) query(ctx context.Context, handle string) Response {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i]
}

// bodyExtractor treats the body as the literal status value.
func bodyExtractor(body []byte) State {
	switch string(body) {
	case "Success":
		return StateSucceeded
	case "Fail":
		return StateFailed
	case "":
		return StateUnknown
	default:
		return StatePending
	}
}

func ok(status string) Response {
	return Response{Body: []byte(status)}
}

func queryErr() Response {
	return Response{Body: []byte(`{"error":"boom"}`), Err: errors.New("boom")}
}

func newTestPoller(t *testing.T, policy Policy, sleeper *recordingSleeper, opts ...Option) *Poller {
	t.Helper()
	opts = append(opts, WithSleeper(sleeper.sleep))
	p, err := NewPoller(policy, bodyExtractor, testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	return p
}

func testPolicy() Policy {
	return Policy{
		InitialInterval: 2 * time.Second,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     5,
		Multiplier:      1.5,
		ErrorMultiplier: 2,
	}
}

func TestPoll_PendingThenFail(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{ok("Running"), ok("Running"), ok("Fail")}}

	out, err := newTestPoller(t, testPolicy(), sleeper).Poll(context.Background(), "exec-1", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if q.calls != 3 {
		t.Errorf("queries = %d, want 3", q.calls)
	}
	want := []time.Duration{2 * time.Second, 3 * time.Second}
	assertWaits(t, sleeper.waits, want)
	if out.State != StateFailed {
		t.Errorf("State = %q, want %q", out.State, StateFailed)
	}
	if string(out.Body) != "Fail" {
		t.Errorf("Body = %q, want %q", out.Body, "Fail")
	}
	if out.Exhausted {
		t.Error("Exhausted = true, want false")
	}
	if out.Queries != 3 {
		t.Errorf("Queries = %d, want 3", out.Queries)
	}
}

func TestPoll_ErrorsThenSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{queryErr(), queryErr(), ok("Success")}}

	out, err := newTestPoller(t, testPolicy(), sleeper).Poll(context.Background(), "exec-1", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if q.calls != 3 {
		t.Errorf("queries = %d, want 3", q.calls)
	}
	assertWaits(t, sleeper.waits, []time.Duration{2 * time.Second, 4 * time.Second})
	if out.State != StateSucceeded {
		t.Errorf("State = %q, want %q", out.State, StateSucceeded)
	}
	if out.Err != nil {
		t.Errorf("Err = %v, want nil", out.Err)
	}
}

func TestPoll_KPendingThenTerminal(t *testing.T) {
	for k := 0; k <= 4; k++ {
		sleeper := &recordingSleeper{}
		responses := make([]Response, 0, k+1)
		for i := 0; i < k; i++ {
			responses = append(responses, ok("Running"))
		}
		responses = append(responses, ok("Success"))
		q := &scriptedQuery{responses: responses}

		out, err := newTestPoller(t, testPolicy(), sleeper).Poll(context.Background(), "h", q.query)
		if err != nil {
			t.Fatalf("k=%d: Poll() error = %v", k, err)
		}
		if q.calls != k+1 {
			t.Errorf("k=%d: queries = %d, want %d", k, q.calls, k+1)
		}
		if out.State != StateSucceeded {
			t.Errorf("k=%d: State = %q, want %q", k, out.State, StateSucceeded)
		}
		// no sleep after the terminal response
		if len(sleeper.waits) != k {
			t.Errorf("k=%d: waits = %d, want %d", k, len(sleeper.waits), k)
		}
	}
}

func TestPoll_PendingBackoffFollowsMultiplier(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 10
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{ok("Running")}}

	_, err := newTestPoller(t, policy, sleeper).Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if len(sleeper.waits) != policy.MaxAttempts {
		t.Fatalf("waits = %d, want %d", len(sleeper.waits), policy.MaxAttempts)
	}
	for n, got := range sleeper.waits {
		want := expectedInterval(policy, 1.5, n)
		if got != want {
			t.Errorf("wait[%d] = %v, want %v", n, got, want)
		}
	}
}

func TestPoll_ErrorBackoffFollowsErrorMultiplier(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 8
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{queryErr()}}

	_, err := newTestPoller(t, policy, sleeper).Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	for n, got := range sleeper.waits {
		want := expectedInterval(policy, 2, n)
		if got != want {
			t.Errorf("wait[%d] = %v, want %v", n, got, want)
		}
	}
}

func TestPoll_MissingStatusTreatedAsError(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{ok(""), ok(""), ok("Success")}}

	_, err := newTestPoller(t, testPolicy(), sleeper).Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	assertWaits(t, sleeper.waits, []time.Duration{2 * time.Second, 4 * time.Second})
}

func TestPoll_MixedPathsShareInterval(t *testing.T) {
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{ok("Running"), queryErr(), ok("Running"), ok("Success")}}

	_, err := newTestPoller(t, testPolicy(), sleeper).Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	// 2s, then 2*1.5 = 3s, then 3*2 = 6s
	assertWaits(t, sleeper.waits, []time.Duration{2 * time.Second, 3 * time.Second, 6 * time.Second})
}

func TestPoll_IntervalNeverExceedsCeiling(t *testing.T) {
	policy := Policy{
		InitialInterval: time.Second,
		MaxInterval:     5 * time.Second,
		MaxAttempts:     50,
		Multiplier:      1.5,
		ErrorMultiplier: 2,
	}
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{ok("Running"), queryErr()}}

	if _, err := newTestPoller(t, policy, sleeper).Poll(context.Background(), "h", q.query); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	var prev time.Duration
	for i, w := range sleeper.waits {
		if w > policy.MaxInterval {
			t.Errorf("wait[%d] = %v exceeds max %v", i, w, policy.MaxInterval)
		}
		if w < prev {
			t.Errorf("wait[%d] = %v decreased from %v", i, w, prev)
		}
		prev = w
	}
	if prev != policy.MaxInterval {
		t.Errorf("last wait = %v, want ceiling %v", prev, policy.MaxInterval)
	}
}

func TestPoll_ExhaustionIssuesOneFinalQuery(t *testing.T) {
	policy := testPolicy()
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{
		ok("Running"), ok("Running"), ok("Running"), ok("Running"), ok("Running"),
		ok("Success"),
	}}

	out, err := newTestPoller(t, policy, sleeper).Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if q.calls != policy.MaxAttempts+1 {
		t.Errorf("queries = %d, want %d", q.calls, policy.MaxAttempts+1)
	}
	if len(sleeper.waits) != policy.MaxAttempts {
		t.Errorf("waits = %d, want %d (no wait before returning the final query)", len(sleeper.waits), policy.MaxAttempts)
	}
	if !out.Exhausted {
		t.Error("Exhausted = false, want true")
	}
	// the final query result is returned as-is, terminal or not
	if out.State != StateSucceeded {
		t.Errorf("State = %q, want %q", out.State, StateSucceeded)
	}
	if out.Queries != policy.MaxAttempts+1 {
		t.Errorf("Queries = %d, want %d", out.Queries, policy.MaxAttempts+1)
	}
}

func TestPoll_ExhaustionReturnsFinalError(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 2
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{ok("Running"), ok("Running"), queryErr()}}

	out, err := newTestPoller(t, policy, sleeper).Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if out.Err == nil {
		t.Fatal("Err = nil, want final query error")
	}
	if string(out.Body) != `{"error":"boom"}` {
		t.Errorf("Body = %q, want error payload", out.Body)
	}
	if out.State != StateUnknown {
		t.Errorf("State = %q, want %q", out.State, StateUnknown)
	}
}

func TestPoll_ZeroAttempts(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 0
	sleeper := &recordingSleeper{}
	q := &scriptedQuery{responses: []Response{ok("Running")}}

	out, err := newTestPoller(t, policy, sleeper).Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if q.calls != 1 {
		t.Errorf("queries = %d, want 1", q.calls)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("waits = %v, want none", sleeper.waits)
	}
	if !out.Exhausted || out.State != StatePending {
		t.Errorf("outcome = %+v, want exhausted pending", out)
	}
}

func TestPoll_EmptyHandle(t *testing.T) {
	q := &scriptedQuery{responses: []Response{ok("Success")}}
	_, err := newTestPoller(t, testPolicy(), &recordingSleeper{}).Poll(context.Background(), "", q.query)
	if err == nil {
		t.Fatal("Poll() expected error for empty handle")
	}
	if q.calls != 0 {
		t.Errorf("queries = %d, want 0", q.calls)
	}
}

func TestPoll_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := &scriptedQuery{responses: []Response{ok("Running")}}
	sleeper := func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	p, err := NewPoller(testPolicy(), bodyExtractor, testLogger(), WithSleeper(sleeper))
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	out, err := p.Poll(ctx, "h", q.query)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll() error = %v, want context.Canceled", err)
	}
	if out.State != StatePending || out.Queries != 1 {
		t.Errorf("outcome = %+v, want best known pending after 1 query", out)
	}
}

func TestPoll_ContextCancelledDuringQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	query := func(ctx context.Context, handle string) Response {
		calls++
		if calls == 1 {
			return ok("Running")
		}
		cancel()
		return Response{Body: []byte(`{"error":"context canceled"}`), Err: ctx.Err()}
	}

	var observed []Attempt
	p := newTestPoller(t, testPolicy(), &recordingSleeper{},
		WithObserver(func(a Attempt) { observed = append(observed, a) }))

	out, err := p.Poll(ctx, "h", query)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll() error = %v, want context.Canceled", err)
	}
	if string(out.Body) != "Running" || out.State != StatePending || out.Queries != 1 {
		t.Errorf("outcome = %+v, want pending Running body after 1 query", out)
	}
	if len(observed) != 1 {
		t.Errorf("observed %d attempts, want 1", len(observed))
	}
}

func TestPoll_ContextCancelledDuringFirstQuery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := func(ctx context.Context, handle string) Response {
		cancel()
		return Response{Body: []byte(`{"error":"context canceled"}`), Err: ctx.Err()}
	}

	out, err := newTestPoller(t, testPolicy(), &recordingSleeper{}).Poll(ctx, "h", query)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Poll() error = %v, want context.Canceled", err)
	}
	if out.Body != nil || out.Queries != 0 {
		t.Errorf("outcome = %+v, want empty outcome", out)
	}
}

func TestPoll_ExtractorPanicTreatedAsMissingStatus(t *testing.T) {
	calls := 0
	extractor := func(body []byte) State {
		calls++
		if calls == 1 {
			panic("bad payload")
		}
		return StateSucceeded
	}
	sleeper := &recordingSleeper{}
	p, err := NewPoller(testPolicy(), extractor, testLogger(), WithSleeper(sleeper.sleep))
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}

	q := &scriptedQuery{responses: []Response{ok("x")}}
	out, err := p.Poll(context.Background(), "h", q.query)
	if err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if out.State != StateSucceeded {
		t.Errorf("State = %q, want %q", out.State, StateSucceeded)
	}
	// panic takes the error path: next interval would be doubled
	assertWaits(t, sleeper.waits, []time.Duration{2 * time.Second})
}

func TestPoll_ObserverSeesEveryQuery(t *testing.T) {
	var attempts []Attempt
	sleeper := &recordingSleeper{}
	policy := testPolicy()
	policy.MaxAttempts = 2
	q := &scriptedQuery{responses: []Response{queryErr(), ok("Running"), ok("Running")}}

	p := newTestPoller(t, policy, sleeper, WithObserver(func(a Attempt) {
		attempts = append(attempts, a)
	}))
	if _, err := p.Poll(context.Background(), "h", q.query); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	if len(attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(attempts))
	}
	if attempts[0].Err == nil || attempts[0].State != StateUnknown || attempts[0].Wait != 2*time.Second {
		t.Errorf("attempts[0] = %+v", attempts[0])
	}
	if attempts[1].State != StatePending || attempts[1].Wait != 4*time.Second {
		t.Errorf("attempts[1] = %+v", attempts[1])
	}
	if !attempts[2].Final || attempts[2].Number != 3 || attempts[2].Wait != 0 {
		t.Errorf("attempts[2] = %+v", attempts[2])
	}
}

func TestNewPoller_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero initial", func(p *Policy) { p.InitialInterval = 0 }},
		{"max below initial", func(p *Policy) { p.MaxInterval = time.Second }},
		{"negative attempts", func(p *Policy) { p.MaxAttempts = -1 }},
		{"multiplier below one", func(p *Policy) { p.Multiplier = 0.5 }},
		{"error multiplier below one", func(p *Policy) { p.ErrorMultiplier = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := testPolicy()
			tt.mutate(&policy)
			if _, err := NewPoller(policy, bodyExtractor, testLogger()); err == nil {
				t.Error("NewPoller() expected error, got nil")
			}
		})
	}

	if _, err := NewPoller(testPolicy(), nil, testLogger()); err == nil {
		t.Error("NewPoller() expected error for nil extractor")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("DefaultPolicy().Validate() error = %v", err)
	}
	if p.InitialInterval != 2*time.Second || p.MaxInterval != 30*time.Second || p.MaxAttempts != 120 {
		t.Errorf("DefaultPolicy() = %+v", p)
	}
	if p.Multiplier != 1.5 || p.ErrorMultiplier != 2 {
		t.Errorf("multipliers = %g/%g, want 1.5/2", p.Multiplier, p.ErrorMultiplier)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("sleepContext() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext() did not return promptly on cancelled context")
	}
}

// expectedInterval is min(initial * m^n, max).
func expectedInterval(p Policy, m float64, n int) time.Duration {
	v := float64(p.InitialInterval) * math.Pow(m, float64(n))
	if v >= float64(p.MaxInterval) {
		return p.MaxInterval
	}
	return time.Duration(v)
}

func assertWaits(t *testing.T, got, want []time.Duration) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("waits = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("wait[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
