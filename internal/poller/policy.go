package poller

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultInitialInterval = 2 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMaxAttempts     = 120
	defaultMultiplier      = 1.5
	defaultErrorMultiplier = 2.0
)

// Policy controls how often a run is queried.
//
// After a successful but non-terminal response the interval grows by
// Multiplier; after a failed query (or a response without a status) it grows
// by ErrorMultiplier. Both paths share one interval and are capped at
// MaxInterval.
type Policy struct {
	// InitialInterval is the wait after the first query.
	InitialInterval time.Duration

	// MaxInterval caps every wait.
	MaxInterval time.Duration

	// MaxAttempts is the number of queries in the main loop. One final query
	// is always issued after the budget is spent. Zero is allowed.
	MaxAttempts int

	// Multiplier applies when the run answered and is still pending.
	Multiplier float64

	// ErrorMultiplier applies when the query failed or carried no status.
	ErrorMultiplier float64
}

// DefaultPolicy returns the policy used when nothing is configured:
// 2s initial, 30s ceiling, 120 attempts, 1.5x pending and 2x error growth.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: defaultInitialInterval,
		MaxInterval:     defaultMaxInterval,
		MaxAttempts:     defaultMaxAttempts,
		Multiplier:      defaultMultiplier,
		ErrorMultiplier: defaultErrorMultiplier,
	}
}

// Validate reports the first invalid field of the policy.
func (p Policy) Validate() error {
	if p.InitialInterval <= 0 {
		return errors.New("initial interval must be positive")
	}
	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("max interval (%s) must not be below initial interval (%s)", p.MaxInterval, p.InitialInterval)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative, got %d", p.MaxAttempts)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be at least 1, got %g", p.Multiplier)
	}
	if p.ErrorMultiplier < 1 {
		return fmt.Errorf("error multiplier must be at least 1, got %g", p.ErrorMultiplier)
	}
	return nil
}

// Next returns the interval that follows current.
//
// failed selects ErrorMultiplier over Multiplier. The result never exceeds
// MaxInterval and never drops below current.
func (p Policy) Next(current time.Duration, failed bool) time.Duration {
	m := p.Multiplier
	if failed {
		m = p.ErrorMultiplier
	}

	// compare before converting back; out-of-range float to int conversion is undefined
	next := float64(current) * m
	if next >= float64(p.MaxInterval) {
		return p.MaxInterval
	}
	if next < float64(current) {
		return current
	}
	return time.Duration(next)
}
