// Package retry runs fallible network operations with bounded exponential
// backoff. It is used for job store, credit ledger and renderer dispatch
// calls; the renderer poll loop has its own budget and does not go through
// here.
package retry

import (
	"context"
	"errors"
	"time"

	"caricature/internal/clock"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy controls how many attempts are made and how long to wait between
// them. The wait after failed attempt n (0-based) is BaseDelay * 2^n.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Clock       clock.Clock
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns 3 attempts starting at 1s on the real clock.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay, Clock: clock.Real{}}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Clock == nil {
		p.Clock = clock.Real{}
	}
	return p
}

// Delay returns the wait after failed attempt n (0-based).
func (p Policy) Delay(attempt int) time.Duration {
	return p.BaseDelay << uint(attempt)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns the wrapped error
// unchanged, without the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs op until it succeeds, returns a Permanent error, or MaxAttempts is
// reached. On exhaustion the last observed error is returned. Cancellation of
// ctx during a wait returns the context error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var zero T
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, delay, err)
		}
		if err := p.Clock.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
