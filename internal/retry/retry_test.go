package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"caricature/internal/clock"
)

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	calls := 0
	got, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second, Clock: fake}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do error: %v", err)
	}
	if got != "ok" {
		t.Fatalf("unexpected value %q", got)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	sleeps := fake.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != time.Second || sleeps[1] != 2*time.Second {
		t.Fatalf("unexpected backoff schedule: %v", sleeps)
	}
}

func TestDoReturnsLastErrorAfterExhaustion(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	calls := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second, Clock: fake}, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("attempt " + string(rune('0'+calls)))
	})
	if err == nil || err.Error() != "attempt 3" {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if elapsed := fake.Elapsed(); elapsed != 3*time.Second {
		t.Fatalf("expected 3s cumulative backoff, got %v", elapsed)
	}
}

func TestDoRealClockBackoffTiming(t *testing.T) {
	base := 20 * time.Millisecond
	start := time.Now()
	err := Run(context.Background(), Policy{MaxAttempts: 3, BaseDelay: base, Clock: clock.Real{}}, func(ctx context.Context) error {
		return errors.New("down")
	})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatalf("expected error")
	}
	want := 3 * base
	if elapsed < want {
		t.Fatalf("returned after %v, want at least %v", elapsed, want)
	}
	if elapsed > want+500*time.Millisecond {
		t.Fatalf("returned after %v, too far beyond %v", elapsed, want)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	sentinel := errors.New("bad input")
	calls := 0
	err := Run(context.Background(), Policy{MaxAttempts: 3, BaseDelay: time.Second, Clock: fake}, func(ctx context.Context) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		t.Fatalf("permanent marker leaked to caller")
	}
	if calls != 1 || len(fake.Sleeps()) != 0 {
		t.Fatalf("permanent error must not be retried: calls=%d sleeps=%v", calls, fake.Sleeps())
	}
}

func TestDoHonorsCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Run(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Hour, Clock: clock.Real{}}, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestOnRetryReportsAttempts(t *testing.T) {
	fake := clock.NewFake(time.Unix(0, 0))
	var attempts []int
	p := Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, Clock: fake, OnRetry: func(attempt int, delay time.Duration, err error) {
		attempts = append(attempts, attempt)
	}}
	_ = Run(context.Background(), p, func(ctx context.Context) error { return errors.New("x") })
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("unexpected OnRetry attempts: %v", attempts)
	}
}
