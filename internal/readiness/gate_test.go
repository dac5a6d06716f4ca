package readiness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGateLoadsOnceForConcurrentHolders(t *testing.T) {
	var loads int32
	var torn []string
	gate := NewGate(func(ctx context.Context) (string, error) {
		atomic.AddInt32(&loads, 1)
		return "models", nil
	}, func(v string) error {
		torn = append(torn, v)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := gate.Acquire(context.Background())
			if err != nil || v != "models" {
				t.Errorf("Acquire = %q, %v", v, err)
			}
		}()
	}
	wg.Wait()
	if n := atomic.LoadInt32(&loads); n != 1 {
		t.Fatalf("loads = %d, want 1", n)
	}
	if gate.Refs() != 16 {
		t.Fatalf("refs = %d, want 16", gate.Refs())
	}
	for i := 0; i < 15; i++ {
		if err := gate.Release(); err != nil {
			t.Fatalf("Release error: %v", err)
		}
	}
	if !gate.Ready() || len(torn) != 0 {
		t.Fatalf("value torn down while still referenced")
	}
	if err := gate.Release(); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if gate.Ready() || len(torn) != 1 {
		t.Fatalf("last release must tear down, ready=%v torn=%v", gate.Ready(), torn)
	}
	if err := gate.Release(); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}
}

func TestGateReloadsAfterTeardownAndFailure(t *testing.T) {
	fail := true
	gate := NewGate(func(ctx context.Context) (int, error) {
		if fail {
			return 0, errors.New("load failed")
		}
		return 42, nil
	}, nil)

	if _, err := gate.Acquire(context.Background()); err == nil {
		t.Fatalf("expected load error")
	}
	if gate.Refs() != 0 || gate.Ready() {
		t.Fatalf("failed load must not take a reference")
	}
	fail = false
	if v, err := gate.Acquire(context.Background()); err != nil || v != 42 {
		t.Fatalf("Acquire = %d, %v", v, err)
	}
	_ = gate.Release()
	if _, err := gate.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if gate.Loads() != 2 {
		t.Fatalf("loads = %d, want 2", gate.Loads())
	}
}

func TestGateHonoursCancelledContext(t *testing.T) {
	gate := NewGate(func(ctx context.Context) (int, error) { return 1, nil }, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := gate.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
