// Package readiness guards process-wide resources that are expensive to load
// and shared by many sessions.
package readiness

import (
	"context"
	"errors"
	"sync"
)

// ErrNotAcquired is returned by Release when no reference is held.
var ErrNotAcquired = errors.New("readiness: release without acquire")

// Gate loads a value on first Acquire, hands the same value to every holder
// and tears it down when the last holder releases. A failed load is not
// cached; the next Acquire tries again.
type Gate[T any] struct {
	mu       sync.Mutex
	load     func(ctx context.Context) (T, error)
	teardown func(T) error
	value    T
	ready    bool
	refs     int
	loads    int
}

// NewGate returns a gate around load. teardown may be nil.
func NewGate[T any](load func(ctx context.Context) (T, error), teardown func(T) error) *Gate[T] {
	return &Gate[T]{load: load, teardown: teardown}
}

// Acquire returns the loaded value and takes a reference. Concurrent callers
// wait for the same load.
func (g *Gate[T]) Acquire(ctx context.Context) (T, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		v, err := g.load(ctx)
		if err != nil {
			return zero, err
		}
		g.value = v
		g.ready = true
		g.loads++
	}
	g.refs++
	return g.value, nil
}

// Release drops a reference. The last release tears the value down.
func (g *Gate[T]) Release() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refs == 0 {
		return ErrNotAcquired
	}
	g.refs--
	if g.refs > 0 {
		return nil
	}
	var zero T
	v := g.value
	g.value = zero
	g.ready = false
	if g.teardown != nil {
		return g.teardown(v)
	}
	return nil
}

// Ready reports whether the value is currently loaded.
func (g *Gate[T]) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Refs returns the number of outstanding references.
func (g *Gate[T]) Refs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs
}

// Loads returns how many times the value has been loaded.
func (g *Gate[T]) Loads() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loads
}
