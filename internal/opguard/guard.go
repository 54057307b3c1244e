// Package opguard rejects overlapping state-changing operations on the same key.
package opguard

import (
	"errors"
	"fmt"
	"sync"
)

// ErrConcurrentOperationRejected is returned when an operation for the same
// key is already in flight.
var ErrConcurrentOperationRejected = errors.New("another operation is in progress")

// Guard tracks at most one in-flight operation per key. Different keys never
// block each other.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]string
}

func New() *Guard {
	return &Guard{inflight: map[string]string{}}
}

// Acquire claims key for op. The returned release func must be called exactly
// once; extra calls are no-ops.
func (g *Guard) Acquire(key, op string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if running, ok := g.inflight[key]; ok {
		return nil, fmt.Errorf("%w: %s is running for %s", ErrConcurrentOperationRejected, running, key)
	}
	g.inflight[key] = op

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}, nil
}

// Do runs fn while holding key.
func (g *Guard) Do(key, op string, fn func() error) error {
	release, err := g.Acquire(key, op)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// running reports the operation holding key, if any.
func (g *Guard) running(key string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	op, ok := g.inflight[key]
	return op, ok
}
