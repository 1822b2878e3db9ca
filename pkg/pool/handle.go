package pool

import (
	"context"
	"sync/atomic"

	"github.com/flowmatic/respool/pkg/errors"
)

// Handle is the one-time release capability returned by a successful
// acquire. Exactly one Release moves the wrapped instance back to the pool
// (or discards it); later releases are no-ops and later Value calls fail.
type Handle[T comparable] struct {
	pool     *Pool[T]
	value    T
	released atomic.Bool
}

// Value returns the wrapped instance. It fails once the handle has been
// released.
func (h *Handle[T]) Value() (T, error) {
	if h.released.Load() {
		var zero T
		return zero, errors.New(errors.ErrorTypeInvalidRelease, "handle already released")
	}
	return h.value, nil
}

// Release returns the instance to its pool. The first call performs the
// release; every later call is a no-op.
func (h *Handle[T]) Release() error {
	return h.ReleaseContext(context.Background())
}

// ReleaseContext releases with a caller-supplied context for the return and
// validation hooks.
func (h *Handle[T]) ReleaseContext(ctx context.Context) error {
	if !h.released.CompareAndSwap(false, true) {
		return nil
	}
	return h.pool.put(ctx, h.value)
}
