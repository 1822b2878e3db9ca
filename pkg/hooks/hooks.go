// Package hooks provides lifecycle callback dispatch for pooled resources.
// Hooks run inline with the pool operation that triggered them; they are
// never deferred or queued. A hook failure either fails the pool operation
// or is counted and swallowed, depending on ContinueOnError.
package hooks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmatic/respool/pkg/errors"
	"github.com/flowmatic/respool/pkg/logger"
)

// Event identifies a lifecycle extension point
type Event string

const (
	// EventCreate fires after the factory produces a new instance
	EventCreate Event = "create"
	// EventAcquire fires when an instance is handed to a caller
	EventAcquire Event = "acquire"
	// EventReturn fires when a caller releases an instance
	EventReturn Event = "return"
	// EventDispose fires when an instance is torn down with the pool
	EventDispose Event = "dispose"
	// EventEvict fires when the sweep removes an idle instance
	EventEvict Event = "evict"
	// EventValidationFailed fires when a returned instance fails validation
	EventValidationFailed Event = "validation_failed"
)

// Events lists every dispatchable event, in dispatch-stat order.
var Events = []Event{EventCreate, EventAcquire, EventReturn, EventDispose, EventEvict, EventValidationFailed}

// Hooks is the optional callback set for a pool. Every event has a plain
// form and a context-aware form; when both are set the context-aware form
// takes precedence. All fields may be nil.
type Hooks[T any] struct {
	OnCreate    func(T) error
	OnCreateCtx func(context.Context, T) error

	OnAcquire    func(T) error
	OnAcquireCtx func(context.Context, T) error

	OnReturn    func(T) error
	OnReturnCtx func(context.Context, T) error

	OnDispose    func(T) error
	OnDisposeCtx func(context.Context, T) error

	// Evict hooks receive the eviction reason (ttl, idle, custom)
	OnEvict    func(T, string) error
	OnEvictCtx func(context.Context, T, string) error

	OnValidationFailed    func(T) error
	OnValidationFailedCtx func(context.Context, T) error
}

// EventStats is a read-only snapshot of one event's dispatch counters
type EventStats struct {
	Calls       int64         `json:"calls"`
	Errors      int64         `json:"errors"`
	TotalTime   time.Duration `json:"total_time"`
	AverageTime time.Duration `json:"average_time"`
}

// Dispatcher invokes configured hooks and tracks per-event call counters,
// error counters, and cumulative execution time.
type Dispatcher[T any] struct {
	hooks           Hooks[T]
	continueOnError bool
	logger          *zap.Logger

	mu    sync.Mutex
	stats map[Event]*eventCounters
}

type eventCounters struct {
	calls  int64
	errors int64
	total  time.Duration
}

// NewDispatcher creates a dispatcher for the given hook set.
// With continueOnError set, hook failures are logged and counted but the
// triggering pool operation proceeds; otherwise the failure propagates.
func NewDispatcher[T any](h Hooks[T], continueOnError bool) *Dispatcher[T] {
	d := &Dispatcher[T]{
		hooks:           h,
		continueOnError: continueOnError,
		logger:          logger.With(zap.String("component", "hooks")),
		stats:           make(map[Event]*eventCounters, len(Events)),
	}
	for _, ev := range Events {
		d.stats[ev] = &eventCounters{}
	}
	return d
}

// Create dispatches the create hook
func (d *Dispatcher[T]) Create(ctx context.Context, v T) error {
	return d.dispatch(ctx, EventCreate, v, d.hooks.OnCreate, d.hooks.OnCreateCtx)
}

// Acquire dispatches the acquire hook
func (d *Dispatcher[T]) Acquire(ctx context.Context, v T) error {
	return d.dispatch(ctx, EventAcquire, v, d.hooks.OnAcquire, d.hooks.OnAcquireCtx)
}

// Return dispatches the return hook
func (d *Dispatcher[T]) Return(ctx context.Context, v T) error {
	return d.dispatch(ctx, EventReturn, v, d.hooks.OnReturn, d.hooks.OnReturnCtx)
}

// Dispose dispatches the dispose hook
func (d *Dispatcher[T]) Dispose(ctx context.Context, v T) error {
	return d.dispatch(ctx, EventDispose, v, d.hooks.OnDispose, d.hooks.OnDisposeCtx)
}

// ValidationFailed dispatches the validation-failed hook
func (d *Dispatcher[T]) ValidationFailed(ctx context.Context, v T) error {
	return d.dispatch(ctx, EventValidationFailed, v, d.hooks.OnValidationFailed, d.hooks.OnValidationFailedCtx)
}

// Evict dispatches the evict hook with the eviction reason
func (d *Dispatcher[T]) Evict(ctx context.Context, v T, reason string) error {
	var plain func(T) error
	if d.hooks.OnEvict != nil {
		fn := d.hooks.OnEvict
		plain = func(v T) error { return fn(v, reason) }
	}
	var withCtx func(context.Context, T) error
	if d.hooks.OnEvictCtx != nil {
		fn := d.hooks.OnEvictCtx
		withCtx = func(ctx context.Context, v T) error { return fn(ctx, v, reason) }
	}
	return d.dispatch(ctx, EventEvict, v, plain, withCtx)
}

// dispatch runs the context-aware hook if set, else the plain hook.
func (d *Dispatcher[T]) dispatch(ctx context.Context, ev Event, v T, plain func(T) error, withCtx func(context.Context, T) error) error {
	if plain == nil && withCtx == nil {
		return nil
	}

	start := time.Now()
	var err error
	if withCtx != nil {
		err = withCtx(ctx, v)
	} else {
		err = plain(v)
	}
	elapsed := time.Since(start)

	d.mu.Lock()
	c := d.stats[ev]
	c.calls++
	c.total += elapsed
	if err != nil {
		c.errors++
	}
	d.mu.Unlock()

	if err == nil {
		return nil
	}

	if d.continueOnError {
		d.logger.Warn("lifecycle hook failed, continuing",
			zap.String("event", string(ev)),
			zap.Error(err))
		return nil
	}

	return errors.Wrap(err, errors.ErrorTypeHook, "lifecycle hook failed").
		WithDetail("event", string(ev))
}

// Stats returns a snapshot of per-event dispatch counters
func (d *Dispatcher[T]) Stats() map[Event]EventStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make(map[Event]EventStats, len(d.stats))
	for ev, c := range d.stats {
		s := EventStats{
			Calls:     c.calls,
			Errors:    c.errors,
			TotalTime: c.total,
		}
		if c.calls > 0 {
			s.AverageTime = c.total / time.Duration(c.calls)
		}
		out[ev] = s
	}
	return out
}
