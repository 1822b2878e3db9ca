// Package pool implements a bounded concurrent pool of expensive-to-create
// resources. Instances live in exactly one of two partitions: an available
// LIFO store (most recently returned first, so callers get warm instances)
// and an active set of instances currently held by callers.
//
// On-demand creation is routed through a circuit breaker so a failing
// factory cannot cascade, and a background sweep evicts stale idle
// instances. Lifecycle hooks fire inline at create/acquire/return/dispose/
// evict/validation-failed points.
//
// Example usage:
//
//	p, err := pool.New(pool.Config[*Conn]{
//	    Name:      "upstream",
//	    MaxSize:   8,
//	    MaxActive: 16,
//	    Factory:   dial,
//	})
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	h, err := p.Acquire()
//	if err != nil {
//	    return err
//	}
//	defer h.Release()
//
//	conn, _ := h.Value()
//	conn.Do(...)
package pool

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmatic/respool/pkg/breaker"
	"github.com/flowmatic/respool/pkg/errors"
	"github.com/flowmatic/respool/pkg/eviction"
	"github.com/flowmatic/respool/pkg/hooks"
	"github.com/flowmatic/respool/pkg/logger"
)

const (
	defaultMaxSize        = 16
	defaultAcquireTimeout = 5 * time.Second
	defaultPollInterval   = 20 * time.Millisecond
)

// Config is the immutable configuration of a pool
type Config[T comparable] struct {
	// Name identifies the pool in logs and metrics
	Name string

	// MaxSize caps the available store; instances returned to a full store
	// are discarded (drop-newest). Defaults to 16 or the seed count,
	// whichever is larger.
	MaxSize int

	// MaxActive caps concurrently held instances; zero means unlimited
	MaxActive int

	// AcquireTimeout is applied by AcquireContext when the caller's context
	// carries no deadline
	AcquireTimeout time.Duration

	// PollInterval is the wait between AcquireContext attempts
	PollInterval time.Duration

	// Factory enables on-demand creation when the store is empty. Calls are
	// routed through the circuit breaker.
	Factory func() (T, error)

	// Validate and ValidateCtx check instances on release; a false result
	// silently discards the instance. ValidateCtx wins when both are set.
	Validate    func(T) bool
	ValidateCtx func(context.Context, T) bool

	// Dispose and DisposeCtx tear instances down on eviction, validation
	// discard, and pool close. DisposeCtx wins when both are set.
	Dispose    func(T) error
	DisposeCtx func(context.Context, T) error

	// Hooks are the optional lifecycle callbacks
	Hooks hooks.Hooks[T]

	// ContinueOnHookError swallows (and counts) hook failures instead of
	// failing the triggering pool operation
	ContinueOnHookError bool

	// Breaker configures the creation-path circuit breaker
	Breaker breaker.Config

	// Eviction configures staleness policy and the background sweep
	Eviction eviction.Config[T]
}

// Pool is a bounded concurrent resource pool. All methods are safe for
// concurrent use by multiple callers.
type Pool[T comparable] struct {
	config   Config[T]
	logger   *zap.Logger
	breaker  *breaker.Breaker
	evictor  *eviction.Manager[T]
	hooks    *hooks.Dispatcher[T]
	stopOnce sync.Once
	stopCh   chan struct{}

	// mu guards both partitions plus the counters below, so an instance is
	// observable in exactly one partition at any point.
	mu        sync.Mutex
	available []T
	active    map[T]struct{}
	reserved  int // active slots promised to in-flight creations
	closed    bool

	acquired           int64
	released           int64
	created            int64
	creationFailures   int64
	emptyEvents        int64
	peakActive         int
	discardedFull      int64
	validationFailures int64
}

// New creates a pool seeded with the given instances. Seed instances start
// in the available store and are tracked immediately. Without a factory the
// pool hands out only the seed population.
func New[T comparable](config Config[T], seed ...T) (*Pool[T], error) {
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
		if len(seed) > config.MaxSize {
			config.MaxSize = len(seed)
		}
	}
	if len(seed) > config.MaxSize {
		return nil, errors.Newf(errors.ErrorTypeConfig,
			"%d seed instances exceed max store size %d", len(seed), config.MaxSize)
	}
	if config.Factory == nil && len(seed) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "pool needs seed instances or a factory")
	}
	if config.AcquireTimeout <= 0 {
		config.AcquireTimeout = defaultAcquireTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}

	tracker := eviction.NewTracker[T]()
	p := &Pool[T]{
		config:    config,
		logger:    logger.With(zap.String("component", "pool"), zap.String("pool", config.Name)),
		evictor:   eviction.NewManager(config.Eviction, tracker),
		hooks:     hooks.NewDispatcher(config.Hooks, config.ContinueOnHookError),
		stopCh:    make(chan struct{}),
		available: make([]T, 0, config.MaxSize),
		active:    make(map[T]struct{}),
	}
	if config.Factory != nil {
		p.breaker = breaker.New(config.Breaker)
	}

	for _, v := range seed {
		tracker.Track(v)
		p.available = append(p.available, v)
	}

	if p.evictor.Enabled() && config.Eviction.Interval > 0 {
		go p.sweepLoop()
	}

	p.logger.Info("pool created",
		zap.Int("seed", len(seed)),
		zap.Int("max_size", config.MaxSize),
		zap.Int("max_active", config.MaxActive),
		zap.Bool("dynamic", config.Factory != nil))

	return p, nil
}

// Acquire hands out an instance, creating one through the circuit breaker
// when the store is empty and a factory is configured. The active cap is
// checked before the store is touched.
func (p *Pool[T]) Acquire() (*Handle[T], error) {
	return p.acquire(context.Background())
}

// TryAcquire is Acquire without an error: it reports failure as false
func (p *Pool[T]) TryAcquire() (*Handle[T], bool) {
	h, err := p.acquire(context.Background())
	if err != nil {
		return nil, false
	}
	return h, true
}

// TryAcquireMatch hands out the most recently returned available instance
// matching pred. It is a linear-scan convenience; it never creates.
func (p *Pool[T]) TryAcquireMatch(pred func(T) bool) (*Handle[T], bool) {
	p.mu.Lock()
	if p.closed || p.overActiveCapLocked() {
		p.mu.Unlock()
		return nil, false
	}
	for i := len(p.available) - 1; i >= 0; i-- {
		v := p.available[i]
		if !pred(v) {
			continue
		}
		p.available = append(p.available[:i], p.available[i+1:]...)
		p.admitLocked(v)
		p.mu.Unlock()

		h, err := p.finishAcquire(context.Background(), v)
		if err != nil {
			return nil, false
		}
		return h, true
	}
	p.mu.Unlock()
	return nil, false
}

// AcquireContext waits for an instance by polling the acquire path at the
// configured interval until success, deadline, or cancellation. When ctx
// has no deadline the pool's AcquireTimeout applies.
func (p *Pool[T]) AcquireContext(ctx context.Context) (*Handle[T], error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.AcquireTimeout)
		defer cancel()
	}

	var lastErr error
	for {
		h, err := p.acquire(ctx)
		if err == nil {
			return h, nil
		}
		if errors.IsType(err, errors.ErrorTypeDisposed) {
			return nil, err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			if ctx.Err() == context.Canceled {
				return nil, errors.Wrap(lastErr, errors.ErrorTypeCancelled, "acquire cancelled")
			}
			return nil, errors.Wrap(lastErr, errors.ErrorTypeTimeout, "acquire timed out")
		case <-time.After(p.config.PollInterval):
		}
	}
}

func (p *Pool[T]) acquire(ctx context.Context) (*Handle[T], error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeDisposed, "pool is disposed")
	}

	if p.overActiveCapLocked() {
		p.mu.Unlock()
		return nil, errors.Newf(errors.ErrorTypeCapacity,
			"active limit %d reached", p.config.MaxActive)
	}

	if n := len(p.available); n > 0 {
		v := p.available[n-1]
		p.available = p.available[:n-1]
		p.admitLocked(v)
		p.mu.Unlock()
		return p.finishAcquire(ctx, v)
	}

	p.emptyEvents++
	if p.config.Factory == nil {
		p.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeUnavailable, "no available instance and no factory")
	}

	// Reserve the active slot so concurrent creations cannot overshoot the
	// cap while the factory runs outside the lock.
	p.reserved++
	p.mu.Unlock()

	v, err := p.create(ctx)

	p.mu.Lock()
	p.reserved--
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		p.discard(ctx, v, true)
		return nil, errors.New(errors.ErrorTypeDisposed, "pool is disposed")
	}
	p.admitLocked(v)
	p.mu.Unlock()

	return p.finishAcquire(ctx, v)
}

// create runs the factory through the circuit breaker and tracks the result
func (p *Pool[T]) create(ctx context.Context) (T, error) {
	var v T
	err := p.breaker.Execute(func() error {
		nv, err := p.config.Factory()
		if err != nil {
			return err
		}
		v = nv
		return nil
	})
	if err != nil {
		var zero T
		if errors.IsType(err, errors.ErrorTypeCircuitOpen) {
			return zero, err
		}
		p.mu.Lock()
		p.creationFailures++
		p.mu.Unlock()
		return zero, errors.Wrap(err, errors.ErrorTypeCreation, "factory failed")
	}

	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	p.evictor.Tracker().Track(v)

	if err := p.hooks.Create(ctx, v); err != nil {
		p.discard(ctx, v, false)
		var zero T
		return zero, err
	}
	return v, nil
}

// finishAcquire records metadata and fires the acquire hook for an instance
// already admitted to the active set. A hook failure rolls the instance
// back to the available store.
func (p *Pool[T]) finishAcquire(ctx context.Context, v T) (*Handle[T], error) {
	p.evictor.Tracker().RecordAccess(v)

	if err := p.hooks.Acquire(ctx, v); err != nil {
		p.mu.Lock()
		delete(p.active, v)
		p.acquired--
		if len(p.available) < p.config.MaxSize && !p.closed {
			p.available = append(p.available, v)
			p.mu.Unlock()
		} else {
			p.mu.Unlock()
			p.discard(ctx, v, true)
		}
		return nil, err
	}

	return &Handle[T]{pool: p, value: v}, nil
}

// put processes a release: return hook, validation, then the atomic move
// from active back to the store (or a discard).
func (p *Pool[T]) put(ctx context.Context, v T) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.New(errors.ErrorTypeDisposed, "pool is disposed")
	}
	if _, ok := p.active[v]; !ok {
		p.mu.Unlock()
		return errors.New(errors.ErrorTypeInvalidRelease, "instance is not active in this pool")
	}
	p.mu.Unlock()

	p.evictor.Tracker().RecordReturn(v)

	if err := p.hooks.Return(ctx, v); err != nil {
		// The return failed mid-processing; the instance is not re-stored.
		p.removeActive(v)
		p.discard(ctx, v, true)
		return err
	}

	if !p.validate(ctx, v) {
		p.removeActive(v)
		p.mu.Lock()
		p.validationFailures++
		p.mu.Unlock()
		_ = p.hooks.ValidationFailed(ctx, v)
		p.discard(ctx, v, false)
		return nil
	}

	p.mu.Lock()
	if _, ok := p.active[v]; !ok {
		// Lost to a concurrent double release of an aliased handle.
		p.mu.Unlock()
		return errors.New(errors.ErrorTypeInvalidRelease, "instance is not active in this pool")
	}
	delete(p.active, v)
	if len(p.available) >= p.config.MaxSize {
		p.discardedFull++
		p.mu.Unlock()
		p.discard(ctx, v, true)
		p.logger.Debug("store full, discarding returned instance")
		return nil
	}
	p.available = append(p.available, v)
	p.released++
	p.mu.Unlock()
	return nil
}

func (p *Pool[T]) validate(ctx context.Context, v T) bool {
	switch {
	case p.config.ValidateCtx != nil:
		return p.config.ValidateCtx(ctx, v)
	case p.config.Validate != nil:
		return p.config.Validate(v)
	default:
		return true
	}
}

// removeActive excises an instance from the active set if present
func (p *Pool[T]) removeActive(v T) {
	p.mu.Lock()
	delete(p.active, v)
	p.mu.Unlock()
}

// discard disposes and untracks an instance that left both partitions
func (p *Pool[T]) discard(ctx context.Context, v T, fireHook bool) {
	if fireHook {
		_ = p.hooks.Dispose(ctx, v)
	}
	if err := p.dispose(ctx, v); err != nil {
		p.logger.Warn("instance dispose failed", zap.Error(err))
	}
	p.evictor.Tracker().Untrack(v)
}

func (p *Pool[T]) dispose(ctx context.Context, v T) error {
	switch {
	case p.config.DisposeCtx != nil:
		return p.config.DisposeCtx(ctx, v)
	case p.config.Dispose != nil:
		return p.config.Dispose(v)
	default:
		return nil
	}
}

// overActiveCapLocked reports whether admitting one more instance would
// exceed the active cap. Reserved creation slots count.
func (p *Pool[T]) overActiveCapLocked() bool {
	return p.config.MaxActive > 0 && len(p.active)+p.reserved >= p.config.MaxActive
}

// admitLocked moves an instance into the active set and updates counters
func (p *Pool[T]) admitLocked(v T) {
	p.active[v] = struct{}{}
	p.acquired++
	if len(p.active) > p.peakActive {
		p.peakActive = len(p.active)
	}
}

// Warm drives the ordinary acquire path n times and releases everything,
// filling the store up front. It stops at the first acquire failure and
// returns how many instances were warmed.
func (p *Pool[T]) Warm(ctx context.Context, n int) (int, error) {
	handles := make([]*Handle[T], 0, n)
	var firstErr error
	for i := 0; i < n; i++ {
		h, err := p.acquire(ctx)
		if err != nil {
			firstErr = err
			break
		}
		handles = append(handles, h)
	}
	for _, h := range handles {
		if err := h.ReleaseContext(ctx); err != nil {
			p.logger.Warn("warm-up release failed", zap.Error(err))
		}
	}
	return len(handles), firstErr
}

// Release releases a handle obtained from this pool
func (p *Pool[T]) Release(h *Handle[T]) error {
	if h == nil {
		return nil
	}
	if h.pool != p {
		return errors.New(errors.ErrorTypeInvalidRelease, "handle belongs to a different pool")
	}
	return h.Release()
}

// Breaker exposes the creation-path circuit breaker for manual Trip/Reset
// and snapshots. It is nil for pools without a factory.
func (p *Pool[T]) Breaker() *breaker.Breaker {
	return p.breaker
}

// Hooks exposes the lifecycle hook dispatcher statistics
func (p *Pool[T]) Hooks() *hooks.Dispatcher[T] {
	return p.hooks
}

// Close disposes every instance in both partitions and marks the pool
// unusable. It is idempotent.
func (p *Pool[T]) Close() error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	victims := make([]T, 0, len(p.available)+len(p.active))
	victims = append(victims, p.available...)
	for v := range p.active {
		victims = append(victims, v)
	}
	p.available = nil
	p.active = make(map[T]struct{})
	p.mu.Unlock()

	ctx := context.Background()
	for _, v := range victims {
		p.discard(ctx, v, true)
	}

	p.logger.Info("pool closed", zap.Int("disposed", len(victims)))
	return nil
}
