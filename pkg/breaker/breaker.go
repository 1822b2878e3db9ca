// Package breaker implements the circuit breaker that gates the pool's
// on-demand creation path, preventing cascading failures when a resource
// factory starts misbehaving.
package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmatic/respool/pkg/errors"
	"github.com/flowmatic/respool/pkg/logger"
)

// State represents the state of a circuit breaker
type State int32

const (
	// StateClosed allows all operations through
	StateClosed State = iota
	// StateOpen rejects all operations
	StateOpen
	// StateHalfOpen admits a limited number of trial operations
	StateHalfOpen
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config is the configuration for a circuit breaker
type Config struct {
	// FailureThreshold opens the circuit after this many consecutive failures
	FailureThreshold int
	// SuccessThreshold closes the circuit after this many consecutive
	// successes in half-open state
	SuccessThreshold int
	// OpenDuration is how long the circuit stays open before trial operations
	OpenDuration time.Duration
	// MinimumThroughput is the window operation count below which the
	// failure-rate rule does not apply
	MinimumThroughput int
	// FailureRateThreshold opens the circuit when the trailing-window failure
	// rate reaches this fraction (0 disables the rate rule)
	FailureRateThreshold float64
	// FailureWindow is the trailing window for the failure-rate rule
	FailureWindow time.Duration
	// HalfOpenLimit caps trial admissions while half-open
	HalfOpenLimit int

	// IsFailure classifies which errors count against the breaker; errors it
	// rejects pass through without touching breaker state. Nil counts all.
	IsFailure func(error) bool

	// OnStateChange fires on every transition, outside the breaker's lock
	OnStateChange func(from, to State)
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.OpenDuration <= 0 {
		c.OpenDuration = 30 * time.Second
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = time.Minute
	}
	if c.HalfOpenLimit <= 0 {
		c.HalfOpenLimit = 5
	}
	return c
}

// Snapshot is a read-only view of breaker state and counters
type Snapshot struct {
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	TotalOperations      int64     `json:"total_operations"`
	Successes            int64     `json:"successes"`
	Failures             int64     `json:"failures"`
	Rejected             int64     `json:"rejected"`
	OpenCount            int64     `json:"open_count"`
	WindowOperations     int64     `json:"window_operations"`
	WindowFailureRate    float64   `json:"window_failure_rate"`
	LastError            string    `json:"last_error,omitempty"`
	LastStateChange      time.Time `json:"last_state_change"`
	OpenedAt             time.Time `json:"opened_at,omitempty"`
}

// Breaker is a failure-gated execution wrapper. All state transitions and
// counter updates happen under one mutex so concurrent operations cannot
// corrupt the threshold arithmetic.
type Breaker struct {
	config Config
	logger *zap.Logger

	mu                   sync.Mutex
	state                State
	lastStateChange      time.Time
	openedAt             time.Time
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenAdmitted     int
	total                int64
	successes            int64
	failures             int64
	rejected             int64
	openCount            int64
	lastErr              error
	window               *slidingWindow
	reopenTimer          *time.Timer
}

// New creates a circuit breaker in the closed state
func New(config Config) *Breaker {
	config = config.withDefaults()
	return &Breaker{
		config:          config,
		logger:          logger.With(zap.String("component", "breaker")),
		state:           StateClosed,
		lastStateChange: time.Now(),
		window:          newSlidingWindow(config.FailureWindow, 6),
	}
}

// Execute runs op with circuit breaker protection. A rejection is recorded
// and returned as a circuit_open error without invoking op. Errors that the
// IsFailure predicate rules out pass through without affecting the breaker.
func (b *Breaker) Execute(op func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	err := op()
	if err != nil {
		if b.config.IsFailure != nil && !b.config.IsFailure(err) {
			return err
		}
		b.RecordFailure(err)
		return err
	}

	b.RecordSuccess()
	return nil
}

// Allow asks for permission to attempt one operation. It returns nil when
// the operation may proceed and a circuit_open error otherwise. An open
// circuit whose OpenDuration has elapsed transitions to half-open here.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if time.Since(b.openedAt) >= b.config.OpenDuration {
			notify := b.transitionLocked(StateHalfOpen)
			b.halfOpenAdmitted++
			b.mu.Unlock()
			notify()
			return nil
		}
		b.rejected++
		retryIn := b.config.OpenDuration - time.Since(b.openedAt)
		b.mu.Unlock()
		return errors.New(errors.ErrorTypeCircuitOpen, "circuit breaker is open").
			WithDetail("retry_in", retryIn.String())

	default: // StateHalfOpen
		if b.halfOpenAdmitted < b.config.HalfOpenLimit {
			b.halfOpenAdmitted++
			b.mu.Unlock()
			return nil
		}
		b.rejected++
		b.mu.Unlock()
		return errors.New(errors.ErrorTypeCircuitOpen, "circuit breaker half-open trial limit reached")
	}
}

// RecordSuccess records a successful operation
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()

	b.total++
	b.successes++
	b.window.record(true)

	notify := func() {}
	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.consecutiveSuccesses++
		if b.consecutiveSuccesses >= b.config.SuccessThreshold {
			notify = b.transitionLocked(StateClosed)
		}
	}

	b.mu.Unlock()
	notify()
}

// RecordFailure records a failed operation
func (b *Breaker) RecordFailure(err error) {
	b.mu.Lock()

	b.total++
	b.failures++
	b.lastErr = err
	b.window.record(false)

	notify := func() {}
	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		ops, rate := b.window.totals()
		tripped := b.consecutiveFailures >= b.config.FailureThreshold
		if !tripped && b.config.FailureRateThreshold > 0 &&
			ops >= int64(b.config.MinimumThroughput) && rate >= b.config.FailureRateThreshold {
			tripped = true
		}
		if tripped {
			notify = b.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		notify = b.transitionLocked(StateOpen)
	}

	b.mu.Unlock()
	notify()
}

// Trip manually opens the circuit
func (b *Breaker) Trip() {
	b.mu.Lock()
	notify := func() {}
	if b.state != StateOpen {
		notify = b.transitionLocked(StateOpen)
	}
	b.mu.Unlock()
	notify()
}

// Reset manually closes the circuit and clears all counters
func (b *Breaker) Reset() {
	b.mu.Lock()

	notify := func() {}
	if b.state != StateClosed {
		notify = b.transitionLocked(StateClosed)
	}
	b.consecutiveFailures = 0
	b.consecutiveSuccesses = 0
	b.lastErr = nil
	b.window.reset()

	b.mu.Unlock()
	notify()
}

// State returns the current breaker state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Snapshot returns the current state and counters
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	ops, rate := b.window.totals()
	s := Snapshot{
		State:                b.state.String(),
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		TotalOperations:      b.total,
		Successes:            b.successes,
		Failures:             b.failures,
		Rejected:             b.rejected,
		OpenCount:            b.openCount,
		WindowOperations:     ops,
		WindowFailureRate:    rate,
		LastStateChange:      b.lastStateChange,
	}
	if b.lastErr != nil {
		s.LastError = b.lastErr.Error()
	}
	if b.state == StateOpen {
		s.OpenedAt = b.openedAt
	}
	return s
}

// transitionLocked changes state while holding the mutex and returns the
// notification to run after it is released.
func (b *Breaker) transitionLocked(to State) func() {
	from := b.state
	if from == to {
		return func() {}
	}

	b.state = to
	b.lastStateChange = time.Now()

	switch to {
	case StateOpen:
		b.openedAt = b.lastStateChange
		b.openCount++
		b.consecutiveSuccesses = 0
		b.halfOpenAdmitted = 0
		b.scheduleReopenLocked()
		b.logger.Warn("circuit breaker opened",
			zap.Int("consecutive_failures", b.consecutiveFailures),
			zap.Duration("open_for", b.config.OpenDuration))
	case StateHalfOpen:
		b.consecutiveFailures = 0
		b.consecutiveSuccesses = 0
		b.halfOpenAdmitted = 0
		b.logger.Info("circuit breaker half-open")
	case StateClosed:
		b.consecutiveFailures = 0
		b.halfOpenAdmitted = 0
		b.stopReopenTimerLocked()
		b.logger.Info("circuit breaker closed")
	}

	cb := b.config.OnStateChange
	if cb == nil {
		return func() {}
	}
	return func() { cb(from, to) }
}

// scheduleReopenLocked arms the proactive open -> half-open timer so
// recovery does not depend on a caller showing up.
func (b *Breaker) scheduleReopenLocked() {
	b.stopReopenTimerLocked()
	b.reopenTimer = time.AfterFunc(b.config.OpenDuration, func() {
		b.mu.Lock()
		notify := func() {}
		if b.state == StateOpen && time.Since(b.openedAt) >= b.config.OpenDuration {
			notify = b.transitionLocked(StateHalfOpen)
		}
		b.mu.Unlock()
		notify()
	})
}

func (b *Breaker) stopReopenTimerLocked() {
	if b.reopenTimer != nil {
		b.reopenTimer.Stop()
		b.reopenTimer = nil
	}
}
