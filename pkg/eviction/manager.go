package eviction

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flowmatic/respool/pkg/logger"
)

// Policy selects which staleness rule makes an idle instance evictable
type Policy int

const (
	// PolicyNone disables policy-based eviction; only a custom predicate applies
	PolicyNone Policy = iota
	// PolicyTTL evicts instances older than the configured TTL
	PolicyTTL
	// PolicyIdle evicts instances unused longer than the idle timeout
	PolicyIdle
	// PolicyCombined evicts when either the TTL or the idle rule matches
	PolicyCombined
)

// String returns the policy name
func (p Policy) String() string {
	switch p {
	case PolicyTTL:
		return "ttl"
	case PolicyIdle:
		return "idle"
	case PolicyCombined:
		return "combined"
	default:
		return "none"
	}
}

// Reason records why an instance was evicted
type Reason string

const (
	// ReasonTTL means the instance exceeded its time-to-live
	ReasonTTL Reason = "ttl"
	// ReasonIdle means the instance exceeded its idle timeout
	ReasonIdle Reason = "idle"
	// ReasonCustom means the custom predicate selected the instance
	ReasonCustom Reason = "custom"
)

// Config controls eviction policy evaluation and sweep execution
type Config[T comparable] struct {
	Policy      Policy
	TTL         time.Duration
	IdleTimeout time.Duration

	// Predicate, when set, decides eviction instead of the policy
	Predicate func(T, Metadata) bool

	// Interval between background sweeps; zero disables the background timer
	Interval time.Duration

	// MaxPerRun caps evictions per sweep; zero means unlimited
	MaxPerRun int
}

// Stats is a read-only snapshot of eviction totals
type Stats struct {
	Runs            int64         `json:"runs"`
	Evicted         int64         `json:"evicted"`
	ByTTL           int64         `json:"by_ttl"`
	ByIdle          int64         `json:"by_idle"`
	ByCustom        int64         `json:"by_custom"`
	DisposeFailures int64         `json:"dispose_failures"`
	LastRunTime     time.Duration `json:"last_run_time"`
}

// Manager evaluates eviction policy against tracked metadata and executes
// capped sweeps over candidate instances. Candidates must come from the
// pool's available partition only; in-use instances are never offered.
type Manager[T comparable] struct {
	config  Config[T]
	tracker *Tracker[T]
	logger  *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewManager creates an eviction manager over the given tracker
func NewManager[T comparable](config Config[T], tracker *Tracker[T]) *Manager[T] {
	return &Manager[T]{
		config:  config,
		tracker: tracker,
		logger:  logger.With(zap.String("component", "eviction")),
	}
}

// Tracker returns the metadata tracker backing this manager
func (m *Manager[T]) Tracker() *Tracker[T] {
	return m.tracker
}

// Enabled reports whether any eviction rule is configured
func (m *Manager[T]) Enabled() bool {
	return m.config.Policy != PolicyNone || m.config.Predicate != nil
}

// Interval returns the configured background sweep interval
func (m *Manager[T]) Interval() time.Duration {
	return m.config.Interval
}

// ShouldEvict reports whether an instance is due for eviction and why.
// A custom predicate, when configured, wins over the policy rules.
func (m *Manager[T]) ShouldEvict(v T, now time.Time) (bool, Reason) {
	meta, ok := m.tracker.Lookup(v)
	if !ok {
		return false, ""
	}

	if m.config.Predicate != nil {
		if m.config.Predicate(v, meta) {
			return true, ReasonCustom
		}
		return false, ""
	}

	switch m.config.Policy {
	case PolicyTTL:
		if m.config.TTL > 0 && meta.Age(now) > m.config.TTL {
			return true, ReasonTTL
		}
	case PolicyIdle:
		if m.config.IdleTimeout > 0 && meta.Idle(now) > m.config.IdleTimeout {
			return true, ReasonIdle
		}
	case PolicyCombined:
		if m.config.TTL > 0 && meta.Age(now) > m.config.TTL {
			return true, ReasonTTL
		}
		if m.config.IdleTimeout > 0 && meta.Idle(now) > m.config.IdleTimeout {
			return true, ReasonIdle
		}
	}

	return false, ""
}

// Run executes one sweep over the candidates. take must atomically excise
// the instance from the owner's store and return false if the instance was
// concurrently handed out; at most one of {evicted, acquired} happens per
// instance. dispose may be nil; dispose failures are counted and logged but
// never abort the sweep.
func (m *Manager[T]) Run(candidates []T, take func(T) bool, dispose func(T, Reason) error) Stats {
	start := time.Now()
	now := start

	evicted := 0
	var disposeFailures int64
	byReason := map[Reason]int64{}

	for _, v := range candidates {
		if m.config.MaxPerRun > 0 && evicted >= m.config.MaxPerRun {
			break
		}

		due, reason := m.ShouldEvict(v, now)
		if !due {
			continue
		}
		if !take(v) {
			// Lost the race to an acquire; the instance stays alive.
			continue
		}

		if dispose != nil {
			if err := dispose(v, reason); err != nil {
				disposeFailures++
				m.logger.Warn("evicted instance dispose failed",
					zap.String("reason", string(reason)),
					zap.Error(err))
			}
		}
		m.tracker.Untrack(v)

		evicted++
		byReason[reason]++
	}

	m.mu.Lock()
	m.stats.Runs++
	m.stats.Evicted += int64(evicted)
	m.stats.ByTTL += byReason[ReasonTTL]
	m.stats.ByIdle += byReason[ReasonIdle]
	m.stats.ByCustom += byReason[ReasonCustom]
	m.stats.DisposeFailures += disposeFailures
	m.stats.LastRunTime = time.Since(start)
	snapshot := m.stats
	m.mu.Unlock()

	if evicted > 0 {
		m.logger.Debug("eviction sweep complete",
			zap.Int("evicted", evicted),
			zap.Int("candidates", len(candidates)),
			zap.Duration("took", snapshot.LastRunTime))
	}

	return snapshot
}

// Stats returns the accumulated eviction totals
func (m *Manager[T]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stats
}
