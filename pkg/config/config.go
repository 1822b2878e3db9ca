// Package config provides the declarative configuration surface for
// respool. Pools embed a PoolSettings loaded from YAML; function-valued
// options (factory, validators, hooks) are wired in code by the embedding
// process.
package config

import (
	"time"

	"github.com/flowmatic/respool/pkg/breaker"
	"github.com/flowmatic/respool/pkg/errors"
	"github.com/flowmatic/respool/pkg/eviction"
)

// PoolSettings is the file-configurable part of a pool
type PoolSettings struct {
	// Name identifies the pool instance
	Name string `yaml:"name" json:"name"`

	// MaxSize caps the available store
	MaxSize int `yaml:"max_size" json:"max_size"`
	// MaxActive caps concurrently held instances (0 = unlimited)
	MaxActive int `yaml:"max_active" json:"max_active"`

	// AcquireTimeout is the default deadline for waiting acquires
	AcquireTimeout time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	// PollInterval is the wait between acquire attempts
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// Breaker configures the creation-path circuit breaker
	Breaker BreakerSettings `yaml:"breaker" json:"breaker"`

	// Eviction configures staleness removal
	Eviction EvictionSettings `yaml:"eviction" json:"eviction"`
}

// BreakerSettings contains circuit breaker thresholds
type BreakerSettings struct {
	// FailureThreshold opens the circuit after this many consecutive failures
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold closes a half-open circuit after this many successes
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	// OpenDuration is how long the circuit stays open
	OpenDuration time.Duration `yaml:"open_duration" json:"open_duration"`
	// MinimumThroughput gates the failure-rate rule
	MinimumThroughput int `yaml:"minimum_throughput" json:"minimum_throughput"`
	// FailureRateThreshold trips on trailing-window failure rate (0 disables)
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" json:"failure_rate_threshold"`
	// FailureWindow is the trailing window size
	FailureWindow time.Duration `yaml:"failure_window" json:"failure_window"`
	// HalfOpenLimit caps trial admissions while half-open
	HalfOpenLimit int `yaml:"half_open_limit" json:"half_open_limit"`
}

// EvictionSettings contains staleness policy thresholds
type EvictionSettings struct {
	// Policy is one of none, ttl, idle, combined
	Policy string `yaml:"policy" json:"policy"`
	// TTL is the maximum instance age
	TTL time.Duration `yaml:"ttl" json:"ttl"`
	// IdleTimeout is the maximum time since last access
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// Interval between background sweeps (0 disables the timer)
	Interval time.Duration `yaml:"interval" json:"interval"`
	// MaxPerRun caps evictions per sweep (0 = unlimited)
	MaxPerRun int `yaml:"max_per_run" json:"max_per_run"`
}

// NewPoolSettings returns settings with production defaults
func NewPoolSettings(name string) *PoolSettings {
	return &PoolSettings{
		Name:           name,
		MaxSize:        16,
		MaxActive:      0,
		AcquireTimeout: 5 * time.Second,
		PollInterval:   20 * time.Millisecond,
		Breaker: BreakerSettings{
			FailureThreshold:     5,
			SuccessThreshold:     2,
			OpenDuration:         30 * time.Second,
			MinimumThroughput:    10,
			FailureRateThreshold: 0.5,
			FailureWindow:        time.Minute,
			HalfOpenLimit:        5,
		},
		Eviction: EvictionSettings{
			Policy:      "idle",
			IdleTimeout: 5 * time.Minute,
			Interval:    30 * time.Second,
		},
	}
}

// Validate checks the settings for consistency
func (s *PoolSettings) Validate() error {
	if s.Name == "" {
		return errors.New(errors.ErrorTypeConfig, "pool name is required")
	}
	if s.MaxSize < 0 || s.MaxActive < 0 {
		return errors.New(errors.ErrorTypeConfig, "sizes must be non-negative")
	}
	if s.Breaker.FailureRateThreshold < 0 || s.Breaker.FailureRateThreshold > 1 {
		return errors.New(errors.ErrorTypeConfig, "failure_rate_threshold must be within [0, 1]")
	}
	if _, err := s.Eviction.ParsePolicy(); err != nil {
		return err
	}
	return nil
}

// ParsePolicy maps the policy name onto the eviction policy enum
func (s EvictionSettings) ParsePolicy() (eviction.Policy, error) {
	switch s.Policy {
	case "", "none":
		return eviction.PolicyNone, nil
	case "ttl":
		return eviction.PolicyTTL, nil
	case "idle":
		return eviction.PolicyIdle, nil
	case "combined":
		return eviction.PolicyCombined, nil
	default:
		return eviction.PolicyNone, errors.Newf(errors.ErrorTypeConfig,
			"unknown eviction policy %q", s.Policy)
	}
}

// BreakerConfig converts the settings to a breaker configuration
func (s BreakerSettings) BreakerConfig() breaker.Config {
	return breaker.Config{
		FailureThreshold:     s.FailureThreshold,
		SuccessThreshold:     s.SuccessThreshold,
		OpenDuration:         s.OpenDuration,
		MinimumThroughput:    s.MinimumThroughput,
		FailureRateThreshold: s.FailureRateThreshold,
		FailureWindow:        s.FailureWindow,
		HalfOpenLimit:        s.HalfOpenLimit,
	}
}
