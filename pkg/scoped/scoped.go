// Package scoped routes scope keys (tenants, shards, endpoints) to
// independently operating pool instances. Pools share nothing; there is no
// cross-pool locking.
package scoped

import (
	"sync"

	"go.uber.org/zap"

	"github.com/flowmatic/respool/pkg/errors"
	"github.com/flowmatic/respool/pkg/logger"
	"github.com/flowmatic/respool/pkg/pool"
)

// Pools is a concurrent map from scope key to pool, creating pools lazily
// from a per-scope configuration function.
type Pools[T comparable] struct {
	configure func(scope string) pool.Config[T]
	logger    *zap.Logger

	mu     sync.RWMutex
	pools  map[string]*pool.Pool[T]
	closed bool
}

// New creates a scoped pool set. configure is called once per new scope to
// produce that scope's pool configuration.
func New[T comparable](configure func(scope string) pool.Config[T]) *Pools[T] {
	return &Pools[T]{
		configure: configure,
		logger:    logger.With(zap.String("component", "scoped_pools")),
		pools:     make(map[string]*pool.Pool[T]),
	}
}

// Get returns the pool for a scope, creating it on first use
func (s *Pools[T]) Get(scope string) (*pool.Pool[T], error) {
	s.mu.RLock()
	p, ok := s.pools[scope]
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, errors.New(errors.ErrorTypeDisposed, "scoped pool set is closed")
	}
	if ok {
		return p, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New(errors.ErrorTypeDisposed, "scoped pool set is closed")
	}
	if p, ok := s.pools[scope]; ok {
		return p, nil
	}

	cfg := s.configure(scope)
	if cfg.Name == "" {
		cfg.Name = scope
	}
	p, err := pool.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "creating scoped pool").
			WithDetail("scope", scope)
	}
	s.pools[scope] = p
	s.logger.Info("scoped pool created", zap.String("scope", scope))
	return p, nil
}

// Scopes returns the currently materialized scope keys
func (s *Pools[T]) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.pools))
	for scope := range s.pools {
		out = append(out, scope)
	}
	return out
}

// Stats returns per-scope pool snapshots
func (s *Pools[T]) Stats() map[string]pool.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]pool.Stats, len(s.pools))
	for scope, p := range s.pools {
		out[scope] = p.Stats()
	}
	return out
}

// CloseAll closes every pool and marks the set unusable. Idempotent.
func (s *Pools[T]) CloseAll() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pools := make([]*pool.Pool[T], 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, p)
	}
	s.pools = make(map[string]*pool.Pool[T])
	s.mu.Unlock()

	for _, p := range pools {
		if err := p.Close(); err != nil {
			s.logger.Warn("scoped pool close failed", zap.Error(err))
		}
	}
	return nil
}
