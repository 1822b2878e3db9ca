package pool

import (
	"context"
	"time"

	"github.com/flowmatic/respool/pkg/eviction"
)

// sweepLoop runs the background eviction sweep at the configured interval
func (p *Pool[T]) sweepLoop() {
	ticker := time.NewTicker(p.evictor.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.EvictNow()
		case <-p.stopCh:
			return
		}
	}
}

// EvictNow runs one eviction sweep over the available partition. Active
// instances are never candidates. The removal from the store is atomic with
// respect to Acquire, so an instance is either handed to a caller or
// evicted, never both.
func (p *Pool[T]) EvictNow() eviction.Stats {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.evictor.Stats()
	}
	candidates := make([]T, len(p.available))
	copy(candidates, p.available)
	p.mu.Unlock()

	ctx := context.Background()
	return p.evictor.Run(candidates,
		func(v T) bool { return p.takeAvailable(v) },
		func(v T, reason eviction.Reason) error {
			_ = p.hooks.Evict(ctx, v, string(reason))
			return p.dispose(ctx, v)
		})
}

// takeAvailable atomically removes an instance from the available store.
// It returns false when the instance was concurrently acquired.
func (p *Pool[T]) takeAvailable(v T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	for i, cur := range p.available {
		if cur == v {
			p.available = append(p.available[:i], p.available[i+1:]...)
			return true
		}
	}
	return false
}
