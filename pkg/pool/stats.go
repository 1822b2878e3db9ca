package pool

import (
	"github.com/flowmatic/respool/pkg/breaker"
	"github.com/flowmatic/respool/pkg/eviction"
	"github.com/flowmatic/respool/pkg/hooks"
)

// Stats is a read-only snapshot of pool state for health checks and metric
// exporters. All counts are since pool creation.
type Stats struct {
	Name      string `json:"name"`
	Available int    `json:"available"`
	Active    int    `json:"active"`

	Acquired           int64 `json:"acquired"`
	Released           int64 `json:"released"`
	Created            int64 `json:"created"`
	CreationFailures   int64 `json:"creation_failures"`
	EmptyEvents        int64 `json:"empty_events"`
	PeakActive         int   `json:"peak_active"`
	DiscardedFull      int64 `json:"discarded_full"`
	ValidationFailures int64 `json:"validation_failures"`

	// Breaker is nil for pools without a factory
	Breaker  *breaker.Snapshot                `json:"breaker,omitempty"`
	Eviction eviction.Stats                   `json:"eviction"`
	Hooks    map[hooks.Event]hooks.EventStats `json:"hooks"`
}

// Stats returns the current snapshot
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	s := Stats{
		Name:               p.config.Name,
		Available:          len(p.available),
		Active:             len(p.active),
		Acquired:           p.acquired,
		Released:           p.released,
		Created:            p.created,
		CreationFailures:   p.creationFailures,
		EmptyEvents:        p.emptyEvents,
		PeakActive:         p.peakActive,
		DiscardedFull:      p.discardedFull,
		ValidationFailures: p.validationFailures,
	}
	p.mu.Unlock()

	if p.breaker != nil {
		snap := p.breaker.Snapshot()
		s.Breaker = &snap
	}
	s.Eviction = p.evictor.Stats()
	s.Hooks = p.hooks.Stats()
	return s
}
