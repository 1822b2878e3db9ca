// Package eviction provides per-instance metadata tracking and policy-based
// removal of stale idle instances for respool.
package eviction

import (
	"sync"
	"time"
)

// Metadata is the per-instance bookkeeping record maintained by a Tracker.
// LastAccessedAt stays zero until the instance is first handed to a caller.
type Metadata struct {
	CreatedAt      time.Time
	LastAccessedAt time.Time
	LastReturnedAt time.Time
	AccessCount    int64
}

// Age returns the time elapsed since the instance was created
func (m Metadata) Age(now time.Time) time.Duration {
	return now.Sub(m.CreatedAt)
}

// Idle returns the time since the instance was last accessed, or its age
// if it has never been accessed.
func (m Metadata) Idle(now time.Time) time.Duration {
	if m.LastAccessedAt.IsZero() {
		return m.Age(now)
	}
	return now.Sub(m.LastAccessedAt)
}

// Tracker maintains metadata records keyed by instance identity.
// Lookup is O(1); the tracker never inspects instance contents.
type Tracker[T comparable] struct {
	mu   sync.RWMutex
	meta map[T]*Metadata
}

// NewTracker creates an empty tracker
func NewTracker[T comparable]() *Tracker[T] {
	return &Tracker[T]{meta: make(map[T]*Metadata)}
}

// Track starts tracking an instance. Re-tracking a known instance keeps the
// existing record.
func (t *Tracker[T]) Track(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.meta[v]; ok {
		return
	}
	t.meta[v] = &Metadata{CreatedAt: time.Now()}
}

// RecordAccess updates last-accessed time and access count for an instance
func (t *Tracker[T]) RecordAccess(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.meta[v]; ok {
		m.LastAccessedAt = time.Now()
		m.AccessCount++
	}
}

// RecordReturn updates last-returned time for an instance
func (t *Tracker[T]) RecordReturn(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.meta[v]; ok {
		m.LastReturnedAt = time.Now()
	}
}

// Untrack removes an instance's metadata record
func (t *Tracker[T]) Untrack(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.meta, v)
}

// Lookup returns a copy of an instance's metadata
func (t *Tracker[T]) Lookup(v T) (Metadata, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m, ok := t.meta[v]
	if !ok {
		return Metadata{}, false
	}
	return *m, true
}

// Len returns the number of tracked instances
func (t *Tracker[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.meta)
}
