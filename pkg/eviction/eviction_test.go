package eviction

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerLifecycle(t *testing.T) {
	tr := NewTracker[string]()

	tr.Track("a")
	assert.Equal(t, 1, tr.Len())

	meta, ok := tr.Lookup("a")
	require.True(t, ok)
	assert.False(t, meta.CreatedAt.IsZero())
	assert.True(t, meta.LastAccessedAt.IsZero())
	assert.Zero(t, meta.AccessCount)

	tr.RecordAccess("a")
	tr.RecordAccess("a")
	tr.RecordReturn("a")

	meta, ok = tr.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, int64(2), meta.AccessCount)
	assert.False(t, meta.LastAccessedAt.IsZero())
	assert.False(t, meta.LastReturnedAt.IsZero())

	// Re-tracking keeps the existing record.
	tr.Track("a")
	meta2, _ := tr.Lookup("a")
	assert.Equal(t, meta.AccessCount, meta2.AccessCount)

	tr.Untrack("a")
	_, ok = tr.Lookup("a")
	assert.False(t, ok)
	assert.Equal(t, 0, tr.Len())
}

func TestMetadataIdleFallsBackToAge(t *testing.T) {
	now := time.Now()
	m := Metadata{CreatedAt: now.Add(-time.Hour)}
	assert.Equal(t, m.Age(now), m.Idle(now))

	m.LastAccessedAt = now.Add(-time.Minute)
	assert.Equal(t, time.Minute, m.Idle(now))
}

func TestShouldEvictPolicies(t *testing.T) {
	tests := []struct {
		name       string
		config     Config[string]
		age        time.Duration
		idle       time.Duration
		wantEvict  bool
		wantReason Reason
	}{
		{
			name:      "none policy never evicts",
			config:    Config[string]{Policy: PolicyNone},
			age:       time.Hour,
			idle:      time.Hour,
			wantEvict: false,
		},
		{
			name:       "ttl exceeded",
			config:     Config[string]{Policy: PolicyTTL, TTL: time.Minute},
			age:        2 * time.Minute,
			idle:       time.Second,
			wantEvict:  true,
			wantReason: ReasonTTL,
		},
		{
			name:      "ttl not exceeded",
			config:    Config[string]{Policy: PolicyTTL, TTL: time.Hour},
			age:       time.Minute,
			idle:      time.Minute,
			wantEvict: false,
		},
		{
			name:       "idle exceeded",
			config:     Config[string]{Policy: PolicyIdle, IdleTimeout: time.Minute},
			age:        time.Hour,
			idle:       2 * time.Minute,
			wantEvict:  true,
			wantReason: ReasonIdle,
		},
		{
			name:       "combined trips on ttl first",
			config:     Config[string]{Policy: PolicyCombined, TTL: time.Minute, IdleTimeout: time.Hour},
			age:        2 * time.Minute,
			idle:       time.Second,
			wantEvict:  true,
			wantReason: ReasonTTL,
		},
		{
			name:       "combined trips on idle",
			config:     Config[string]{Policy: PolicyCombined, TTL: time.Hour, IdleTimeout: time.Minute},
			age:        30 * time.Minute,
			idle:       2 * time.Minute,
			wantEvict:  true,
			wantReason: ReasonIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker[string]()
			m := NewManager(tt.config, tr)

			now := time.Now()
			tr.Track("x")
			tr.meta["x"].CreatedAt = now.Add(-tt.age)
			tr.meta["x"].LastAccessedAt = now.Add(-tt.idle)

			due, reason := m.ShouldEvict("x", now)
			assert.Equal(t, tt.wantEvict, due)
			if tt.wantEvict {
				assert.Equal(t, tt.wantReason, reason)
			}
		})
	}
}

func TestShouldEvictCustomPredicateWins(t *testing.T) {
	tr := NewTracker[string]()
	tr.Track("old")
	tr.meta["old"].CreatedAt = time.Now().Add(-time.Hour)

	// Predicate refuses; the TTL policy would have evicted.
	m := NewManager(Config[string]{
		Policy:    PolicyTTL,
		TTL:       time.Minute,
		Predicate: func(v string, meta Metadata) bool { return v == "chosen" },
	}, tr)

	due, _ := m.ShouldEvict("old", time.Now())
	assert.False(t, due)

	tr.Track("chosen")
	due, reason := m.ShouldEvict("chosen", time.Now())
	assert.True(t, due)
	assert.Equal(t, ReasonCustom, reason)
}

func TestShouldEvictUntrackedInstance(t *testing.T) {
	m := NewManager(Config[string]{Policy: PolicyTTL, TTL: time.Nanosecond}, NewTracker[string]())
	due, _ := m.ShouldEvict("ghost", time.Now())
	assert.False(t, due)
}

func TestRunSweep(t *testing.T) {
	tr := NewTracker[string]()
	m := NewManager(Config[string]{Policy: PolicyTTL, TTL: 10 * time.Millisecond}, tr)

	candidates := []string{"a", "b", "c"}
	for _, v := range candidates {
		tr.Track(v)
		tr.meta[v].CreatedAt = time.Now().Add(-time.Second)
	}

	var taken, disposed []string
	stats := m.Run(candidates,
		func(v string) bool {
			taken = append(taken, v)
			return true
		},
		func(v string, reason Reason) error {
			disposed = append(disposed, v)
			assert.Equal(t, ReasonTTL, reason)
			return nil
		})

	assert.ElementsMatch(t, candidates, taken)
	assert.ElementsMatch(t, candidates, disposed)
	assert.Equal(t, int64(3), stats.Evicted)
	assert.Equal(t, int64(3), stats.ByTTL)
	assert.Equal(t, int64(1), stats.Runs)
	assert.Equal(t, 0, tr.Len())
}

func TestRunRespectsMaxPerRun(t *testing.T) {
	tr := NewTracker[string]()
	m := NewManager(Config[string]{Policy: PolicyTTL, TTL: time.Millisecond, MaxPerRun: 2}, tr)

	candidates := []string{"a", "b", "c", "d"}
	for _, v := range candidates {
		tr.Track(v)
		tr.meta[v].CreatedAt = time.Now().Add(-time.Second)
	}

	stats := m.Run(candidates, func(string) bool { return true }, nil)
	assert.Equal(t, int64(2), stats.Evicted)
	assert.Equal(t, 2, tr.Len())
}

func TestRunSkipsLostRaces(t *testing.T) {
	tr := NewTracker[string]()
	m := NewManager(Config[string]{Policy: PolicyTTL, TTL: time.Millisecond}, tr)

	for _, v := range []string{"a", "b"} {
		tr.Track(v)
		tr.meta[v].CreatedAt = time.Now().Add(-time.Second)
	}

	// "a" was concurrently acquired; only "b" goes.
	stats := m.Run([]string{"a", "b"}, func(v string) bool { return v == "b" }, nil)
	assert.Equal(t, int64(1), stats.Evicted)

	_, stillTracked := tr.Lookup("a")
	assert.True(t, stillTracked)
}

func TestRunDisposeFailureDoesNotAbort(t *testing.T) {
	tr := NewTracker[string]()
	m := NewManager(Config[string]{Policy: PolicyTTL, TTL: time.Millisecond}, tr)

	for _, v := range []string{"a", "b"} {
		tr.Track(v)
		tr.meta[v].CreatedAt = time.Now().Add(-time.Second)
	}

	stats := m.Run([]string{"a", "b"},
		func(string) bool { return true },
		func(string, Reason) error { return fmt.Errorf("close failed") })

	assert.Equal(t, int64(2), stats.Evicted)
	assert.Equal(t, int64(2), stats.DisposeFailures)
	assert.Equal(t, 0, tr.Len())
}

func TestManagerEnabled(t *testing.T) {
	tr := NewTracker[string]()
	assert.False(t, NewManager(Config[string]{}, tr).Enabled())
	assert.True(t, NewManager(Config[string]{Policy: PolicyIdle}, tr).Enabled())
	assert.True(t, NewManager(Config[string]{Predicate: func(string, Metadata) bool { return false }}, tr).Enabled())
}
