package metrics

import (
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmatic/respool/pkg/breaker"
	"github.com/flowmatic/respool/pkg/eviction"
	"github.com/flowmatic/respool/pkg/hooks"
	"github.com/flowmatic/respool/pkg/pool"
)

func fixedStats() pool.Stats {
	return pool.Stats{
		Name:               "upstream",
		Available:          2,
		Active:             1,
		Acquired:           5,
		Released:           4,
		Created:            3,
		CreationFailures:   1,
		EmptyEvents:        2,
		PeakActive:         3,
		DiscardedFull:      1,
		ValidationFailures: 1,
		Breaker:            &breaker.Snapshot{State: "open", Rejected: 3, OpenCount: 1},
		Eviction:           eviction.Stats{ByTTL: 2, ByIdle: 1},
		Hooks: map[hooks.Event]hooks.EventStats{
			hooks.EventAcquire: {Calls: 5, Errors: 1},
		},
	}
}

func TestExporterRegisters(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewExporter(fixedStats)))
}

func TestExporterExposition(t *testing.T) {
	e := NewExporter(fixedStats)

	expected := `
# HELP respool_available_instances Instances currently in the available store
# TYPE respool_available_instances gauge
respool_available_instances{pool="upstream"} 2
# HELP respool_breaker_state Creation breaker state (0 closed, 1 open, 2 half-open)
# TYPE respool_breaker_state gauge
respool_breaker_state{pool="upstream"} 1
# HELP respool_evicted_total Instances evicted by the sweep, by reason
# TYPE respool_evicted_total counter
respool_evicted_total{pool="upstream",reason="custom"} 0
respool_evicted_total{pool="upstream",reason="idle"} 1
respool_evicted_total{pool="upstream",reason="ttl"} 2
# HELP respool_hook_calls_total Lifecycle hook invocations, by event
# TYPE respool_hook_calls_total counter
respool_hook_calls_total{event="acquire",pool="upstream"} 5
`
	require.NoError(t, testutil.CollectAndCompare(e, strings.NewReader(expected),
		"respool_available_instances",
		"respool_breaker_state",
		"respool_evicted_total",
		"respool_hook_calls_total"))
}

func TestExporterSkipsBreakerWhenAbsent(t *testing.T) {
	e := NewExporter(func() pool.Stats {
		return pool.Stats{Name: "seeded"}
	})
	assert.Zero(t, testutil.CollectAndCount(e, "respool_breaker_state"))
	assert.Equal(t, 1, testutil.CollectAndCount(e, "respool_available_instances"))
}

func TestExporterTracksLivePool(t *testing.T) {
	p, err := pool.New(pool.Config[string]{Name: "live"}, "a", "b")
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	e := NewExporter(p.Stats)
	expect := func(available int) string {
		return `
# HELP respool_available_instances Instances currently in the available store
# TYPE respool_available_instances gauge
respool_available_instances{pool="live"} ` + strconv.Itoa(available) + "\n"
	}

	require.NoError(t, testutil.CollectAndCompare(e,
		strings.NewReader(expect(2)), "respool_available_instances"))

	h, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, testutil.CollectAndCompare(e,
		strings.NewReader(expect(1)), "respool_available_instances"))
	require.NoError(t, h.Release())
}
