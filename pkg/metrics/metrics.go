// Package metrics exposes pool statistics as Prometheus metrics. The
// exporter is a read-only snapshot consumer: it calls the pool's Stats()
// on every scrape and never mutates pool state.
//
// Example usage:
//
//	prometheus.MustRegister(metrics.NewExporter(p.Stats))
//	http.Handle("/metrics", promhttp.Handler())
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowmatic/respool/pkg/pool"
)

var (
	descAvailable = prometheus.NewDesc(
		"respool_available_instances",
		"Instances currently in the available store",
		[]string{"pool"}, nil)
	descActive = prometheus.NewDesc(
		"respool_active_instances",
		"Instances currently held by callers",
		[]string{"pool"}, nil)
	descPeakActive = prometheus.NewDesc(
		"respool_peak_active_instances",
		"High-water mark of concurrently held instances",
		[]string{"pool"}, nil)
	descAcquired = prometheus.NewDesc(
		"respool_acquired_total",
		"Successful acquires since pool creation",
		[]string{"pool"}, nil)
	descReleased = prometheus.NewDesc(
		"respool_released_total",
		"Instances returned to the store since pool creation",
		[]string{"pool"}, nil)
	descCreated = prometheus.NewDesc(
		"respool_created_total",
		"Instances created by the factory",
		[]string{"pool"}, nil)
	descCreationFailures = prometheus.NewDesc(
		"respool_creation_failures_total",
		"Factory failures (circuit rejections excluded)",
		[]string{"pool"}, nil)
	descEmptyEvents = prometheus.NewDesc(
		"respool_empty_events_total",
		"Acquires that found the store empty",
		[]string{"pool"}, nil)
	descDiscardedFull = prometheus.NewDesc(
		"respool_discarded_full_total",
		"Returned instances dropped because the store was full",
		[]string{"pool"}, nil)
	descValidationFailures = prometheus.NewDesc(
		"respool_validation_failures_total",
		"Returned instances discarded by validation",
		[]string{"pool"}, nil)
	descEvicted = prometheus.NewDesc(
		"respool_evicted_total",
		"Instances evicted by the sweep, by reason",
		[]string{"pool", "reason"}, nil)
	descBreakerState = prometheus.NewDesc(
		"respool_breaker_state",
		"Creation breaker state (0 closed, 1 open, 2 half-open)",
		[]string{"pool"}, nil)
	descBreakerRejected = prometheus.NewDesc(
		"respool_breaker_rejected_total",
		"Creation attempts rejected by the breaker",
		[]string{"pool"}, nil)
	descBreakerOpened = prometheus.NewDesc(
		"respool_breaker_opened_total",
		"Times the creation breaker has opened",
		[]string{"pool"}, nil)
	descHookCalls = prometheus.NewDesc(
		"respool_hook_calls_total",
		"Lifecycle hook invocations, by event",
		[]string{"pool", "event"}, nil)
	descHookErrors = prometheus.NewDesc(
		"respool_hook_errors_total",
		"Lifecycle hook failures, by event",
		[]string{"pool", "event"}, nil)
)

// Exporter publishes one pool's statistics snapshot on every scrape
type Exporter struct {
	source func() pool.Stats
}

// NewExporter creates an exporter over a stats snapshot function,
// typically a pool's Stats method.
func NewExporter(source func() pool.Stats) *Exporter {
	return &Exporter{source: source}
}

// Describe implements prometheus.Collector
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- descAvailable
	ch <- descActive
	ch <- descPeakActive
	ch <- descAcquired
	ch <- descReleased
	ch <- descCreated
	ch <- descCreationFailures
	ch <- descEmptyEvents
	ch <- descDiscardedFull
	ch <- descValidationFailures
	ch <- descEvicted
	ch <- descBreakerState
	ch <- descBreakerRejected
	ch <- descBreakerOpened
	ch <- descHookCalls
	ch <- descHookErrors
}

// Collect implements prometheus.Collector
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.source()
	name := s.Name

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{name}, labels...)...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, append([]string{name}, labels...)...)
	}

	gauge(descAvailable, float64(s.Available))
	gauge(descActive, float64(s.Active))
	gauge(descPeakActive, float64(s.PeakActive))
	counter(descAcquired, float64(s.Acquired))
	counter(descReleased, float64(s.Released))
	counter(descCreated, float64(s.Created))
	counter(descCreationFailures, float64(s.CreationFailures))
	counter(descEmptyEvents, float64(s.EmptyEvents))
	counter(descDiscardedFull, float64(s.DiscardedFull))
	counter(descValidationFailures, float64(s.ValidationFailures))

	counter(descEvicted, float64(s.Eviction.ByTTL), "ttl")
	counter(descEvicted, float64(s.Eviction.ByIdle), "idle")
	counter(descEvicted, float64(s.Eviction.ByCustom), "custom")

	if s.Breaker != nil {
		var state float64
		switch s.Breaker.State {
		case "open":
			state = 1
		case "half_open":
			state = 2
		}
		gauge(descBreakerState, state)
		counter(descBreakerRejected, float64(s.Breaker.Rejected))
		counter(descBreakerOpened, float64(s.Breaker.OpenCount))
	}

	for event, hs := range s.Hooks {
		counter(descHookCalls, float64(hs.Calls), string(event))
		counter(descHookErrors, float64(hs.Errors), string(event))
	}
}
