// respool is a workbench CLI for the respool library: it runs a synthetic
// workload against a pool built from a YAML config, serves Prometheus
// metrics while the workload runs, and prints the final stats snapshot.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/flowmatic/respool/pkg/config"
	"github.com/flowmatic/respool/pkg/eviction"
	"github.com/flowmatic/respool/pkg/logger"
	"github.com/flowmatic/respool/pkg/metrics"
	"github.com/flowmatic/respool/pkg/observability"
	"github.com/flowmatic/respool/pkg/pool"
)

var version = "0.1.0"

// stressFlags holds the stress command options
type stressFlags struct {
	configPath  string
	workers     int
	duration    time.Duration
	failureRate float64
	holdTime    time.Duration
	metricsAddr string
	logLevel    string
	trace       bool
}

// fakeResource stands in for an expensive client in the synthetic workload
type fakeResource struct {
	id      int64
	dialled time.Time
}

func main() {
	root := &cobra.Command{
		Use:   "respool",
		Short: "respool - resource pool workbench",
		Long: `respool exercises a circuit-broken, evicting resource pool with a
synthetic workload so its behavior under load can be observed via logs,
Prometheus metrics, and a final stats snapshot.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("respool v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	flags := &stressFlags{}
	stressCmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a synthetic workload against a pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(flags)
		},
	}
	stressCmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "pool settings YAML (defaults when empty)")
	stressCmd.Flags().IntVarP(&flags.workers, "workers", "w", runtime.NumCPU()*2, "concurrent workers")
	stressCmd.Flags().DurationVarP(&flags.duration, "duration", "d", 10*time.Second, "workload duration")
	stressCmd.Flags().Float64Var(&flags.failureRate, "failure-rate", 0, "fraction of factory calls that fail")
	stressCmd.Flags().DurationVar(&flags.holdTime, "hold", 2*time.Millisecond, "how long workers hold an instance")
	stressCmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", ":9109", "Prometheus listen address (empty disables)")
	stressCmd.Flags().StringVar(&flags.logLevel, "log-level", "info", "log level")
	stressCmd.Flags().BoolVar(&flags.trace, "trace", false, "emit OpenTelemetry spans to stdout")
	root.AddCommand(stressCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runStress(flags *stressFlags) error {
	if err := logger.Init(logger.Config{Level: flags.logLevel, Encoding: "console", Development: true}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	settings := config.NewPoolSettings("stress")
	if flags.configPath != "" {
		if err := config.Load(flags.configPath, settings); err != nil {
			return err
		}
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	policy, err := settings.Eviction.ParsePolicy()
	if err != nil {
		return err
	}

	var dialled int64
	factory := func() (*fakeResource, error) {
		if flags.failureRate > 0 && rand.Float64() < flags.failureRate { //nolint:gosec // G404: synthetic workload
			return nil, fmt.Errorf("synthetic dial failure")
		}
		time.Sleep(time.Millisecond)
		return &fakeResource{id: atomic.AddInt64(&dialled, 1), dialled: time.Now()}, nil
	}

	p, err := pool.New(pool.Config[*fakeResource]{
		Name:           settings.Name,
		MaxSize:        settings.MaxSize,
		MaxActive:      settings.MaxActive,
		AcquireTimeout: settings.AcquireTimeout,
		PollInterval:   settings.PollInterval,
		Factory:        factory,
		Breaker:        settings.Breaker.BreakerConfig(),
		Eviction: eviction.Config[*fakeResource]{
			Policy:      policy,
			TTL:         settings.Eviction.TTL,
			IdleTimeout: settings.Eviction.IdleTimeout,
			Interval:    settings.Eviction.Interval,
			MaxPerRun:   settings.Eviction.MaxPerRun,
		},
	})
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	if flags.metricsAddr != "" {
		prometheus.MustRegister(metrics.NewExporter(p.Stats))
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			server := &http.Server{Addr: flags.metricsAddr, ReadHeaderTimeout: 5 * time.Second}
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		logger.Info("serving metrics", zap.String("addr", flags.metricsAddr))
	}

	if flags.trace {
		shutdown, err := observability.InitTracing(observability.TracingConfig{
			ServiceName:    "respool-stress",
			ServiceVersion: version,
			Environment:    "bench",
			SamplingRate:   1,
		})
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.duration)
	defer cancel()

	var acquireFailures int64
	var wg sync.WaitGroup
	for i := 0; i < flags.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				spanCtx, span := observability.StartSpan(ctx, "pool.acquire")
				h, err := p.AcquireContext(spanCtx)
				observability.RecordAcquire(span, settings.Name, err)
				span.End()
				if err != nil {
					atomic.AddInt64(&acquireFailures, 1)
					continue
				}
				time.Sleep(flags.holdTime)
				if err := h.Release(); err != nil {
					logger.Warn("release failed", zap.Error(err))
				}
			}
		}()
	}
	wg.Wait()

	snapshot := p.Stats()
	out, err := gojson.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	logger.Info("workload complete",
		zap.Int64("dialled", atomic.LoadInt64(&dialled)),
		zap.Int64("acquire_failures", atomic.LoadInt64(&acquireFailures)))
	return nil
}
