// Package telemetry exposes Prometheus metrics for collection cycles.
package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	CyclesTotal        = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_cycles_total", Help: "Collection cycles by outcome"}, []string{"result"})
	CycleDuration      = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "collector_cycle_duration_seconds", Help: "Duration of collection cycles", Buckets: prometheus.ExponentialBuckets(0.5, 2, 12)})
	CleanupsTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_cleanups_total", Help: "Enablement reconciliations run"})
	JobsDiscovered     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_jobs_discovered_total", Help: "New jobs registered"}, []string{"instance"})
	BuildsCollected    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_builds_collected_total", Help: "New builds stored"}, []string{"instance"})
	BuildFetchSkipped  = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_build_fetch_skipped_total", Help: "Build detail fetches that returned nothing"}, []string{"instance"})
	GatewayErrors      = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "collector_gateway_errors_total", Help: "Failed calls to CI servers"}, []string{"instance"})
	PublishFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_publish_failures_total", Help: "Events that could not be published"})
	LockContention     = prometheus.NewCounter(prometheus.CounterOpts{Name: "collector_lock_contention_total", Help: "Triggers skipped because another cycle held the lock"})
	LastSuccessSeconds = prometheus.NewGauge(prometheus.GaugeOpts{Name: "collector_last_success_timestamp_seconds", Help: "Unix time of the last successful cycle"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			CyclesTotal,
			CycleDuration,
			CleanupsTotal,
			JobsDiscovered,
			BuildsCollected,
			BuildFetchSkipped,
			GatewayErrors,
			PublishFailures,
			LockContention,
			LastSuccessSeconds,
		)
	})
	return promhttp.Handler()
}
