// Package metrics exposes Prometheus instrumentation for the archiver daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the archive pipeline.
type Metrics struct {
	registry                *prometheus.Registry
	cyclesTotal             prometheus.Counter
	cycleDuration           prometheus.Histogram
	eventsProcessedTotal    prometheus.Counter
	eventsFailedTotal       prometheus.Counter
	segmentsDownloadedTotal prometheus.Counter
	assemblyFailuresTotal   prometheus.Counter
	cycleRunning            prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	cyclesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "belfry_cycles_total",
		Help: "Total number of archive cycles started",
	})
	cycleDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "belfry_cycle_duration_seconds",
		Help:    "Duration of archive cycles",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
	eventsProcessedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "belfry_events_processed_total",
		Help: "Total number of doorbell events archived",
	})
	eventsFailedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "belfry_events_failed_total",
		Help: "Total number of doorbell events skipped due to errors",
	})
	segmentsDownloadedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "belfry_segments_downloaded_total",
		Help: "Total number of video segments downloaded and decrypted",
	})
	assemblyFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "belfry_assembly_failures_total",
		Help: "Total number of ffmpeg assembly failures",
	})
	cycleRunning := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "belfry_cycle_running",
		Help: "Whether an archive cycle is currently running (0 or 1)",
	})

	registry.MustRegister(
		cyclesTotal,
		cycleDuration,
		eventsProcessedTotal,
		eventsFailedTotal,
		segmentsDownloadedTotal,
		assemblyFailuresTotal,
		cycleRunning,
	)

	return &Metrics{
		registry:                registry,
		cyclesTotal:             cyclesTotal,
		cycleDuration:           cycleDuration,
		eventsProcessedTotal:    eventsProcessedTotal,
		eventsFailedTotal:       eventsFailedTotal,
		segmentsDownloadedTotal: segmentsDownloadedTotal,
		assemblyFailuresTotal:   assemblyFailuresTotal,
		cycleRunning:            cycleRunning,
	}
}

// CycleStarted records the start of an archive cycle.
func (m *Metrics) CycleStarted() {
	m.cyclesTotal.Inc()
	m.cycleRunning.Set(1)
}

// CycleFinished records the end of an archive cycle and its duration.
func (m *Metrics) CycleFinished(elapsed time.Duration) {
	m.cycleDuration.Observe(elapsed.Seconds())
	m.cycleRunning.Set(0)
}

// IncEventsProcessed increments the archived event counter.
func (m *Metrics) IncEventsProcessed() {
	m.eventsProcessedTotal.Inc()
}

// IncEventsFailed increments the skipped event counter.
func (m *Metrics) IncEventsFailed() {
	m.eventsFailedTotal.Inc()
}

// AddSegmentsDownloaded adds to the downloaded segment counter.
func (m *Metrics) AddSegmentsDownloaded(n int) {
	m.segmentsDownloadedTotal.Add(float64(n))
}

// IncAssemblyFailures increments the ffmpeg failure counter.
func (m *Metrics) IncAssemblyFailures() {
	m.assemblyFailuresTotal.Inc()
}

// Handler returns an http.Handler that serves the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
