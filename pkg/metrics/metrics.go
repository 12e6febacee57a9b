// Package metrics defines the Prometheus collectors used by the index and
// exposes an HTTP handler for scraping. All recording methods are safe on a
// nil *Metrics so library code can run without instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the index.
type Metrics struct {
	DocsIndexedTotal       prometheus.Counter
	IndexFlushesTotal      *prometheus.CounterVec
	MergesTotal            *prometheus.CounterVec
	MergeDuration          prometheus.Histogram
	MergedDocsTotal        prometheus.Counter
	ActiveSegments         prometheus.Gauge
	DeletedDocsTotal       prometheus.Counter
	SegmentsRetiredTotal   prometheus.Counter
	CorruptReadsTotal      *prometheus.CounterVec
	StoredCacheHitsTotal   prometheus.Counter
	StoredCacheMissesTotal prometheus.Counter
	IngestEventsTotal      *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	HTTPRequestsInFlight   prometheus.Gauge
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg; tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_docs_indexed_total",
				Help: "Total documents added to the index buffer.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termindex_flushes_total",
				Help: "Total segment flushes by status.",
			},
			[]string{"status"},
		),
		MergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termindex_merges_total",
				Help: "Total segment merges by status (success, aborted, error).",
			},
			[]string{"status"},
		),
		MergeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "termindex_merge_duration_seconds",
				Help:    "Wall time of completed merges in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
			},
		),
		MergedDocsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_merged_docs_total",
				Help: "Total live documents written by merges.",
			},
		),
		ActiveSegments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "termindex_active_segments",
				Help: "Number of segments in the current commit.",
			},
		),
		DeletedDocsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_deleted_docs_total",
				Help: "Total documents marked deleted.",
			},
		),
		SegmentsRetiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_segments_retired_total",
				Help: "Total segments whose files were removed after their last reader released them.",
			},
		),
		CorruptReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termindex_corrupt_reads_total",
				Help: "Reads that failed checksum or format validation, by component.",
			},
			[]string{"component"},
		),
		StoredCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_stored_cache_hits_total",
				Help: "Stored fields chunk cache hits.",
			},
		),
		StoredCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termindex_stored_cache_misses_total",
				Help: "Stored fields chunk cache misses.",
			},
		),
		IngestEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termindex_ingest_events_total",
				Help: "Ingest events consumed by status.",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termindex_http_requests_total",
				Help: "Total admin API requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termindex_http_request_duration_seconds",
				Help:    "Admin API request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "termindex_http_requests_in_flight",
				Help: "Admin API requests currently being served.",
			},
		),
	}

	reg.MustRegister(
		m.DocsIndexedTotal,
		m.IndexFlushesTotal,
		m.MergesTotal,
		m.MergeDuration,
		m.MergedDocsTotal,
		m.ActiveSegments,
		m.DeletedDocsTotal,
		m.SegmentsRetiredTotal,
		m.CorruptReadsTotal,
		m.StoredCacheHitsTotal,
		m.StoredCacheMissesTotal,
		m.IngestEventsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	return m
}

func (m *Metrics) DocIndexed() {
	if m == nil {
		return
	}
	m.DocsIndexedTotal.Inc()
}

func (m *Metrics) Flush(status string) {
	if m == nil {
		return
	}
	m.IndexFlushesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Merge(status string, took time.Duration, docs int) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.MergeDuration.Observe(took.Seconds())
		m.MergedDocsTotal.Add(float64(docs))
	}
}

func (m *Metrics) SetActiveSegments(n int) {
	if m == nil {
		return
	}
	m.ActiveSegments.Set(float64(n))
}

func (m *Metrics) DocsDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DeletedDocsTotal.Add(float64(n))
}

func (m *Metrics) SegmentRetired() {
	if m == nil {
		return
	}
	m.SegmentsRetiredTotal.Inc()
}

func (m *Metrics) CorruptRead(component string) {
	if m == nil {
		return
	}
	m.CorruptReadsTotal.WithLabelValues(component).Inc()
}

func (m *Metrics) StoredCacheHit() {
	if m == nil {
		return
	}
	m.StoredCacheHitsTotal.Inc()
}

func (m *Metrics) StoredCacheMiss() {
	if m == nil {
		return
	}
	m.StoredCacheMissesTotal.Inc()
}

func (m *Metrics) IngestEvent(status string) {
	if m == nil {
		return
	}
	m.IngestEventsTotal.WithLabelValues(status).Inc()
}

// RequestStarted marks an HTTP request in flight; call the returned func
// with the response status when it completes.
func (m *Metrics) RequestStarted(method, path string) func(status int) {
	if m == nil {
		return func(int) {}
	}
	start := time.Now()
	m.HTTPRequestsInFlight.Inc()
	return func(status int) {
		m.HTTPRequestsInFlight.Dec()
		m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
