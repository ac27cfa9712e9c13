// Package metrics defines the Prometheus metric collectors used by the
// catalog indexer and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the indexer and searcher.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RecordsIndexedTotal  prometheus.Counter
	RecordsFailedTotal   *prometheus.CounterVec
	RebuildsTotal        *prometheus.CounterVec
	RebuildDuration      prometheus.Histogram
	FieldErrorsTotal     *prometheus.CounterVec
	ExtractionQueueDepth prometheus.Gauge
	IndexDocuments       prometheus.Gauge
	IndexFlushesTotal    *prometheus.CounterVec
	ChangeEventsTotal    *prometheus.CounterVec
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestsInFlight prometheus.Gauge
}

// New creates the collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the collectors with reg. Tests pass a fresh
// prometheus.NewRegistry() so that repeated construction does not panic.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_records_indexed_total",
				Help: "Total metadata records written to the index.",
			},
		),
		RecordsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_records_failed_total",
				Help: "Metadata records skipped by error class (record, field, internal).",
			},
			[]string{"kind"},
		),
		RebuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_rebuilds_total",
				Help: "Full index rebuilds by status.",
			},
			[]string{"status"},
		),
		RebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "catalog_rebuild_duration_seconds",
				Help:    "Wall time of a full index rebuild.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
			},
		),
		FieldErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_field_errors_total",
				Help: "Field extractions that failed and were indexed as no value.",
			},
			[]string{"field"},
		),
		ExtractionQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_extraction_queue_depth",
				Help: "Extraction tasks queued but not yet started.",
			},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_index_documents",
				Help: "Live documents in the index.",
			},
		),
		IndexFlushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_index_flushes_total",
				Help: "Segment flush operations by status.",
			},
			[]string{"status"},
		),
		ChangeEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_change_events_total",
				Help: "Record change events consumed by action and status.",
			},
			[]string{"action", "status"},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_search_queries_total",
				Help: "Search queries by result type (hit, zero_result, error).",
			},
			[]string{"result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "catalog_search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "catalog_cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by path and status.",
			},
			[]string{"path", "status"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
	}

	reg.MustRegister(
		m.RecordsIndexedTotal,
		m.RecordsFailedTotal,
		m.RebuildsTotal,
		m.RebuildDuration,
		m.FieldErrorsTotal,
		m.ExtractionQueueDepth,
		m.IndexDocuments,
		m.IndexFlushesTotal,
		m.ChangeEventsTotal,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
		m.HTTPRequestsTotal,
		m.HTTPRequestsInFlight,
	)

	return m
}

// FieldError counts one failed field extraction.
func (m *Metrics) FieldError(field string) {
	if m == nil {
		return
	}
	m.FieldErrorsTotal.WithLabelValues(field).Inc()
}

// QueueDepth records the current extraction queue depth.
func (m *Metrics) QueueDepth(depth int) {
	if m == nil {
		return
	}
	m.ExtractionQueueDepth.Set(float64(depth))
}

// RecordIndexed counts one document added to the index.
func (m *Metrics) RecordIndexed() {
	if m == nil {
		return
	}
	m.RecordsIndexedTotal.Inc()
}

// RecordFailed counts one record that could not be indexed.
func (m *Metrics) RecordFailed(kind string) {
	if m == nil {
		return
	}
	m.RecordsFailedTotal.WithLabelValues(kind).Inc()
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
