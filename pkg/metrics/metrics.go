// Package metrics defines the Prometheus collectors for index builds and
// search, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors. A nil *Metrics is valid and records nothing,
// so libraries and tests can run without a registry.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RecordsProcessed     *prometheus.CounterVec
	RecordsRejected      *prometheus.CounterVec
	PostingsWritten      prometheus.Counter
	BuildDuration        *prometheus.HistogramVec
	VectorsBuilt         prometheus.Counter
	DimensionMismatches  prometheus.Counter
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	CircuitBreakerState  *prometheus.GaugeVec
}

// New registers the collectors with the default Prometheus registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		RecordsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_records_processed_total",
				Help: "Records processed by the index build, by stage (map, reduce).",
			},
			[]string{"stage"},
		),
		RecordsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_records_rejected_total",
				Help: "Records rejected by the index build, by stage (parse, reduce).",
			},
			[]string{"stage"},
		),
		PostingsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "index_postings_written_total",
				Help: "Postings written to the store.",
			},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_build_duration_seconds",
				Help:    "Duration of index and vector builds.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"kind"},
		),
		VectorsBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vectors_built_total",
				Help: "Document vectors written.",
			},
		),
		DimensionMismatches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "vector_dimension_mismatches_total",
				Help: "Document vectors excluded from similarity because they are stale.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_queries_total",
				Help: "Total search queries by mode and result type (hit, zero_result, error).",
			},
			[]string{"mode", "result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"mode", "cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
			[]string{"mode"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RecordsProcessed,
		m.RecordsRejected,
		m.PostingsWritten,
		m.BuildDuration,
		m.VectorsBuilt,
		m.DimensionMismatches,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

func (m *Metrics) ObserveRecords(stage string, processed, rejected int) {
	if m == nil {
		return
	}
	m.RecordsProcessed.WithLabelValues(stage).Add(float64(processed))
	m.RecordsRejected.WithLabelValues(stage).Add(float64(rejected))
}

func (m *Metrics) ObservePostings(n int) {
	if m == nil {
		return
	}
	m.PostingsWritten.Add(float64(n))
}

func (m *Metrics) ObserveBuild(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.BuildDuration.WithLabelValues(kind).Observe(seconds)
}

func (m *Metrics) ObserveVectors(n int) {
	if m == nil {
		return
	}
	m.VectorsBuilt.Add(float64(n))
}

func (m *Metrics) ObserveMismatches(n int) {
	if m == nil {
		return
	}
	m.DimensionMismatches.Add(float64(n))
}

// ObserveQuery records one search. resultType is hit, zero_result or error.
func (m *Metrics) ObserveQuery(mode, cacheStatus, resultType string, seconds float64, results int) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(mode, resultType).Inc()
	m.SearchLatency.WithLabelValues(mode, cacheStatus).Observe(seconds)
	m.SearchResultsCount.WithLabelValues(mode).Observe(float64(results))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.CacheMissesTotal.Inc()
}

func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
