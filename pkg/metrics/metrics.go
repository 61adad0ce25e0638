// Package metrics provides Prometheus instrumentation for the service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for the service.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	CacheLookups    *prometheus.CounterVec
	CacheSimilarity prometheus.Histogram
	AnalyzerCalls   *prometheus.CounterVec
	ActiveRequests  prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all service metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persona_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "persona_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persona_cache_lookups_total",
				Help: "Cache lookups by outcome (hit, miss, rate_limited, rejected).",
			},
			[]string{"outcome"},
		),
		CacheSimilarity: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "persona_cache_hit_similarity",
				Help:    "Similarity score distribution of cache hits.",
				Buckets: []float64{0.90, 0.92, 0.94, 0.96, 0.98, 1.0},
			},
		),
		AnalyzerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "persona_analyzer_calls_total",
				Help: "Upstream model calls by result (ok, error).",
			},
			[]string{"result"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "persona_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.CacheLookups,
		m.CacheSimilarity,
		m.AnalyzerCalls,
		m.ActiveRequests,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordLookup records a cache lookup outcome. Similarity is observed only
// for hits.
func (m *Metrics) RecordLookup(outcome string, similarity float64) {
	m.CacheLookups.WithLabelValues(outcome).Inc()
	if outcome == "hit" {
		m.CacheSimilarity.Observe(similarity)
	}
}

// RecordAnalyzerCall records an upstream model call result.
func (m *Metrics) RecordAnalyzerCall(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.AnalyzerCalls.WithLabelValues(result).Inc()
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
