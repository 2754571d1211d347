// Package metrics exposes Prometheus instrumentation for the bridge:
// per-tool invocation counts and latencies, cache effectiveness, and
// backend retry pressure. The collector registers on a private registry
// so tests and embedding processes never collide with the global one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the bridge's Prometheus metrics. All methods are safe
// for concurrent use and no-ops on a nil receiver, so instrumentation is
// strictly optional.
type Collector struct {
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
	toolErrors   *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Collector on a private registry.
func New() *Collector {
	registry := prometheus.NewRegistry()
	return &Collector{
		toolCalls: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ollama_mcp_tool_calls_total",
				Help: "Total number of tool invocations",
			},
			[]string{"tool", "status"},
		),
		toolDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ollama_mcp_tool_duration_seconds",
				Help:    "Duration of tool invocations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tool"},
		),
		toolErrors: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ollama_mcp_tool_errors_total",
				Help: "Total number of failed tool invocations by error kind",
			},
			[]string{"tool", "kind"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ollama_mcp_cache_hits_total",
				Help: "Total number of response cache hits",
			},
			[]string{"tool"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ollama_mcp_cache_misses_total",
				Help: "Total number of response cache misses",
			},
			[]string{"tool"},
		),
		registry: registry,
	}
}

// RecordToolCall records one completed tool invocation.
func (m *Collector) RecordToolCall(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordToolError records a failed invocation by error kind.
func (m *Collector) RecordToolError(tool, kind string) {
	if m == nil {
		return
	}
	m.toolErrors.WithLabelValues(tool, kind).Inc()
}

// RecordCacheHit records a response served from cache.
func (m *Collector) RecordCacheHit(tool string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(tool).Inc()
}

// RecordCacheMiss records a cache miss that reached the backend.
func (m *Collector) RecordCacheMiss(tool string) {
	if m == nil {
		return
	}
	m.cacheMisses.WithLabelValues(tool).Inc()
}

// RegisterCacheSize exposes the given length function as a gauge.
func (m *Collector) RegisterCacheSize(lenFn func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "ollama_mcp_cache_entries",
			Help: "Current number of entries in the response cache",
		},
		func() float64 { return float64(lenFn()) },
	))
}

// Handler returns the /metrics HTTP handler for this collector's registry.
func (m *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
