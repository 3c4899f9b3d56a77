// Package metrics provides Prometheus instrumentation for the proxy and
// its cache, exposed on a small internal debug listener that never
// participates in the proxy's own request path.
package metrics

import (
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks connection, pipeline, and cache counters for monitoring.
type Metrics struct {
    connectionsTotal   prometheus.Counter
    activeConnections  prometheus.Gauge
    pipelineOutcomes   *prometheus.CounterVec // labelled by outcome: hit, miss, error kind

    cacheHitsTotal     prometheus.Counter
    cacheMissesTotal   prometheus.Counter
    cacheAdmitsTotal   prometheus.Counter
    cacheRejectsTotal  prometheus.Counter
    cacheEvictsTotal   prometheus.Counter
    cacheBytes         prometheus.Gauge
}

// NewMetrics creates and registers the proxy's Prometheus instruments.
func NewMetrics() *Metrics {
    m := &Metrics{
        connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "proxy_connections_total",
            Help: "Total number of accepted client connections.",
        }),
        activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
            Name: "proxy_active_connections",
            Help: "Number of connections currently being served.",
        }),
        pipelineOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
            Name: "proxy_pipeline_outcomes_total",
            Help: "Connection pipeline outcomes by terminal state.",
        }, []string{"outcome"}),
        cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "proxy_cache_hits_total",
            Help: "Total cache lookups that found a resident entry.",
        }),
        cacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "proxy_cache_misses_total",
            Help: "Total cache lookups that found nothing.",
        }),
        cacheAdmitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "proxy_cache_admits_total",
            Help: "Total responses admitted into the cache (bytes summed in proxy_cache_bytes).",
        }),
        cacheRejectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "proxy_cache_admit_rejects_total",
            Help: "Total admission attempts rejected, e.g. duplicate key.",
        }),
        cacheEvictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
            Name: "proxy_cache_evictions_total",
            Help: "Total entries evicted to respect the byte budget.",
        }),
        cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
            Name: "proxy_cache_bytes",
            Help: "Current cache occupancy in bytes (max 1048576, humanized in logs as ~1.0 MB).",
        }),
    }

    prometheus.MustRegister(
        m.connectionsTotal,
        m.activeConnections,
        m.pipelineOutcomes,
        m.cacheHitsTotal,
        m.cacheMissesTotal,
        m.cacheAdmitsTotal,
        m.cacheRejectsTotal,
        m.cacheEvictsTotal,
        m.cacheBytes,
    )

    return m
}

// ConnectionAccepted records a newly accepted connection.
func (m *Metrics) ConnectionAccepted() {
    m.connectionsTotal.Inc()
    m.activeConnections.Inc()
}

// ConnectionClosed records a connection's worker finishing.
func (m *Metrics) ConnectionClosed() {
    m.activeConnections.Dec()
}

// PipelineOutcome records the terminal state of one connection pipeline,
// e.g. "hit", "miss", "malformed", "unsupported_method", "upstream_unreachable".
func (m *Metrics) PipelineOutcome(outcome string) {
    m.pipelineOutcomes.WithLabelValues(outcome).Inc()
}

// CacheHit records a cache lookup that found an entry.
func (m *Metrics) CacheHit() { m.cacheHitsTotal.Inc() }

// CacheMiss records a cache lookup that found nothing.
func (m *Metrics) CacheMiss() { m.cacheMissesTotal.Inc() }

// CacheAdmit records a successful admission of size bytes.
func (m *Metrics) CacheAdmit(size int) {
    m.cacheAdmitsTotal.Inc()
    m.cacheBytes.Add(float64(size))
}

// CacheAdmitRejected records a rejected admission attempt.
func (m *Metrics) CacheAdmitRejected() { m.cacheRejectsTotal.Inc() }

// CacheEvict records an eviction that freed size bytes.
func (m *Metrics) CacheEvict(size int) {
    m.cacheEvictsTotal.Inc()
    m.cacheBytes.Sub(float64(size))
}

// Handler returns the HTTP handler for Prometheus scrape requests, bound
// on the internal debug listener only — never on the proxy's own port.
func (m *Metrics) Handler() http.Handler {
    return promhttp.Handler()
}
