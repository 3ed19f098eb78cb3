package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the stream proxy.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	streamsCreatedTotal  prometheus.Counter
	manifestsServedTotal prometheus.Counter
	segmentsServedTotal  prometheus.Counter
	cacheHitsTotal       prometheus.Counter
	refreshTotal         prometheus.Counter
	refreshFailuresTotal prometheus.Counter
	sessionsEvictedTotal prometheus.Counter
	activeSessions       prometheus.Gauge
	errorsTotal          prometheus.Counter
}

// New creates and registers Prometheus metrics for the stream proxy.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		streamsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_streams_created_total",
			Help: "Total number of stream sessions created",
		}),
		manifestsServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_manifests_served_total",
			Help: "Total number of rewritten manifests served",
		}),
		segmentsServedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_segments_served_total",
			Help: "Total number of segment or key responses served",
		}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_segment_cache_hits_total",
			Help: "Total number of segment responses served from cache",
		}),
		refreshTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_manifest_refresh_total",
			Help: "Total number of live manifest refresh attempts",
		}),
		refreshFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_manifest_refresh_failures_total",
			Help: "Total number of failed live manifest refreshes",
		}),
		sessionsEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_sessions_evicted_total",
			Help: "Total number of idle sessions evicted",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "streamproxy_active_sessions",
			Help: "Number of sessions currently held in the registry",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "streamproxy_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.streamsCreatedTotal,
		m.manifestsServedTotal,
		m.segmentsServedTotal,
		m.cacheHitsTotal,
		m.refreshTotal,
		m.refreshFailuresTotal,
		m.sessionsEvictedTotal,
		m.activeSessions,
		m.errorsTotal,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() { m.requestsTotal.Inc() }

// IncStreamsCreated increments the streams created counter.
func (m *Metrics) IncStreamsCreated() { m.streamsCreatedTotal.Inc() }

// IncManifestsServed increments the manifests served counter.
func (m *Metrics) IncManifestsServed() { m.manifestsServedTotal.Inc() }

// IncSegmentsServed increments the segments served counter.
func (m *Metrics) IncSegmentsServed() { m.segmentsServedTotal.Inc() }

// IncCacheHits increments the segment cache hit counter.
func (m *Metrics) IncCacheHits() { m.cacheHitsTotal.Inc() }

// IncRefresh increments the refresh attempt counter.
func (m *Metrics) IncRefresh() { m.refreshTotal.Inc() }

// IncRefreshFailures increments the refresh failure counter.
func (m *Metrics) IncRefreshFailures() { m.refreshFailuresTotal.Inc() }

// AddSessionsEvicted adds n to the sessions evicted counter.
func (m *Metrics) AddSessionsEvicted(n int) { m.sessionsEvictedTotal.Add(float64(n)) }

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) { m.activeSessions.Set(float64(n)) }

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values
// (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
