// Package metrics defines the Prometheus metric collectors used across the
// service and serves them for scraping. All recording helpers
// are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchRequestsTotal  *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	CacheHitsTotal       *prometheus.CounterVec
	CacheMissesTotal     *prometheus.CounterVec
	CacheErrorsTotal     *prometheus.CounterVec
	BreakerState         *prometheus.GaugeVec
	IndexTokens          prometheus.Gauge
	IndexRebuildDuration prometheus.Histogram
	RankingRunsTotal     *prometheus.CounterVec
	RankingDuration      *prometheus.HistogramVec
	RankingScoredTotal   *prometheus.CounterVec
	ViewsFlushedTotal    prometheus.Counter
}

// New creates all collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on Handler().
func New(reg prometheus.Registerer) *Metrics {
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
		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_search_requests_total",
				Help: "Search requests by outcome (cached, computed, short_circuit, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_search_latency_seconds",
				Help:    "Search latency in seconds by cache status.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_cache_hits_total",
				Help: "Cache hits by key namespace.",
			},
			[]string{"namespace"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_cache_misses_total",
				Help: "Cache misses by key namespace.",
			},
			[]string{"namespace"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_cache_errors_total",
				Help: "Cache transport or codec failures by operation.",
			},
			[]string{"op"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "copilot_breaker_state",
				Help: "Circuit breaker state by name (0 closed, 1 open, 2 half-open).",
			},
			[]string{"name"},
		),
		IndexTokens: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "copilot_index_tokens",
				Help: "Number of distinct tokens in the segment index.",
			},
		),
		IndexRebuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "copilot_index_rebuild_seconds",
				Help:    "Duration of full segment index rebuilds.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		RankingRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_ranking_runs_total",
				Help: "Hot-score refresh runs by job and status (ok, failed, skipped).",
			},
			[]string{"job", "status"},
		),
		RankingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "copilot_ranking_duration_seconds",
				Help:    "Hot-score refresh duration by job.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"job"},
		),
		RankingScoredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "copilot_ranking_scored_total",
				Help: "Records whose hot score was recomputed, by job.",
			},
			[]string{"job"},
		),
		ViewsFlushedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "copilot_views_flushed_total",
				Help: "View increments written to storage.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchRequestsTotal,
		m.SearchLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.BreakerState,
		m.IndexTokens,
		m.IndexRebuildDuration,
		m.RankingRunsTotal,
		m.RankingDuration,
		m.RankingScoredTotal,
		m.ViewsFlushedTotal,
	)

	return m
}

func (m *Metrics) CacheHit(namespace string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(namespace).Inc()
}

func (m *Metrics) CacheMiss(namespace string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(namespace).Inc()
}

func (m *Metrics) CacheError(op string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(op).Inc()
}

// BreakerChanged records a breaker's new state as its numeric value.
func (m *Metrics) BreakerChanged(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) SearchDone(outcome string, cacheStatus string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(outcome).Inc()
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
}

func (m *Metrics) IndexSize(tokens int) {
	if m == nil {
		return
	}
	m.IndexTokens.Set(float64(tokens))
}

func (m *Metrics) IndexRebuilt(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.IndexRebuildDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RankingRun(job, status string, elapsed time.Duration, scored int) {
	if m == nil {
		return
	}
	m.RankingRunsTotal.WithLabelValues(job, status).Inc()
	if status == "skipped" {
		return
	}
	m.RankingDuration.WithLabelValues(job).Observe(elapsed.Seconds())
	m.RankingScoredTotal.WithLabelValues(job).Add(float64(scored))
}

func (m *Metrics) ViewsFlushed(n int64) {
	if m == nil {
		return
	}
	m.ViewsFlushedTotal.Add(float64(n))
}
