package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the enrichment pipeline.
type Metrics struct {
	RegionsProcessed *prometheus.CounterVec // labels: outcome={enriched,attempted,failed}
	ProviderRequests *prometheus.CounterVec // labels: provider, outcome={success,no_data,error}
	ProviderDuration *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec // labels: result={hit,miss}
	BatchDuration    prometheus.Histogram
	BatchWindowSize  prometheus.Histogram
	RegionsRemaining prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		RegionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enrich",
			Name:      "regions_processed_total",
			Help:      "Regions processed by outcome.",
		}, []string{"outcome"}),
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enrich",
			Name:      "provider_requests_total",
			Help:      "Provider API requests by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "enrich",
			Name:      "provider_request_duration_seconds",
			Help:      "Provider API request duration.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"provider"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "enrich",
			Name:      "resolver_cache_total",
			Help:      "Fallback resolver cache lookups by result.",
		}, []string{"result"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "enrich",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one batch scheduler invocation.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		BatchWindowSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "enrich",
			Name:      "batch_window_size",
			Help:      "Regions dispatched per batch window.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		RegionsRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "enrich",
			Name:      "regions_remaining",
			Help:      "Unprocessed regions in the last scheduled partition.",
		}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RegionsProcessed,
		m.ProviderRequests,
		m.ProviderDuration,
		m.CacheLookups,
		m.BatchDuration,
		m.BatchWindowSize,
		m.RegionsRemaining,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so parallel tests don't
// collide on the default registry.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// RecordProvider is a nil-safe hook for provider clients.
func (m *Metrics) RecordProvider(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, outcome).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(seconds)
}

// RecordRegion is a nil-safe hook for worker outcomes.
func (m *Metrics) RecordRegion(outcome string) {
	if m == nil {
		return
	}
	m.RegionsProcessed.WithLabelValues(outcome).Inc()
}

// RecordCache is a nil-safe hook for resolver cache lookups.
func (m *Metrics) RecordCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordBatch is a nil-safe hook for batch invocations.
func (m *Metrics) RecordBatch(seconds float64, windowSize, remaining int) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(seconds)
	m.BatchWindowSize.Observe(float64(windowSize))
	m.RegionsRemaining.Set(float64(remaining))
}
