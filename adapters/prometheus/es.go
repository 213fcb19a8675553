package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stridelabs/planlog/core/es"
	"github.com/stridelabs/planlog/core/metrics"
)

// esMetrics implements es.Metrics using Prometheus.
type esMetrics struct {
	repoLoadDuration     *prometheus.HistogramVec
	repoSaveDuration     *prometheus.HistogramVec
	eventsAppended       *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	viewCacheHits   *prometheus.CounterVec
	viewCacheMisses *prometheus.CounterVec

	commandsInflight *prometheus.GaugeVec
}

// NewESMetrics creates a new Prometheus implementation of es.Metrics.
func NewESMetrics(reg prometheus.Registerer) es.Metrics {
	m := &esMetrics{
		repoLoadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planlog_es_repo_load_duration_seconds",
			Help:    "Repository load latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		repoSaveDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planlog_es_repo_save_duration_seconds",
			Help:    "Repository save latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"aggregate_type"}),

		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planlog_es_events_appended_total",
			Help: "Total number of events appended",
		}, []string{"aggregate_type"}),

		concurrencyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planlog_es_concurrency_conflicts_total",
			Help: "Total number of optimistic lock failures",
		}, []string{"aggregate_type"}),

		viewCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planlog_es_view_cache_hits_total",
			Help: "Total number of view cache hits",
		}, []string{"aggregate_type"}),

		viewCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "planlog_es_view_cache_misses_total",
			Help: "Total number of view cache misses",
		}, []string{"aggregate_type"}),

		commandsInflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "planlog_es_commands_inflight",
			Help: "Number of commands currently executing",
		}, []string{"aggregate_type"}),
	}

	reg.MustRegister(
		m.repoLoadDuration,
		m.repoSaveDuration,
		m.eventsAppended,
		m.concurrencyConflicts,
		m.viewCacheHits,
		m.viewCacheMisses,
		m.commandsInflight,
	)

	return m
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.repoSaveDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) ViewCacheHit(aggType string) {
	m.viewCacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) ViewCacheMiss(aggType string) {
	m.viewCacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CommandsInflight(aggType string, delta int) {
	m.commandsInflight.WithLabelValues(aggType).Add(float64(delta))
}

var _ es.Metrics = (*esMetrics)(nil)
