package es

import "github.com/stridelabs/planlog/core/metrics"

// Metrics is the instrumentation surface of the event-sourcing core and the
// planner service above it. The aggregate type is the only label dimension.
// Implementations must be safe for concurrent use.
type Metrics interface {
	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoSaveDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)
	ConcurrencyConflict(aggType string)

	// View cache (read side)
	ViewCacheHit(aggType string)
	ViewCacheMiss(aggType string)

	// Commands currently executing (write side)
	CommandsInflight(aggType string, delta int)
}

type nopMetrics struct{}

func (nopMetrics) RepoLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) RepoSaveDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) EventsAppended(string, int)            {}
func (nopMetrics) ConcurrencyConflict(string)            {}
func (nopMetrics) ViewCacheHit(string)                   {}
func (nopMetrics) ViewCacheMiss(string)                  {}
func (nopMetrics) CommandsInflight(string, int)          {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }

// MetricsOption injects a Metrics implementation.
type MetricsOption struct{ m Metrics }

func WithMetrics(m Metrics) MetricsOption { return MetricsOption{m: m} }

func (o MetricsOption) applyToRepository(r *repoOptions) { r.metrics = o.m }
