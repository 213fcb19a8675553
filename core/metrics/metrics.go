// Package metrics defines small instrumentation interfaces so core packages
// can record counters, gauges and timings without depending on a concrete
// backend. The adapters/prometheus package provides the production
// implementation; the Nop constructors are used when instrumentation is off.
package metrics

// Counter is a monotonically increasing value.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()
	// Add increments the counter by delta. delta must be >= 0.
	Add(delta float64)
}

// Gauge is a value that can go up and down.
type Gauge interface {
	// Set sets the gauge to value.
	Set(value float64)
	// Inc increments the gauge by 1.
	Inc()
	// Dec decrements the gauge by 1.
	Dec()
	// Add adds delta to the gauge. delta can be negative.
	Add(delta float64)
}

// Histogram samples observations, typically latencies.
type Histogram interface {
	// Observe adds a single observation to the histogram.
	Observe(value float64)
}

// Timer measures the duration of one operation. Create it when the
// operation starts and call ObserveDuration when it completes:
//
//	defer m.RepoLoadDuration("plan").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
