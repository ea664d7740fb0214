package analytics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSnapshotsTotal   = "aggregator_snapshots_total"
	MetricSnapshotErrors   = "aggregator_snapshot_errors_total"
	MetricSnapshotDuration = "aggregator_snapshot_duration_seconds"
)

// Metrics contains Prometheus metrics for the aggregation engine.
// All operations are thread-safe.
type Metrics struct {
	snapshotsTotal   prometheus.Counter
	snapshotErrors   prometheus.Counter
	snapshotDuration prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		snapshotsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSnapshotsTotal,
			Help: "Total number of snapshot computations attempted",
		}),
		snapshotErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSnapshotErrors,
			Help: "Total number of snapshot computations that failed",
		}),
		snapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricSnapshotDuration,
			Help:    "Histogram of snapshot computation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.snapshotsTotal,
		m.snapshotErrors,
		m.snapshotDuration,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSnapshot records one snapshot attempt.
func (m *Metrics) ObserveSnapshot(duration float64, ok bool) {
	m.snapshotsTotal.Inc()
	m.snapshotDuration.Observe(duration)
	if !ok {
		m.snapshotErrors.Inc()
	}
}
