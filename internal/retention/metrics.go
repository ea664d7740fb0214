package retention

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricSweepsTotal   = "retention_sweeps_total"
	MetricSessionsSwept = "retention_sessions_swept_total"
)

// Metrics contains Prometheus metrics for the retention sweeper.
type Metrics struct {
	sweepsTotal   prometheus.Counter
	sessionsSwept prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSweepsTotal,
			Help: "Total number of retention sweeps that removed at least one session",
		}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsSwept,
			Help: "Total number of sessions removed by the retention sweeper",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.sweepsTotal, m.sessionsSwept} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveSweep records one completed sweep.
func (m *Metrics) ObserveSweep(sessions int64) {
	m.sweepsTotal.Inc()
	m.sessionsSwept.Add(float64(sessions))
}
