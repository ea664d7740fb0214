package simulator

import "github.com/prometheus/client_golang/prometheus"

// Metric names for simulator observability.
const (
	MetricTicksTotal           = "simulator_ticks_total"
	MetricErrorsTotal          = "simulator_errors_total"
	MetricSessionsCreatedTotal = "simulator_sessions_created_total"
	MetricSessionsEndedTotal   = "simulator_sessions_ended_total"
)

// Metrics contains Prometheus metrics for the activity simulator.
type Metrics struct {
	ticksTotal      prometheus.Counter
	errorsTotal     prometheus.Counter
	sessionsCreated prometheus.Counter
	sessionsEnded   prometheus.Counter
}

// NewMetrics creates simulator metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ticksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricTicksTotal,
			Help: "Total number of simulator ticks executed.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricErrorsTotal,
			Help: "Total number of failed simulator store operations.",
		}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsCreatedTotal,
			Help: "Total number of synthetic sessions created.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricSessionsEndedTotal,
			Help: "Total number of synthetic sessions ended.",
		}),
	}
}

// Register registers all simulator metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.ticksTotal,
		m.errorsTotal,
		m.sessionsCreated,
		m.sessionsEnded,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncTicks increments the tick counter.
func (m *Metrics) IncTicks() { m.ticksTotal.Inc() }

// IncErrors increments the error counter.
func (m *Metrics) IncErrors() { m.errorsTotal.Inc() }

// IncSessionsCreated increments the created-sessions counter.
func (m *Metrics) IncSessionsCreated() { m.sessionsCreated.Inc() }

// IncSessionsEnded increments the ended-sessions counter.
func (m *Metrics) IncSessionsEnded() { m.sessionsEnded.Inc() }
