package stream

import "github.com/prometheus/client_golang/prometheus"

// Metric names for streaming observability.
const (
	MetricSSEClients      = "stream_sse_clients"
	MetricWSClients       = "stream_ws_clients"
	MetricPushesTotal     = "stream_pushes_total"
	MetricPushErrorsTotal = "stream_push_errors_total"
)

// Metrics contains Prometheus metrics for the streaming layer. The client
// gauges are shared between the SSE handler and the WebSocket broadcaster.
type Metrics struct {
	sseClients  prometheus.Gauge
	wsClients   prometheus.Gauge
	pushesTotal prometheus.Counter
	pushErrors  prometheus.Counter
}

// NewMetrics creates streaming metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricSSEClients,
			Help: "Number of currently connected SSE clients.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricWSClients,
			Help: "Number of currently connected WebSocket clients.",
		}),
		pushesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPushesTotal,
			Help: "Total number of snapshot pushes to streaming clients.",
		}),
		pushErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricPushErrorsTotal,
			Help: "Total number of failed snapshot computations or serializations during push.",
		}),
	}
}

// Register registers all streaming metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.sseClients,
		m.wsClients,
		m.pushesTotal,
		m.pushErrors,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSSEClients increments the SSE client gauge.
func (m *Metrics) IncSSEClients() { m.sseClients.Inc() }

// DecSSEClients decrements the SSE client gauge.
func (m *Metrics) DecSSEClients() { m.sseClients.Dec() }

// SetWSClients sets the WebSocket client gauge.
func (m *Metrics) SetWSClients(n int) { m.wsClients.Set(float64(n)) }

// IncPushes increments the push counter.
func (m *Metrics) IncPushes() { m.pushesTotal.Inc() }

// IncPushErrors increments the push error counter.
func (m *Metrics) IncPushErrors() { m.pushErrors.Inc() }
