// Package prometheus implements the component Metrics interfaces on top of
// the registry in pkg/metrics. Every constructor returns nil while metrics
// are disabled, which components treat as "use the no-op".
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/authproxy/pkg/broker"
	"github.com/marmos91/authproxy/pkg/metrics"
)

// latencyBuckets are in seconds and span local loopback calls up to the
// default receive timeout.
var latencyBuckets = []float64{
	0.0001, // 100µs
	0.0005, // 500µs
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
	1,      // 1s
	5,      // 5s
	30,     // 30s
}

type brokerMetrics struct {
	activeConnections      prometheus.Gauge
	connectionsAccepted    prometheus.Counter
	connectionsClosed      prometheus.Counter
	connectionsForceClosed prometheus.Counter
	framesRelayed          prometheus.Counter
	bytesRelayed           prometheus.Counter
	rateLimited            prometheus.Counter
	queueDepth             prometheus.Gauge
}

// NewBrokerMetrics returns broker metrics, or nil when metrics are disabled.
func NewBrokerMetrics() broker.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &brokerMetrics{
		activeConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "active_connections",
			Help: "Edge connections currently attached to the broker",
		}),
		connectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "connections_accepted_total",
			Help: "Edge connections accepted",
		}),
		connectionsClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "connections_closed_total",
			Help: "Edge connections closed",
		}),
		connectionsForceClosed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "connections_force_closed_total",
			Help: "Edge connections closed because the shutdown deadline expired",
		}),
		framesRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "frames_relayed_total",
			Help: "Frames relayed between edges and workers",
		}),
		bytesRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "bytes_relayed_total",
			Help: "Bytes relayed between edges and workers",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "rate_limited_total",
			Help: "Connections refused by the accept rate limiter",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "broker",
			Name: "queue_depth",
			Help: "Requests waiting for a worker",
		}),
	}
}

func (m *brokerMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *brokerMetrics) RecordConnectionAccepted()    { m.connectionsAccepted.Inc() }
func (m *brokerMetrics) RecordConnectionClosed()      { m.connectionsClosed.Inc() }
func (m *brokerMetrics) RecordConnectionForceClosed() { m.connectionsForceClosed.Inc() }
func (m *brokerMetrics) RecordRateLimited()           { m.rateLimited.Inc() }
func (m *brokerMetrics) SetQueueDepth(depth int)      { m.queueDepth.Set(float64(depth)) }

func (m *brokerMetrics) RecordFrameRelayed(bytes int) {
	m.framesRelayed.Inc()
	m.bytesRelayed.Add(float64(bytes))
}
