package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/authproxy/pkg/client"
	"github.com/marmos91/authproxy/pkg/metrics"
	"github.com/marmos91/authproxy/pkg/pool"
)

type clientMetrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	timeouts *prometheus.CounterVec
}

// NewClientMetrics returns edge facade metrics, or nil when metrics are
// disabled.
func NewClientMetrics() client.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &clientMetrics{
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "edge",
			Name: "calls_total",
			Help: "Forwarded calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "edge",
			Name:    "call_duration_seconds",
			Help:    "Round-trip time of forwarded calls",
			Buckets: latencyBuckets,
		}, []string{"operation"}),
		timeouts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "edge",
			Name: "timeouts_total",
			Help: "Calls that timed out waiting for the manager",
		}, []string{"operation"}),
	}
}

func (m *clientMetrics) RecordCall(op string, duration time.Duration, outcome string) {
	m.calls.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *clientMetrics) RecordTimeout(op string) {
	m.timeouts.WithLabelValues(op).Inc()
}

type poolMetrics struct {
	inUse      prometheus.Gauge
	reconnects *prometheus.CounterVec
}

// NewPoolMetrics returns connection pool metrics, or nil when metrics are
// disabled.
func NewPoolMetrics() pool.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &poolMetrics{
		inUse: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "edge",
			Name: "pool_connections_in_use",
			Help: "Pooled connections currently lent out",
		}),
		reconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "edge",
			Name: "reconnects_total",
			Help: "Reconnection attempts by result",
		}, []string{"result"}),
	}
}

func (m *poolMetrics) SetPoolInUse(n int) { m.inUse.Set(float64(n)) }

func (m *poolMetrics) RecordReconnect(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.reconnects.WithLabelValues(result).Inc()
}
