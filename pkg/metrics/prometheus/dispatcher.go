package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/authproxy/pkg/dispatcher"
	"github.com/marmos91/authproxy/pkg/metrics"
)

type dispatcherMetrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	rejections    *prometheus.CounterVec
	repliesLost   prometheus.Counter
	activeWorkers prometheus.Gauge
}

// NewDispatcherMetrics returns manager-side request metrics, or nil when
// metrics are disabled.
func NewDispatcherMetrics() dispatcher.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &dispatcherMetrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "manager",
			Name: "requests_total",
			Help: "Requests executed by operation and outcome",
		}, []string{"operation", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "manager",
			Name:    "request_duration_seconds",
			Help:    "Time spent executing a request",
			Buckets: latencyBuckets,
		}, []string{"operation"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "manager",
			Name: "rejections_total",
			Help: "Requests refused before execution by reason",
		}, []string{"reason"}),
		repliesLost: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "manager",
			Name: "replies_dropped_total",
			Help: "Replies that could not be delivered to the broker",
		}),
		activeWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "manager",
			Name: "active_workers",
			Help: "Workers currently executing a request",
		}),
	}
}

func (m *dispatcherMetrics) RecordRequest(op string, duration time.Duration, outcome string) {
	m.requests.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *dispatcherMetrics) RecordRejection(reason string) {
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *dispatcherMetrics) RecordReplyDropped() { m.repliesLost.Inc() }
func (m *dispatcherMetrics) SetActiveWorkers(n int) {
	m.activeWorkers.Set(float64(n))
}
