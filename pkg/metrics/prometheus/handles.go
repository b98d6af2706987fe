package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/authproxy/pkg/handles"
	"github.com/marmos91/authproxy/pkg/metrics"
)

type handleMetrics struct {
	open      *prometheus.GaugeVec
	evictions *prometheus.CounterVec
}

// NewHandleMetrics returns handle table metrics, or nil when metrics are
// disabled.
func NewHandleMetrics() handles.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &handleMetrics{
		open: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metrics.Namespace, Subsystem: "manager",
			Name: "open_handles",
			Help: "Open file and directory handles",
		}, []string{"kind"}),
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "manager",
			Name: "handle_evictions_total",
			Help: "Handles closed by the idle sweeper",
		}, []string{"kind"}),
	}
}

func (m *handleMetrics) SetOpenHandles(kind string, count int) {
	m.open.WithLabelValues(kind).Set(float64(count))
}

func (m *handleMetrics) RecordHandleEviction(kind string) {
	m.evictions.WithLabelValues(kind).Inc()
}
