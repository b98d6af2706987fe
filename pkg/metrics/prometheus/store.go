package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/authproxy/pkg/metrics"
	"github.com/marmos91/authproxy/pkg/store/content/s3"
	"github.com/marmos91/authproxy/pkg/store/metadata/cache"
)

type cacheMetrics struct {
	hits          prometheus.Counter
	misses        prometheus.Counter
	invalidations *prometheus.CounterVec
}

// NewCacheMetrics returns metadata cache metrics, or nil when metrics are
// disabled.
func NewCacheMetrics() cache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &cacheMetrics{
		hits: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "metadata_cache",
			Name: "hits_total",
			Help: "Entry lookups served from the cache",
		}),
		misses: f.NewCounter(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "metadata_cache",
			Name: "misses_total",
			Help: "Entry lookups that went to the backing store",
		}),
		invalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "metadata_cache",
			Name: "invalidations_total",
			Help: "Cache invalidations by reason",
		}, []string{"reason"}),
	}
}

func (m *cacheMetrics) RecordCacheHit()  { m.hits.Inc() }
func (m *cacheMetrics) RecordCacheMiss() { m.misses.Inc() }
func (m *cacheMetrics) RecordCacheInvalidation(reason string) {
	m.invalidations.WithLabelValues(reason).Inc()
}

type s3Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	bytes      *prometheus.CounterVec
}

// NewS3Metrics returns S3 content store metrics, or nil when metrics are
// disabled.
func NewS3Metrics() s3.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	f := promauto.With(metrics.GetRegistry())

	return &s3Metrics{
		operations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "s3",
			Name: "operations_total",
			Help: "S3 content store operations by status",
		}, []string{"operation", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metrics.Namespace, Subsystem: "s3",
			Name:    "operation_duration_seconds",
			Help:    "Duration of S3 content store operations",
			Buckets: latencyBuckets,
		}, []string{"operation"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace, Subsystem: "s3",
			Name: "bytes_total",
			Help: "Bytes moved to and from the bucket",
		}, []string{"operation"}),
	}
}

func (m *s3Metrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *s3Metrics) RecordBytes(operation string, bytes int64) {
	m.bytes.WithLabelValues(operation).Add(float64(bytes))
}
