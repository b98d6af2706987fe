// Package metrics owns the process-wide Prometheus registry and the HTTP
// endpoint that exposes it.
//
// Metrics are optional. Components accept a Metrics interface and fall back
// to a no-op when given nil; the constructors in the prometheus subpackage
// return nil until InitRegistry has been called.
//
//	metrics.InitRegistry()
//	b := broker.New(cfg, nil, prometheus.NewBrokerMetrics())
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Namespace prefixes every metric name.
const Namespace = "authproxy"

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry together with the Go runtime and
// process collectors. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// GetRegistry returns the global registry, or nil when metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// Register adds an externally built collector, such as the per-operation
// timing aggregates, to the registry. It is a no-op when metrics are
// disabled.
func Register(c prometheus.Collector) error {
	reg := GetRegistry()
	if reg == nil {
		return nil
	}
	return reg.Register(c)
}
