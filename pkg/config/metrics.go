package config

import (
	"github.com/marmos91/authproxy/pkg/broker"
	"github.com/marmos91/authproxy/pkg/client"
	"github.com/marmos91/authproxy/pkg/dispatcher"
	"github.com/marmos91/authproxy/pkg/handles"
	"github.com/marmos91/authproxy/pkg/metrics"
	prom "github.com/marmos91/authproxy/pkg/metrics/prometheus"
	"github.com/marmos91/authproxy/pkg/pool"
	"github.com/marmos91/authproxy/pkg/store/content/s3"
	"github.com/marmos91/authproxy/pkg/store/metadata/cache"
)

// MetricsResult holds the metrics components built from configuration.
// When metrics are disabled Server is nil and every sink is nil, which the
// components replace with their no-op.
type MetricsResult struct {
	Server *metrics.Server

	Broker     broker.Metrics
	Dispatcher dispatcher.Metrics
	Handles    handles.Metrics
	Client     client.Metrics
	Pool       pool.Metrics
	Cache      cache.Metrics
	S3         s3.Metrics
}

// InitializeMetrics creates the registry, the HTTP server and the
// Prometheus sinks when metrics are enabled. It must be called at most once
// per process with metrics enabled.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:     metrics.NewServer(metrics.ServerConfig{Port: cfg.Server.Metrics.Port}),
		Broker:     prom.NewBrokerMetrics(),
		Dispatcher: prom.NewDispatcherMetrics(),
		Handles:    prom.NewHandleMetrics(),
		Client:     prom.NewClientMetrics(),
		Pool:       prom.NewPoolMetrics(),
		Cache:      prom.NewCacheMetrics(),
		S3:         prom.NewS3Metrics(),
	}
}
