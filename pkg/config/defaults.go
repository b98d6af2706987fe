package config

import (
	"strings"
	"time"

	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/marmos91/authproxy/pkg/stats"
)

// ApplyDefaults fills unspecified fields. Explicit values are preserved.
// Store-specific options are defaulted by the store constructors, except
// for the paths written into generated files.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyIntegrityDefaults(&cfg.Integrity)
	applyBrokerDefaults(&cfg.Broker)
	applyDispatcherDefaults(&cfg.Dispatcher)
	applyHandlesDefaults(&cfg.Handles)
	applyStatsDefaults(&cfg.Stats)
	applyNamespaceDefaults(&cfg.Namespace)
	applyEdgeDefaults(&cfg.Edge)
	applyContentDefaults(&cfg.Content)
	applyMetadataDefaults(&cfg.Metadata)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = 9090
	}
}

func applyIntegrityDefaults(cfg *IntegrityConfig) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "hmac-sha1"
	}
	cfg.Algorithm = strings.ToLower(cfg.Algorithm)
}

func applyBackoffDefaults(cfg *BackoffConfig, initial, max time.Duration) {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = initial
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = max
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = 2
	}
}

func applyBrokerDefaults(cfg *BrokerConfig) {
	if cfg.Listen == "" {
		cfg.Listen = ":1100"
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 1024
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = wire.DefaultMaxRecordSize
	}
	// MaxConnections and RateLimit default to zero: unlimited.
}

func applyDispatcherDefaults(cfg *DispatcherConfig) {
	if cfg.Workers == 0 {
		cfg.Workers = 10
	}
	if cfg.ReplyRetries == 0 {
		cfg.ReplyRetries = 40
	}
	if cfg.ReplyRetryInterval == 0 {
		cfg.ReplyRetryInterval = 10 * time.Millisecond
	}
	if cfg.Reconnect.MaxRetries == 0 {
		cfg.Reconnect.MaxRetries = 10
	}
	applyBackoffDefaults(&cfg.Reconnect, 100*time.Millisecond, 5*time.Second)
}

func applyHandlesDefaults(cfg *HandlesConfig) {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = time.Minute
	}
}

func applyStatsDefaults(cfg *StatsConfig) {
	if cfg.Interval == 0 {
		cfg.Interval = stats.DefaultInterval
	}
}

func applyNamespaceDefaults(cfg *NamespaceConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 1094
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 1 << 40
	}
}

func applyEdgeDefaults(cfg *EdgeConfig) {
	if cfg.ManagerAddress == "" {
		cfg.ManagerAddress = "localhost:1100"
	}
	if cfg.ManagerHost == "" {
		cfg.ManagerHost = "localhost"
	}
	if cfg.LocalPort == 0 {
		cfg.LocalPort = 1094
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 5
	}
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = 5 * time.Second
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	// The edge may start before the manager; connect retries never run out.
	cfg.Connect.MaxRetries = 0
	applyBackoffDefaults(&cfg.Connect, 100*time.Millisecond, 10*time.Second)
}

func applyContentDefaults(cfg *ContentConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = "/var/lib/authproxy/content"
	}
}

func applyMetadataDefaults(cfg *MetadataConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["path"]; !ok {
		cfg.Badger["path"] = "/var/lib/authproxy/metadata"
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 100000
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 30 * time.Second
	}
}

// GetDefaultConfig returns a configuration with every default applied. It
// is used to generate sample files.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Integrity: IntegrityConfig{KeyFile: "/etc/authproxy/keytab"},
		Server: ServerConfig{
			Metrics: MetricsConfig{Enabled: true},
		},
		Metadata: MetadataConfig{
			Cache: CacheConfig{Enabled: true},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
