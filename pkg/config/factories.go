package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/authproxy/internal/backoff"
	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/broker"
	"github.com/marmos91/authproxy/pkg/client"
	"github.com/marmos91/authproxy/pkg/dispatcher"
	"github.com/marmos91/authproxy/pkg/integrity"
	"github.com/marmos91/authproxy/pkg/namespace"
	"github.com/marmos91/authproxy/pkg/pool"
	"github.com/marmos91/authproxy/pkg/store/content"
	contentfs "github.com/marmos91/authproxy/pkg/store/content/fs"
	contentmemory "github.com/marmos91/authproxy/pkg/store/content/memory"
	contents3 "github.com/marmos91/authproxy/pkg/store/content/s3"
	"github.com/marmos91/authproxy/pkg/store/metadata"
	metadatabadger "github.com/marmos91/authproxy/pkg/store/metadata/badger"
	metadatacache "github.com/marmos91/authproxy/pkg/store/metadata/cache"
	metadatamemory "github.com/marmos91/authproxy/pkg/store/metadata/memory"
)

// CreateContentStore builds the content store selected by cfg.Type from the
// matching option map.
func CreateContentStore(ctx context.Context, cfg *ContentConfig, metrics contents3.Metrics) (content.Store, error) {
	switch cfg.Type {
	case "memory":
		return contentmemory.New(), nil
	case "filesystem":
		var storeCfg contentfs.Config
		if err := mapstructure.Decode(cfg.Filesystem, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode filesystem content store config: %w", err)
		}
		if storeCfg.Path == "" {
			return nil, errors.New("filesystem content store: path is required")
		}
		return contentfs.New(ctx, storeCfg)
	case "s3":
		return createS3ContentStore(ctx, cfg.S3, metrics)
	default:
		return nil, fmt.Errorf("unknown content store type: %q", cfg.Type)
	}
}

func createS3ContentStore(ctx context.Context, options map[string]any, metrics contents3.Metrics) (content.Store, error) {
	var storeCfg contents3.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 content store config: %w", err)
	}
	if storeCfg.Bucket == "" {
		return nil, errors.New("S3 content store: bucket is required")
	}
	if storeCfg.Region == "" {
		return nil, errors.New("S3 content store: region is required")
	}

	s3Client, err := contents3.NewClient(ctx, storeCfg)
	if err != nil {
		return nil, err
	}

	store, err := contents3.New(ctx, s3Client, storeCfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 content store: %w", err)
	}

	logger.Info("S3 content store initialized: bucket=%s, region=%s, prefix=%s",
		storeCfg.Bucket, storeCfg.Region, storeCfg.KeyPrefix)
	return store, nil
}

// CreateMetadataStore builds the metadata store selected by cfg.Type and
// wraps it in the read cache when enabled.
func CreateMetadataStore(ctx context.Context, cfg *MetadataConfig, metrics metadatacache.Metrics) (metadata.Store, error) {
	var store metadata.Store

	switch cfg.Type {
	case "memory":
		store = metadatamemory.New()
	case "badger":
		var storeCfg metadatabadger.Config
		if err := mapstructure.Decode(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger metadata store config: %w", err)
		}
		if storeCfg.Path == "" && !storeCfg.InMemory {
			return nil, errors.New("badger metadata store: path is required")
		}
		s, err := metadatabadger.New(ctx, storeCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create badger metadata store: %w", err)
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown metadata store type: %q", cfg.Type)
	}

	if !cfg.Cache.Enabled {
		return store, nil
	}

	cached, err := metadatacache.New(store, metadatacache.Config{
		MaxEntries: cfg.Cache.MaxEntries,
		TTL:        cfg.Cache.TTL,
	}, metrics)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}
	return cached, nil
}

// CreateSigner loads the shared key and returns a signer for it.
func CreateSigner(cfg *IntegrityConfig) (*integrity.Signer, error) {
	var (
		key []byte
		err error
	)
	if cfg.KeyFile != "" {
		key, err = integrity.KeyFromFile(cfg.KeyFile)
	} else {
		key, err = integrity.KeyFromString(cfg.Key)
	}
	if err != nil {
		return nil, fmt.Errorf("integrity: %w", err)
	}
	return integrity.New(key, cfg.Algorithm)
}

func (c BackoffConfig) policy() backoff.Policy {
	return backoff.Policy{
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
		MaxRetries:      c.MaxRetries,
	}
}

// BrokerOptions converts the broker section.
func (c *Config) BrokerOptions() broker.Config {
	return broker.Config{
		Listen:          c.Broker.Listen,
		MaxConnections:  c.Broker.MaxConnections,
		IdleTimeout:     c.Broker.IdleTimeout,
		WriteTimeout:    c.Broker.WriteTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		MaxRecordSize:   c.Broker.MaxRecordSize,
		QueueSize:       c.Broker.QueueSize,
		RateLimit: broker.RateLimitConfig{
			RequestsPerSecond: c.Broker.RateLimit.RequestsPerSecond,
			Burst:             c.Broker.RateLimit.Burst,
		},
	}
}

// WorkerOptions converts the dispatcher section.
func (c *Config) WorkerOptions() dispatcher.Config {
	return dispatcher.Config{
		Workers:            c.Dispatcher.Workers,
		ReplyRetries:       c.Dispatcher.ReplyRetries,
		ReplyRetryInterval: c.Dispatcher.ReplyRetryInterval,
		Reconnect:          c.Dispatcher.Reconnect.policy(),
	}
}

// NamespaceOptions converts the namespace section.
func (c *Config) NamespaceOptions(version string) namespace.Options {
	return namespace.Options{
		Host:     c.Namespace.Host,
		Port:     c.Namespace.Port,
		Capacity: c.Namespace.Capacity,
		Version:  version,
	}
}

// PoolOptions converts the connection settings of the edge section.
func (c *Config) PoolOptions() pool.Config {
	return pool.Config{
		Address:        c.Edge.ManagerAddress,
		Size:           c.Edge.PoolSize,
		ReceiveTimeout: c.Edge.ReceiveTimeout,
		DialTimeout:    c.Edge.DialTimeout,
		MaxRecordSize:  c.Broker.MaxRecordSize,
		Connect:        c.Edge.Connect.policy(),
	}
}

// ClientOptions converts the facade settings of the edge section.
func (c *Config) ClientOptions() client.Config {
	return client.Config{
		ManagerHost:  c.Edge.ManagerHost,
		LocalPort:    c.Edge.LocalPort,
		CollapsePort: c.Edge.CollapsePort,
	}
}
