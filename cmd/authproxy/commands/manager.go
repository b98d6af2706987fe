package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/config"
	"github.com/marmos91/authproxy/pkg/namespace"
	"github.com/marmos91/authproxy/pkg/server"
	"github.com/marmos91/authproxy/pkg/store/metadata"
)

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run the manager process",
	Long: `Run the manager: bind the broker endpoint, start the worker pool and
serve requests against the configured namespace until interrupted.

Examples:
  # Run with the default configuration file
  authproxy manager

  # Run with a custom configuration file
  authproxy manager --config /etc/authproxy/config.yaml

  # Override settings through the environment
  AUTHPROXY_LOGGING_LEVEL=DEBUG authproxy manager`,
	RunE: runManager,
}

func runManager(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logger.Info("authproxy manager %s (commit %s) starting", Version, Commit)
	logger.Info("Log level: %s, format: %s", cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on port %d", cfg.Server.Metrics.Port)
	}

	ns, err := buildNamespace(ctx, cfg, metricsResult)
	if err != nil {
		return err
	}
	defer func() {
		if err := ns.Close(); err != nil {
			logger.Error("Failed to close namespace stores: %v", err)
		}
	}()

	signer, err := config.CreateSigner(&cfg.Integrity)
	if err != nil {
		return err
	}
	logger.Info("Integrity: %s", signer.Algorithm())

	mgr, err := server.New(server.Config{
		Broker:            cfg.BrokerOptions(),
		Workers:           cfg.WorkerOptions(),
		HandleIdleTimeout: cfg.Handles.IdleTimeout,
		SweepInterval:     cfg.Handles.SweepInterval,
		StatsInterval:     cfg.Stats.Interval,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
	}, server.Options{
		FileSystem:        ns,
		Signer:            signer,
		BrokerMetrics:     metricsResult.Broker,
		DispatcherMetrics: metricsResult.Dispatcher,
		HandleMetrics:     metricsResult.Handles,
		MetricsServer:     metricsResult.Server,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- mgr.Serve(ctx)
	}()

	select {
	case <-mgr.Ready():
		logger.Info("Manager listening on %s", mgr.Addr())
	case err := <-serverDone:
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received signal %s, shutting down", sig)
		cancel()
		return <-serverDone
	case err := <-serverDone:
		return err
	}
}

func buildNamespace(ctx context.Context, cfg *config.Config, m *config.MetricsResult) (*namespace.Namespace, error) {
	meta, err := config.CreateMetadataStore(ctx, &cfg.Metadata, m.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata store: %w", err)
	}
	logger.Info("Metadata store: %s (cache enabled: %t)", cfg.Metadata.Type, cfg.Metadata.Cache.Enabled)

	data, err := config.CreateContentStore(ctx, &cfg.Content, m.S3)
	if err != nil {
		closeMetadata(meta)
		return nil, fmt.Errorf("failed to create content store: %w", err)
	}
	logger.Info("Content store: %s", cfg.Content.Type)

	ns, err := namespace.New(ctx, meta, data, cfg.NamespaceOptions(Version))
	if err != nil {
		closeMetadata(meta)
		return nil, fmt.Errorf("failed to initialize namespace: %w", err)
	}
	return ns, nil
}

func closeMetadata(s metadata.Store) {
	if err := s.Close(); err != nil {
		logger.Warn("Failed to close metadata store: %v", err)
	}
}
