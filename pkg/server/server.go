// Package server runs the manager process: the broker endpoint, the worker
// pool executing requests against the namespace, the idle handle sweeper,
// the timing statistics fold and, optionally, the metrics endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/broker"
	"github.com/marmos91/authproxy/pkg/dispatcher"
	"github.com/marmos91/authproxy/pkg/handles"
	"github.com/marmos91/authproxy/pkg/integrity"
	"github.com/marmos91/authproxy/pkg/metrics"
	"github.com/marmos91/authproxy/pkg/stats"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// Config holds the manager's tunables.
type Config struct {
	Broker  broker.Config
	Workers dispatcher.Config

	// HandleIdleTimeout evicts handles not used for this long.
	HandleIdleTimeout time.Duration

	// SweepInterval is how often idle handles are looked for.
	SweepInterval time.Duration

	// StatsInterval is how often timing aggregates are folded and logged.
	StatsInterval time.Duration

	// ShutdownTimeout bounds the broker drain on shutdown.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.HandleIdleTimeout <= 0 {
		c.HandleIdleTimeout = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = stats.DefaultInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

// Options are the manager's collaborators. FileSystem and Signer are
// required. Nil metrics sinks disable the corresponding metrics; a nil
// MetricsServer runs no HTTP endpoint.
type Options struct {
	FileSystem vfs.FileSystem
	Signer     *integrity.Signer

	BrokerMetrics     broker.Metrics
	DispatcherMetrics dispatcher.Metrics
	HandleMetrics     handles.Metrics
	MetricsServer     *metrics.Server
}

// Manager owns every long-running manager component.
type Manager struct {
	config  Config
	broker  *broker.Broker
	workers *dispatcher.WorkerPool
	handles *handles.Table
	stats   *stats.Collector
	httpSrv *metrics.Server

	serveOnce sync.Once
}

// New wires the manager. Nothing runs until Serve.
func New(config Config, opts Options) (*Manager, error) {
	config.applyDefaults()

	table := handles.New(opts.HandleMetrics)
	collector := stats.New()

	d, err := dispatcher.New(dispatcher.Options{
		FileSystem: opts.FileSystem,
		Signer:     opts.Signer,
		Handles:    table,
		Stats:      collector,
		Metrics:    opts.DispatcherMetrics,
	})
	if err != nil {
		return nil, err
	}

	if config.Broker.ShutdownTimeout <= 0 {
		config.Broker.ShutdownTimeout = config.ShutdownTimeout
	}
	b := broker.New(config.Broker, nil, opts.BrokerMetrics)

	if opts.MetricsServer != nil {
		if err := metrics.Register(collector); err != nil {
			return nil, fmt.Errorf("register timing collector: %w", err)
		}
	}

	return &Manager{
		config:  config,
		broker:  b,
		workers: dispatcher.NewWorkerPool(config.Workers, d, b.Backend()),
		handles: table,
		stats:   collector,
		httpSrv: opts.MetricsServer,
	}, nil
}

// Ready is closed once the broker endpoint is bound.
func (m *Manager) Ready() <-chan struct{} {
	return m.broker.Ready()
}

// Addr returns the broker endpoint address. Valid after Ready is closed.
func (m *Manager) Addr() net.Addr {
	return m.broker.Addr()
}

// Stats returns the timing collector.
func (m *Manager) Stats() *stats.Collector {
	return m.stats
}

// Handles returns the handle table.
func (m *Manager) Handles() *handles.Table {
	return m.handles
}

type componentError struct {
	name string
	err  error
}

// Serve runs every component until ctx is done or one of them fails, then
// shuts everything down. It returns nil after a requested shutdown and the
// first component error otherwise. Serve may only be called once.
func (m *Manager) Serve(ctx context.Context) error {
	err := errors.New("manager: Serve has already been called")
	m.serveOnce.Do(func() {
		err = m.serve(ctx)
	})
	return err
}

func (m *Manager) serve(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	errChan := make(chan componentError, 4)
	var wg sync.WaitGroup

	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				errChan <- componentError{name: name, err: err}
			}
		}()
	}

	run("broker", m.broker.Serve)
	run("workers", m.workers.Run)
	run("handles", func(ctx context.Context) error {
		m.handles.Run(ctx, m.config.SweepInterval, m.config.HandleIdleTimeout)
		return nil
	})
	run("stats", func(ctx context.Context) error {
		m.stats.Run(ctx, m.config.StatsInterval)
		return nil
	})
	if m.httpSrv != nil {
		run("metrics", m.httpSrv.Start)
	}

	var result error
	select {
	case <-parent.Done():
		logger.Info("Manager shutdown signal received (reason: %v)", parent.Err())
	case ce := <-errChan:
		logger.Error("Manager component %s failed: %v", ce.name, ce.err)
		result = fmt.Errorf("%s: %w", ce.name, ce.err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), m.config.ShutdownTimeout)
	defer stopCancel()
	if err := m.broker.Stop(stopCtx); err != nil {
		logger.Warn("Broker did not stop cleanly: %v", err)
	}
	cancel()
	wg.Wait()

	for _, agg := range m.stats.Snapshot() {
		logger.Info("Latency %s", agg)
	}
	logger.Info("Manager stopped")
	return result
}
