// Package broker accepts proxy client connections on the public endpoint and
// relays their request frames to the dispatcher workers.
//
// The broker never decodes frames and never sees replies: every envelope it
// queues carries a Reply function bound to the originating connection, and
// the worker that picks the envelope up writes the response there directly.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/marmos91/authproxy/internal/ratelimiter"
)

// RateLimitConfig throttles inbound frames across all connections.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. Zero disables limiting.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the bucket size.
	Burst uint `mapstructure:"burst"`
}

// Config configures the public endpoint.
type Config struct {
	// Listen is the TCP address of the public endpoint, e.g. ":1100".
	Listen string `mapstructure:"listen" validate:"required"`

	// MaxConnections caps concurrent client connections. Zero means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// IdleTimeout closes connections with no inbound frame for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// WriteTimeout bounds a single reply write.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for connections to drain.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MaxRecordSize bounds a single request frame.
	MaxRecordSize int `mapstructure:"max_record_size" validate:"min=0"`

	// QueueSize is the backend queue capacity.
	QueueSize int `mapstructure:"queue_size" validate:"min=0"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":1100"
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 5 * time.Minute
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = wire.DefaultMaxRecordSize
	}
	if c.QueueSize == 0 {
		c.QueueSize = DefaultQueueSize
	}
}

// Metrics receives broker events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()
	RecordConnectionForceClosed()
	RecordFrameRelayed(bytes int)
	RecordRateLimited()
	SetQueueDepth(depth int)
}

type noopMetrics struct{}

func (noopMetrics) SetActiveConnections(int32)   {}
func (noopMetrics) RecordConnectionAccepted()    {}
func (noopMetrics) RecordConnectionClosed()      {}
func (noopMetrics) RecordConnectionForceClosed() {}
func (noopMetrics) RecordFrameRelayed(int)       {}
func (noopMetrics) RecordRateLimited()           {}
func (noopMetrics) SetQueueDepth(int)            {}

// Broker owns the public listener and the backend queue.
type Broker struct {
	config  Config
	backend *Backend
	metrics Metrics
	limiter *ratelimiter.Limiter

	listenerMu sync.Mutex
	listener   net.Listener
	ready      chan struct{}

	activeConns   sync.WaitGroup
	connCount     atomic.Int32
	connSemaphore chan struct{}
	conns         sync.Map // remote address -> *connection

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// connCtx is cancelled once the broker stops reading.
	connCtx    context.Context
	cancelConn context.CancelFunc
}

// New creates a broker. A nil backend gets a fresh one sized from the config
// and a nil metrics sink disables metrics.
func New(config Config, backend *Backend, metrics Metrics) *Broker {
	config.applyDefaults()

	if backend == nil {
		backend = NewBackend(config.QueueSize)
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	var sem chan struct{}
	if config.MaxConnections > 0 {
		sem = make(chan struct{}, config.MaxConnections)
	}

	connCtx, cancel := context.WithCancel(context.Background())

	return &Broker{
		config:        config,
		backend:       backend,
		metrics:       metrics,
		limiter:       ratelimiter.New(config.RateLimit.RequestsPerSecond, config.RateLimit.Burst),
		ready:         make(chan struct{}),
		connSemaphore: sem,
		shutdown:      make(chan struct{}),
		connCtx:       connCtx,
		cancelConn:    cancel,
	}
}

// Backend returns the worker-facing endpoint.
func (b *Broker) Backend() *Backend {
	return b.backend
}

// Ready is closed once the listener is bound.
func (b *Broker) Ready() <-chan struct{} {
	return b.ready
}

// Addr returns the bound address, or nil before Ready.
func (b *Broker) Addr() net.Addr {
	select {
	case <-b.ready:
		return b.listener.Addr()
	default:
		return nil
	}
}

// ActiveConnections returns the number of open client connections.
func (b *Broker) ActiveConnections() int32 {
	return b.connCount.Load()
}

// Serve binds the public endpoint and accepts connections until ctx is done
// or Stop is called. A bind failure is returned immediately.
func (b *Broker) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", b.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to bind broker endpoint %s: %w", b.config.Listen, err)
	}

	b.listenerMu.Lock()
	select {
	case <-b.shutdown:
		b.listenerMu.Unlock()
		_ = listener.Close()
		return nil
	default:
	}
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ready)

	logger.Info("Broker listening on %s", listener.Addr())
	logger.Debug("Broker config: max_connections=%d idle_timeout=%v write_timeout=%v rate_limit=%d/s",
		b.config.MaxConnections, b.config.IdleTimeout, b.config.WriteTimeout, b.limiter.Limit())

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Broker shutdown signal received: %v", ctx.Err())
			b.initiateShutdown()
		case <-b.shutdown:
		}
	}()

	for {
		if b.connSemaphore != nil {
			select {
			case b.connSemaphore <- struct{}{}:
			case <-b.shutdown:
				return nil
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}

			select {
			case <-b.shutdown:
				return nil
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Debug("Error accepting broker connection: %v", err)
			continue
		}

		b.track(tcpConn)
	}
}

func (b *Broker) track(tcpConn net.Conn) {
	c := newConnection(b, tcpConn)
	addr := tcpConn.RemoteAddr().String()

	b.activeConns.Add(1)
	current := b.connCount.Add(1)
	b.conns.Store(addr, c)

	b.metrics.RecordConnectionAccepted()
	b.metrics.SetActiveConnections(current)
	logger.Debug("Broker connection accepted from %s (active: %d)", addr, current)

	go func() {
		defer func() {
			b.conns.Delete(addr)
			b.activeConns.Done()
			current := b.connCount.Add(-1)
			if b.connSemaphore != nil {
				<-b.connSemaphore
			}

			b.metrics.RecordConnectionClosed()
			b.metrics.SetActiveConnections(current)
			logger.Debug("Broker connection closed from %s (active: %d)", addr, current)
		}()

		c.serve(b.connCtx)
	}()
}

func (b *Broker) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		b.listenerMu.Lock()
		close(b.shutdown)
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("Error closing broker listener: %v", err)
			}
		}
		b.listenerMu.Unlock()

		// Stop reading new frames. Connections stay open so in-flight
		// replies can still be delivered until the drain deadline.
		b.cancelConn()
	})
}

// Stop closes the listener, stops reading from every connection and waits
// for connections to drain. Connections still open when ctx is done, or after
// ShutdownTimeout when ctx has no deadline, are force-closed.
func (b *Broker) Stop(ctx context.Context) error {
	b.initiateShutdown()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.ShutdownTimeout)
		defer cancel()
	}

	active := b.connCount.Load()
	if active > 0 {
		logger.Info("Broker graceful shutdown: waiting for %d active connection(s)", active)
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Broker stopped")
		return nil
	case <-ctx.Done():
		remaining := b.connCount.Load()
		logger.Warn("Broker shutdown deadline exceeded: force-closing %d connection(s)", remaining)
		b.forceCloseConnections()
		<-done
		return fmt.Errorf("broker shutdown: %d connection(s) force-closed", remaining)
	}
}

func (b *Broker) forceCloseConnections() {
	b.conns.Range(func(key, value any) bool {
		c := value.(*connection)
		c.close()
		b.metrics.RecordConnectionForceClosed()
		logger.Debug("Force-closed broker connection to %s", key)
		return true
	})
}
