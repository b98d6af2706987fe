// Package pool keeps a fixed set of framed TCP connections from the edge to
// the manager's broker.
//
// Every connection serves one request/response exchange at a time. Callers
// block in Acquire until a connection is free and must hand it back with
// Release, typically in a defer.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/authproxy/internal/backoff"
	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/internal/protocol/wire"
)

var (
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("connection pool closed")

	// ErrTimeout is returned when the manager did not answer within the
	// receive timeout.
	ErrTimeout = errors.New("receive timeout")
)

// Config configures the pool.
type Config struct {
	// Address of the manager's broker endpoint.
	Address string `mapstructure:"manager_address" validate:"required"`

	// Size is the number of connections. Default: 5.
	Size int `mapstructure:"pool_size" validate:"min=0"`

	// ReceiveTimeout bounds one exchange. Default: 5s.
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout" validate:"min=0"`

	// DialTimeout bounds one connect attempt. Default: 5s.
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"min=0"`

	// MaxRecordSize bounds a response frame.
	MaxRecordSize int `mapstructure:"max_record_size" validate:"min=0"`

	// Connect is the startup retry schedule. Retries never run out: the
	// manager may come up after the edge.
	Connect backoff.Policy `mapstructure:"connect"`
}

func (c *Config) applyDefaults() {
	if c.Size <= 0 {
		c.Size = 5
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = 5 * time.Second
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.MaxRecordSize <= 0 {
		c.MaxRecordSize = wire.DefaultMaxRecordSize
	}
	c.Connect.MaxRetries = 0
	c.Connect.ApplyDefaults()
}

// Metrics receives pool events.
type Metrics interface {
	SetPoolInUse(n int)
	RecordReconnect(ok bool)
}

type noopMetrics struct{}

func (noopMetrics) SetPoolInUse(int)     {}
func (noopMetrics) RecordReconnect(bool) {}

// Pool is a fixed-size set of connections.
type Pool struct {
	config  Config
	metrics Metrics

	free  chan *Conn
	conns []*Conn
	inUse atomic.Int32

	// mu orders Release's push onto free against Close's drain, so no
	// connection is parked after the drain has run.
	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

// New connects every slot, retrying each one with exponential backoff until
// it succeeds or ctx is done. A nil metrics sink disables metrics.
func New(ctx context.Context, config Config, metrics Metrics) (*Pool, error) {
	config.applyDefaults()
	if config.Address == "" {
		return nil, errors.New("pool: manager address is required")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	p := &Pool{
		config:  config,
		metrics: metrics,
		free:    make(chan *Conn, config.Size),
		conns:   make([]*Conn, 0, config.Size),
		closed:  make(chan struct{}),
	}

	for i := 0; i < config.Size; i++ {
		c := &Conn{id: i, pool: p}

		err := backoff.Retry(ctx, config.Connect, func() error {
			return c.dial(ctx)
		}, func(err error, wait time.Duration) {
			logger.Warn("Pool connection %d to %s failed, retrying in %v: %v", i, config.Address, wait, err)
		})
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("pool: connect slot %d: %w", i, err)
		}

		p.conns = append(p.conns, c)
		p.free <- c
	}

	logger.Info("Connection pool ready: %d connection(s) to %s", config.Size, config.Address)
	return p, nil
}

// Acquire blocks until a connection is free, ctx is done or the pool closes.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	select {
	case <-p.closed:
		return nil, ErrClosed
	default:
	}

	select {
	case c := <-p.free:
		p.metrics.SetPoolInUse(int(p.inUse.Add(1)))
		return c, nil
	case <-p.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns c to the pool. It never blocks. Connections released after
// Close are closed.
func (p *Pool) Release(c *Conn) {
	if c == nil {
		return
	}
	p.metrics.SetPoolInUse(int(p.inUse.Add(-1)))

	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closed:
		c.reset()
		return
	default:
	}

	select {
	case p.free <- c:
	default:
		// Only reachable if a Conn is released twice.
		logger.Error("Pool connection %d released twice", c.id)
	}
}

// InUse returns the number of checked-out connections.
func (p *Pool) InUse() int {
	return int(p.inUse.Load())
}

// Size returns the pool size.
func (p *Pool) Size() int {
	return p.config.Size
}

// ReceiveTimeout returns the configured per-exchange timeout.
func (p *Pool) ReceiveTimeout() time.Duration {
	return p.config.ReceiveTimeout
}

// Close closes every idle connection. Checked-out connections are closed on
// Release.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()

		close(p.closed)
		for {
			select {
			case c := <-p.free:
				c.reset()
			default:
				return
			}
		}
	})
}
