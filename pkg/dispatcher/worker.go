package dispatcher

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/authproxy/internal/backoff"
	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/broker"
)

// ErrNoWorkers is returned by Run when every worker gave up re-attaching to
// the backend while the pool was still supposed to run.
var ErrNoWorkers = errors.New("all dispatcher workers gave up")

// Config configures the worker pool.
type Config struct {
	// Workers is the number of concurrent workers. Default: 10.
	Workers int `mapstructure:"workers" validate:"min=0"`

	// ReplyRetries bounds reply delivery attempts before the originating
	// connection is reset. Default: 40.
	ReplyRetries int `mapstructure:"reply_retries" validate:"min=0"`

	// ReplyRetryInterval is the pause between two delivery attempts.
	ReplyRetryInterval time.Duration `mapstructure:"reply_retry_interval" validate:"min=0"`

	// Reconnect is the bounded schedule used to re-attach to the backend.
	Reconnect backoff.Policy `mapstructure:"reconnect"`
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.ReplyRetries <= 0 {
		c.ReplyRetries = 40
	}
	if c.ReplyRetryInterval <= 0 {
		c.ReplyRetryInterval = 10 * time.Millisecond
	}
	if c.Reconnect.MaxRetries == 0 {
		c.Reconnect.MaxRetries = 10
	}
	c.Reconnect.ApplyDefaults()
}

// Endpoint hands out the backend workers receive from.
type Endpoint interface {
	Attach(ctx context.Context) (*broker.Backend, error)
}

// WorkerPool runs a fixed number of workers that each loop
// receive → dispatch → reply on the backend.
type WorkerPool struct {
	config     Config
	dispatcher *Dispatcher
	endpoint   Endpoint
	active     atomic.Int32
}

// NewWorkerPool returns a pool that is started with Run.
func NewWorkerPool(config Config, d *Dispatcher, endpoint Endpoint) *WorkerPool {
	config.applyDefaults()
	return &WorkerPool{config: config, dispatcher: d, endpoint: endpoint}
}

// Active returns the number of workers attached to the backend.
func (p *WorkerPool) Active() int {
	return int(p.active.Load())
}

// Run starts the workers and blocks until they all exit. It returns nil when
// ctx is done and ErrNoWorkers when every worker gave up before that.
func (p *WorkerPool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for id := 0; id < p.config.Workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(id)
	}

	logger.Info("Started %d dispatcher worker(s)", p.config.Workers)
	wg.Wait()

	if ctx.Err() != nil {
		logger.Info("Dispatcher workers stopped")
		return nil
	}
	return ErrNoWorkers
}

func (p *WorkerPool) setActive(delta int32) {
	p.dispatcher.metrics.SetActiveWorkers(int(p.active.Add(delta)))
}

func (p *WorkerPool) attach(ctx context.Context, id int) (*broker.Backend, error) {
	var backend *broker.Backend
	err := backoff.Retry(ctx, p.config.Reconnect, func() error {
		var err error
		backend, err = p.endpoint.Attach(ctx)
		return err
	}, func(err error, wait time.Duration) {
		logger.Warn("Worker %d cannot attach to backend, retrying in %v: %v", id, wait, err)
	})
	return backend, err
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	var backend *broker.Backend

	for {
		if backend == nil {
			b, err := p.attach(ctx, id)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("Worker %d giving up: %v", id, err)
				}
				return
			}
			backend = b
			p.setActive(1)
		}

		env, err := backend.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.setActive(-1)
				return
			}
			if errors.Is(err, broker.ErrBackendClosed) {
				logger.Warn("Worker %d lost the backend, re-attaching", id)
				backend = nil
				p.setActive(-1)
			}
			continue
		}

		reply := p.dispatcher.Handle(ctx, env.Frame)
		p.deliver(ctx, id, env, reply)
	}
}

// deliver sends reply, retrying a bounded number of times. When every
// attempt fails the originating connection is reset so the client notices.
func (p *WorkerPool) deliver(ctx context.Context, id int, env *broker.Envelope, reply []byte) {
	var err error

retry:
	for attempt := 1; attempt <= p.config.ReplyRetries; attempt++ {
		if err = env.Reply(reply); err == nil {
			return
		}
		if errors.Is(err, net.ErrClosed) {
			break
		}

		select {
		case <-ctx.Done():
			break retry
		case <-time.After(p.config.ReplyRetryInterval):
		}
	}

	logger.Warn("Worker %d dropped reply to %s: %v", id, env.Peer, err)
	p.dispatcher.metrics.RecordReplyDropped()
	if env.Abort != nil {
		env.Abort()
	}
}
