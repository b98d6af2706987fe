package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/internal/protocol/wire"
)

// connection is one accepted client connection. Reads happen on the serve
// goroutine only; writes come from workers and are serialized by writeMu.
type connection struct {
	broker *Broker
	conn   net.Conn
	peer   string

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
	inflight  sync.WaitGroup
}

func newConnection(b *Broker, conn net.Conn) *connection {
	return &connection{
		broker: b,
		conn:   conn,
		peer:   conn.RemoteAddr().String(),
		closed: make(chan struct{}),
	}
}

// serve reads frames until the peer hangs up, the idle timeout fires or ctx
// is done, then waits for outstanding replies before closing.
func (c *connection) serve(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in broker connection handler from %s: %v", c.peer, r)
		}
		c.drain()
		c.close()
	}()

	// Unblock a pending read when the broker stops reading.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		if ctx.Err() != nil {
			return
		}

		if idle := c.broker.config.IdleTimeout; idle > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
				logger.Warn("Failed to set read deadline for %s: %v", c.peer, err)
			}
		}

		frame, err := wire.ReadRecord(c.conn, c.broker.config.MaxRecordSize)
		if err != nil {
			c.logReadError(ctx, err)
			return
		}

		if err := c.admit(ctx); err != nil {
			return
		}

		if err := c.relay(ctx, frame); err != nil {
			logger.Debug("Broker dropped frame from %s: %v", c.peer, err)
			return
		}
	}
}

func (c *connection) logReadError(ctx context.Context, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF):
		logger.Debug("Broker connection from %s closed by client", c.peer)
	case ctx.Err() != nil:
		logger.Debug("Broker connection from %s stopped reading: %v", c.peer, ctx.Err())
	case errors.As(err, &netErr) && netErr.Timeout():
		logger.Debug("Broker connection from %s idle timeout", c.peer)
	case errors.Is(err, wire.ErrRecordTooLarge):
		logger.Warn("Broker connection from %s sent an oversized frame: %v", c.peer, err)
	default:
		logger.Debug("Error reading frame from %s: %v", c.peer, err)
	}
}

// admit applies the inbound rate limit.
func (c *connection) admit(ctx context.Context) error {
	lim := c.broker.limiter
	if lim.Unlimited() || lim.Allow() {
		return nil
	}
	c.broker.metrics.RecordRateLimited()
	return lim.Wait(ctx)
}

func (c *connection) relay(ctx context.Context, frame []byte) error {
	c.inflight.Add(1)

	var once sync.Once
	done := func() { once.Do(c.inflight.Done) }

	env := &Envelope{
		Frame: frame,
		Peer:  c.peer,
		Reply: func(reply []byte) error {
			err := c.write(reply)
			if err == nil {
				done()
			}
			return err
		},
		Abort: func() {
			done()
			c.close()
		},
	}

	if err := c.broker.backend.Submit(ctx, env); err != nil {
		done()
		return err
	}

	c.broker.metrics.RecordFrameRelayed(len(frame))
	c.broker.metrics.SetQueueDepth(c.broker.backend.Len())
	return nil
}

// write sends one reply record under the write lock.
func (c *connection) write(reply []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if wt := c.broker.config.WriteTimeout; wt > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(wt)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	if err := wire.WriteRecord(c.conn, reply); err != nil {
		return fmt.Errorf("write reply to %s: %w", c.peer, err)
	}
	return nil
}

// drain waits until every relayed frame has been answered or aborted, or
// the connection is closed.
func (c *connection) drain() {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-c.closed:
	}
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
