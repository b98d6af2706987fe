package pool

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/internal/protocol/wire"
)

// Conn is one framed connection to the manager. It is used by a single
// goroutine at a time: whoever holds it after Acquire.
//
// A transport error closes the socket and leaves the Conn broken. The next
// RoundTrip redials lazily, so a reply that arrives after a receive timeout
// can never be mistaken for the answer to a later request.
type Conn struct {
	id   int
	pool *Pool
	conn net.Conn
}

// ID identifies the pool slot, for logging.
func (c *Conn) ID() int {
	return c.id
}

// Broken reports whether the next RoundTrip will redial.
func (c *Conn) Broken() bool {
	return c.conn == nil
}

func (c *Conn) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: c.pool.config.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.pool.config.Address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.pool.config.Address, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	c.conn = conn
	return nil
}

// RoundTrip sends one request frame and waits for the response carrying the
// same XID. Responses with any other XID are stale leftovers and are dropped.
// The wait is bounded by the receive timeout and by ctx.
func (c *Conn) RoundTrip(ctx context.Context, xid uint32, frame []byte) ([]byte, error) {
	if c.conn == nil {
		if err := c.dial(ctx); err != nil {
			c.pool.metrics.RecordReconnect(false)
			return nil, err
		}
		c.pool.metrics.RecordReconnect(true)
		logger.Debug("Pool connection %d re-established to %s", c.id, c.pool.config.Address)
	}

	conn := c.conn

	deadline := time.Now().Add(c.pool.config.ReceiveTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		c.reset()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	// Wake a blocked read when ctx is cancelled early.
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := wire.WriteRecord(conn, frame); err != nil {
		c.reset()
		return nil, c.wrap(ctx, "send", err)
	}

	for {
		reply, err := wire.ReadRecord(conn, c.pool.config.MaxRecordSize)
		if err != nil {
			c.reset()
			return nil, c.wrap(ctx, "receive", err)
		}

		got, err := wire.PeekXID(reply)
		if err != nil {
			c.reset()
			return nil, err
		}
		if got == xid {
			return reply, nil
		}
		logger.Debug("Pool connection %d discarded stale reply xid=0x%x (want 0x%x)", c.id, got, xid)
	}
}

func (c *Conn) wrap(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", stage, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w", stage, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", stage, err)
}

// reset closes the socket and marks the Conn broken.
func (c *Conn) reset() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
