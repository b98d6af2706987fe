package broker

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/authproxy/internal/protocol/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	noopMetrics
	accepted    atomic.Int32
	closed      atomic.Int32
	relayed     atomic.Int32
	rateLimited atomic.Int32
}

func (m *countingMetrics) RecordConnectionAccepted() { m.accepted.Add(1) }
func (m *countingMetrics) RecordConnectionClosed()   { m.closed.Add(1) }
func (m *countingMetrics) RecordFrameRelayed(int)    { m.relayed.Add(1) }
func (m *countingMetrics) RecordRateLimited()        { m.rateLimited.Add(1) }

func startBroker(t *testing.T, cfg Config, metrics Metrics) (*Broker, context.CancelFunc) {
	t.Helper()
	if cfg.Listen == "" {
		cfg.Listen = "127.0.0.1:0"
	}

	b := New(cfg, nil, metrics)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- b.Serve(ctx) }()

	select {
	case <-b.Ready():
	case err := <-errCh:
		t.Fatalf("broker failed to start: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not become ready")
	}

	t.Cleanup(func() {
		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = b.Stop(stopCtx)
		b.Backend().Close()
	})
	return b, cancel
}

// echoWorker answers every envelope with its own frame prefixed by "re:".
func echoWorker(ctx context.Context, backend *Backend) {
	for {
		env, err := backend.Receive(ctx)
		if err != nil {
			return
		}
		_ = env.Reply(append([]byte("re:"), env.Frame...))
	}
}

func dial(t *testing.T, b *Broker) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", b.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRelaysFramesAndReplies(t *testing.T) {
	m := &countingMetrics{}
	b, _ := startBroker(t, Config{}, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoWorker(ctx, b.Backend())

	conn := dial(t, b)
	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, wire.WriteRecord(conn, []byte(msg)))
		reply, err := wire.ReadRecord(conn, 0)
		require.NoError(t, err)
		assert.Equal(t, "re:"+msg, string(reply))
	}

	assert.Equal(t, int32(1), m.accepted.Load())
	assert.Equal(t, int32(3), m.relayed.Load())
}

func TestConcurrentConnections(t *testing.T) {
	b, _ := startBroker(t, Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for i := 0; i < 4; i++ {
		go echoWorker(ctx, b.Backend())
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", b.Addr().String())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()

			for j := 0; j < 20; j++ {
				if !assert.NoError(t, wire.WriteRecord(conn, []byte("ping"))) {
					return
				}
				reply, err := wire.ReadRecord(conn, 0)
				if !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, "re:ping", string(reply))
			}
		}()
	}
	wg.Wait()
}

func TestBindFailureIsReturned(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	b := New(Config{Listen: taken.Addr().String()}, nil, nil)
	err = b.Serve(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to bind")
}

func TestAbortClosesConnection(t *testing.T) {
	b, _ := startBroker(t, Config{}, nil)

	go func() {
		env, err := b.Backend().Receive(context.Background())
		if err == nil {
			env.Abort()
		}
	}()

	conn := dial(t, b)
	require.NoError(t, wire.WriteRecord(conn, []byte("x")))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err := wire.ReadRecord(conn, 0)
	require.Error(t, err)

	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection should be reset, not time out")
	}
}

func TestIdleTimeoutClosesConnection(t *testing.T) {
	b, _ := startBroker(t, Config{IdleTimeout: 100 * time.Millisecond}, nil)

	conn := dial(t, b)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	require.Error(t, err)

	assert.Eventually(t, func() bool { return b.ActiveConnections() == 0 },
		time.Second, 10*time.Millisecond)
}

func TestStopForceClosesStuckConnections(t *testing.T) {
	b, cancel := startBroker(t, Config{}, nil)

	conn := dial(t, b)
	// A frame nobody answers keeps the connection in flight.
	require.NoError(t, wire.WriteRecord(conn, []byte("stuck")))
	assert.Eventually(t, func() bool { return b.Backend().Len() == 1 },
		time.Second, 10*time.Millisecond)

	cancel()
	ctx, stop := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer stop()

	start := time.Now()
	err := b.Stop(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Zero(t, b.ActiveConnections())
}

func TestMaxConnections(t *testing.T) {
	b, _ := startBroker(t, Config{MaxConnections: 1}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoWorker(ctx, b.Backend())

	first := dial(t, b)
	require.NoError(t, wire.WriteRecord(first, []byte("a")))
	_, err := wire.ReadRecord(first, 0)
	require.NoError(t, err)

	// The second connection is accepted by the kernel but not served.
	second := dial(t, b)
	require.NoError(t, wire.WriteRecord(second, []byte("b")))
	_ = second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err = wire.ReadRecord(second, 0)
	require.Error(t, err)

	require.NoError(t, first.Close())
	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := wire.ReadRecord(second, 0)
	require.NoError(t, err)
	assert.Equal(t, "re:b", string(reply))
}

func TestRateLimit(t *testing.T) {
	m := &countingMetrics{}
	b, _ := startBroker(t, Config{RateLimit: RateLimitConfig{RequestsPerSecond: 5, Burst: 5}}, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go echoWorker(ctx, b.Backend())

	conn := dial(t, b)
	for i := 0; i < 7; i++ {
		require.NoError(t, wire.WriteRecord(conn, []byte("r")))
		_, err := wire.ReadRecord(conn, 0)
		require.NoError(t, err)
	}

	assert.GreaterOrEqual(t, m.rateLimited.Load(), int32(1))
}

func TestBackend(t *testing.T) {
	backend := NewBackend(1)
	ctx := context.Background()

	got, err := backend.Attach(ctx)
	require.NoError(t, err)
	assert.Same(t, backend, got)

	require.NoError(t, backend.Submit(ctx, &Envelope{Frame: []byte("a")}))

	full, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, backend.Submit(full, &Envelope{}), context.DeadlineExceeded)

	env, err := backend.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", string(env.Frame))

	backend.Close()
	backend.Close()

	_, err = backend.Receive(ctx)
	assert.ErrorIs(t, err, ErrBackendClosed)
	_, err = backend.Attach(ctx)
	assert.ErrorIs(t, err, ErrBackendClosed)
	assert.ErrorIs(t, backend.Submit(ctx, &Envelope{}), ErrBackendClosed)
}
