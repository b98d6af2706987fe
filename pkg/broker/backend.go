package broker

import (
	"context"
	"errors"
	"sync"
)

// DefaultQueueSize is the capacity of the backend queue.
const DefaultQueueSize = 1024

// ErrBackendClosed is returned to workers once the backend has been closed.
var ErrBackendClosed = errors.New("broker backend closed")

// Envelope carries one request frame from a public connection to a worker.
//
// Reply writes the encoded response back to the originating connection. Abort
// resets that connection; workers call it when a reply cannot be delivered.
type Envelope struct {
	Frame []byte
	Peer  string
	Reply func([]byte) error
	Abort func()
}

// Backend is the worker-facing side of the broker: a bounded in-process queue
// of envelopes.
type Backend struct {
	queue     chan *Envelope
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBackend returns a backend with room for size pending envelopes.
func NewBackend(size int) *Backend {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Backend{
		queue:  make(chan *Envelope, size),
		closed: make(chan struct{}),
	}
}

// Attach returns the backend if it still accepts workers.
func (b *Backend) Attach(ctx context.Context) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-b.closed:
		return nil, ErrBackendClosed
	default:
		return b, nil
	}
}

// Submit queues env, blocking while the queue is full.
func (b *Backend) Submit(ctx context.Context, env *Envelope) error {
	select {
	case <-b.closed:
		return ErrBackendClosed
	default:
	}

	select {
	case b.queue <- env:
		return nil
	case <-b.closed:
		return ErrBackendClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until an envelope is available. Envelopes still queued when
// the backend closes are dropped.
func (b *Backend) Receive(ctx context.Context) (*Envelope, error) {
	select {
	case env := <-b.queue:
		return env, nil
	case <-b.closed:
		return nil, ErrBackendClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len returns the number of queued envelopes.
func (b *Backend) Len() int {
	return len(b.queue)
}

// Close detaches every worker. It is safe to call more than once.
func (b *Backend) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}
