// Package memory provides an in-memory content store.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/authproxy/pkg/store/content"
)

type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

var _ content.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) ReadAt(ctx context.Context, id string, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("read %s: %w", id, content.ErrContentNotFound)
	}
	if offset >= int64(len(buf)) {
		return 0, nil
	}
	return copy(p, buf[offset:]), nil
}

func (s *Store) WriteAt(ctx context.Context, id string, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[id] = content.Splice(s.data[id], data, offset)
	return nil
}

func (s *Store) Truncate(ctx context.Context, id string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[id] = content.Resize(s.data[id], size)
	return nil
}

func (s *Store) Size(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	buf, ok := s.data[id]
	if !ok {
		return 0, fmt.Errorf("size %s: %w", id, content.ErrContentNotFound)
	}
	return int64(len(buf)), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, id)
	return nil
}
