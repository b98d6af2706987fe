// Package cache puts a ristretto read cache in front of any metadata store.
//
// Only point lookups are cached. Writes invalidate the written path; a rename
// clears the whole cache because it moves an unbounded number of paths.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/marmos91/authproxy/pkg/store/metadata"
)

// Config holds the cache options.
type Config struct {
	// MaxEntries bounds the number of cached entries. Default: 100000.
	MaxEntries int64 `mapstructure:"max_entries" validate:"min=0"`

	// TTL bounds how long an entry is served without consulting the store.
	// Default: 30s.
	TTL time.Duration `mapstructure:"ttl" validate:"min=0"`
}

func (c *Config) applyDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 100000
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
}

// Metrics receives cache events.
type Metrics interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheInvalidation(reason string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCacheHit()                {}
func (noopMetrics) RecordCacheMiss()               {}
func (noopMetrics) RecordCacheInvalidation(string) {}

// Store wraps a metadata.Store.
//
// The mutex orders cache fills against invalidation: a fill holds the read
// lock until ristretto has applied the set, and writers hold the write lock
// while they change the store and drop the key. A fill therefore never
// resurrects a value that a concurrent write replaced.
type Store struct {
	inner   metadata.Store
	cache   *ristretto.Cache[string, *metadata.Entry]
	ttl     time.Duration
	metrics Metrics
	mu      sync.RWMutex
}

var _ metadata.Store = (*Store)(nil)

// New wraps inner. A nil metrics sink disables metrics.
func New(inner metadata.Store, config Config, metrics Metrics) (*Store, error) {
	config.applyDefaults()
	if metrics == nil {
		metrics = noopMetrics{}
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, *metadata.Entry]{
		NumCounters: config.MaxEntries * 10,
		MaxCost:     config.MaxEntries,
		BufferItems: 64,

		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create metadata cache: %w", err)
	}

	return &Store{inner: inner, cache: c, ttl: config.TTL, metrics: metrics}, nil
}

func (s *Store) Get(ctx context.Context, p string) (*metadata.Entry, error) {
	if e, ok := s.cache.Get(p); ok {
		s.metrics.RecordCacheHit()
		return e.Clone(), nil
	}
	s.metrics.RecordCacheMiss()

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.inner.Get(ctx, p)
	if err != nil {
		return nil, err
	}
	s.cache.SetWithTTL(p, e.Clone(), 1, s.ttl)
	s.cache.Wait()
	return e, nil
}

func (s *Store) invalidate(reason string, paths ...string) {
	for _, p := range paths {
		s.cache.Del(p)
	}
	s.metrics.RecordCacheInvalidation(reason)
}

func (s *Store) Put(ctx context.Context, e *metadata.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inner.Put(ctx, e)
	s.invalidate("put", e.Path)
	return err
}

func (s *Store) Delete(ctx context.Context, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inner.Delete(ctx, p)
	s.invalidate("delete", p)
	return err
}

func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inner.Rename(ctx, oldPath, newPath)
	s.cache.Clear()
	s.metrics.RecordCacheInvalidation("rename")
	return err
}

func (s *Store) Children(ctx context.Context, dir string) ([]string, error) {
	return s.inner.Children(ctx, dir)
}

func (s *Store) NextIno(ctx context.Context) (uint64, error) {
	return s.inner.NextIno(ctx)
}

func (s *Store) Statistics(ctx context.Context) (metadata.Statistics, error) {
	return s.inner.Statistics(ctx)
}

func (s *Store) Close() error {
	s.cache.Close()
	return s.inner.Close()
}
