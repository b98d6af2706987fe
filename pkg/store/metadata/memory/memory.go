// Package memory provides an in-memory metadata store. Content is lost when
// the process exits.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/marmos91/authproxy/pkg/store/metadata"
)

// Store keeps entries and the child index in maps guarded by one RWMutex.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*metadata.Entry
	children map[string]map[string]struct{}
	ino      uint64
	closed   bool
}

var _ metadata.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		entries:  make(map[string]*metadata.Entry),
		children: make(map[string]map[string]struct{}),
		ino:      metadata.RootIno,
	}
}

func (s *Store) Get(ctx context.Context, p string) (*metadata.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, metadata.ErrClosed
	}
	e, ok := s.entries[p]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *Store) Put(ctx context.Context, e *metadata.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return metadata.ErrClosed
	}
	s.put(e.Clone())
	return nil
}

func (s *Store) put(e *metadata.Entry) {
	s.entries[e.Path] = e

	parent, name := metadata.Split(e.Path)
	if parent == "" {
		return
	}
	set, ok := s.children[parent]
	if !ok {
		set = make(map[string]struct{})
		s.children[parent] = set
	}
	set[name] = struct{}{}
}

func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return metadata.ErrClosed
	}
	if _, ok := s.entries[p]; !ok {
		return metadata.ErrNotFound
	}
	s.delete(p)
	return nil
}

func (s *Store) delete(p string) {
	delete(s.entries, p)
	delete(s.children, p)

	parent, name := metadata.Split(p)
	if set, ok := s.children[parent]; ok {
		delete(set, name)
		if len(set) == 0 {
			delete(s.children, parent)
		}
	}
}

func (s *Store) Children(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, metadata.ErrClosed
	}
	if _, ok := s.entries[dir]; !ok {
		return nil, metadata.ErrNotFound
	}

	names := make([]string, 0, len(s.children[dir]))
	for name := range s.children[dir] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return metadata.ErrClosed
	}
	if _, ok := s.entries[oldPath]; !ok {
		return metadata.ErrNotFound
	}
	if _, ok := s.entries[newPath]; ok {
		return metadata.ErrExists
	}

	var moved []*metadata.Entry
	for p, e := range s.entries {
		if metadata.Within(p, oldPath) {
			moved = append(moved, e)
		}
	}

	// Remove first so a child index is never shared between the old and the
	// new location.
	for _, e := range moved {
		s.delete(e.Path)
	}
	for _, e := range moved {
		e.Path = metadata.Rebase(e.Path, oldPath, newPath)
		s.put(e)
	}
	return nil
}

func (s *Store) NextIno(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, metadata.ErrClosed
	}
	s.ino++
	return s.ino, nil
}

func (s *Store) Statistics(ctx context.Context) (metadata.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return metadata.Statistics{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return metadata.Statistics{}, metadata.ErrClosed
	}

	var st metadata.Statistics
	for _, e := range s.entries {
		st.Entries++
		if e.IsDir() {
			st.Directories++
			continue
		}
		st.Files++
		st.Bytes += uint64(max(e.Size, 0))
	}
	return st, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.entries = nil
	s.children = nil
	return nil
}
