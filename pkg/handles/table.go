// Package handles tracks directory and file handles opened on behalf of
// remote callers, keyed by the session token the caller generated.
//
// Directories and files live in two independent registries, each guarded by
// its own mutex. Locks are held only while the maps are touched; disposing of
// a handle always happens after the lock is released.
package handles

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/vfs"
)

var (
	// ErrNotFound is returned when no live handle is registered for a token.
	ErrNotFound = errors.New("no such session token")

	// ErrTokenCollision is returned when a token is already registered by a
	// different caller identity.
	ErrTokenCollision = errors.New("session token already in use by another client")
)

// Kind distinguishes the two registries.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindFile      Kind = "file"
)

// Metrics receives table events. All methods must be safe for concurrent use.
type Metrics interface {
	SetOpenHandles(kind string, count int)
	RecordHandleEviction(kind string)
}

type noopMetrics struct{}

func (noopMetrics) SetOpenHandles(string, int)    {}
func (noopMetrics) RecordHandleEviction(string) {}

type closer interface {
	Close(ctx context.Context, einfo *vfs.ErrInfo) vfs.ReturnCode
}

type entry[H closer] struct {
	handle  H
	owner   vfs.Identity
	touched time.Time
}

type registry[H closer] struct {
	kind    Kind
	mu      sync.Mutex
	entries map[string]*entry[H]
}

func newRegistry[H closer](kind Kind) *registry[H] {
	return &registry[H]{kind: kind, entries: make(map[string]*entry[H])}
}

func (r *registry[H]) insert(token string, owner vfs.Identity, h H, now time.Time) (H, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[token]; ok {
		if e.owner != owner {
			var zero H
			return zero, false, ErrTokenCollision
		}
		e.touched = now
		return e.handle, false, nil
	}

	r.entries[token] = &entry[H]{handle: h, owner: owner, touched: now}
	return h, true, nil
}

func (r *registry[H]) lookup(token string, now time.Time) (H, vfs.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		var zero H
		return zero, vfs.Identity{}, ErrNotFound
	}
	e.touched = now
	return e.handle, e.owner, nil
}

func (r *registry[H]) remove(token string) (H, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[token]
	if !ok {
		var zero H
		return zero, ErrNotFound
	}
	delete(r.entries, token)
	return e.handle, nil
}

func (r *registry[H]) expire(cutoff time.Time) []H {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []H
	for token, e := range r.entries {
		if e.touched.Before(cutoff) {
			stale = append(stale, e.handle)
			delete(r.entries, token)
		}
	}
	return stale
}

func (r *registry[H]) drain() []H {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]H, 0, len(r.entries))
	for token, e := range r.entries {
		all = append(all, e.handle)
		delete(r.entries, token)
	}
	return all
}

func (r *registry[H]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Table holds the open directory and file handles of one dispatcher.
type Table struct {
	dirs    *registry[vfs.Directory]
	files   *registry[vfs.File]
	metrics Metrics
	now     func() time.Time
}

// New returns an empty table. A nil metrics sink disables metrics.
func New(metrics Metrics) *Table {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Table{
		dirs:    newRegistry[vfs.Directory](KindDirectory),
		files:   newRegistry[vfs.File](KindFile),
		metrics: metrics,
		now:     time.Now,
	}
}

// InsertDir registers h under token. If the token already maps to a live
// handle owned by the same identity, the existing handle is returned with
// inserted == false and h is left untouched for the caller to dispose of.
func (t *Table) InsertDir(token string, owner vfs.Identity, h vfs.Directory) (vfs.Directory, bool, error) {
	stored, inserted, err := t.dirs.insert(token, owner, h, t.now())
	if inserted {
		t.metrics.SetOpenHandles(string(KindDirectory), t.dirs.len())
	}
	return stored, inserted, err
}

// InsertFile is InsertDir for files.
func (t *Table) InsertFile(token string, owner vfs.Identity, h vfs.File) (vfs.File, bool, error) {
	stored, inserted, err := t.files.insert(token, owner, h, t.now())
	if inserted {
		t.metrics.SetOpenHandles(string(KindFile), t.files.len())
	}
	return stored, inserted, err
}

// LookupDir returns the directory registered under token and its owner.
func (t *Table) LookupDir(token string) (vfs.Directory, vfs.Identity, error) {
	return t.dirs.lookup(token, t.now())
}

// LookupFile returns the file registered under token and its owner.
func (t *Table) LookupFile(token string) (vfs.File, vfs.Identity, error) {
	return t.files.lookup(token, t.now())
}

// RemoveDir unregisters token and hands the directory back for disposal.
func (t *Table) RemoveDir(token string) (vfs.Directory, error) {
	h, err := t.dirs.remove(token)
	if err == nil {
		t.metrics.SetOpenHandles(string(KindDirectory), t.dirs.len())
	}
	return h, err
}

// RemoveFile unregisters token and hands the file back for disposal.
func (t *Table) RemoveFile(token string) (vfs.File, error) {
	h, err := t.files.remove(token)
	if err == nil {
		t.metrics.SetOpenHandles(string(KindFile), t.files.len())
	}
	return h, err
}

// Len returns the number of live handles of a kind.
func (t *Table) Len(kind Kind) int {
	if kind == KindDirectory {
		return t.dirs.len()
	}
	return t.files.len()
}

// Sweep evicts handles not touched for longer than idle and closes them.
// It returns the number of evicted handles.
func (t *Table) Sweep(ctx context.Context, idle time.Duration) int {
	cutoff := t.now().Add(-idle)

	dirs := t.dirs.expire(cutoff)
	files := t.files.expire(cutoff)

	for _, d := range dirs {
		var einfo vfs.ErrInfo
		d.Close(ctx, &einfo)
		t.metrics.RecordHandleEviction(string(KindDirectory))
	}
	for _, f := range files {
		var einfo vfs.ErrInfo
		if rc := f.Close(ctx, &einfo); rc.Failed() {
			logger.Warn("Evicted file %s did not close cleanly: %s", f.Name(), einfo)
		}
		t.metrics.RecordHandleEviction(string(KindFile))
	}

	if n := len(dirs) + len(files); n > 0 {
		t.metrics.SetOpenHandles(string(KindDirectory), t.dirs.len())
		t.metrics.SetOpenHandles(string(KindFile), t.files.len())
		logger.Info("Evicted %d idle handles (%d directories, %d files)", n, len(dirs), len(files))
		return n
	}
	return 0
}

// Run sweeps every interval until ctx is done, then closes every remaining
// handle.
func (t *Table) Run(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.CloseAll(context.Background())
			return
		case <-ticker.C:
			t.Sweep(ctx, idle)
		}
	}
}

// CloseAll closes and unregisters every handle.
func (t *Table) CloseAll(ctx context.Context) {
	for _, d := range t.dirs.drain() {
		var einfo vfs.ErrInfo
		d.Close(ctx, &einfo)
	}
	for _, f := range t.files.drain() {
		var einfo vfs.ErrInfo
		f.Close(ctx, &einfo)
	}
	t.metrics.SetOpenHandles(string(KindDirectory), 0)
	t.metrics.SetOpenHandles(string(KindFile), 0)
}
