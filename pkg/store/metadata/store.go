// Package metadata defines the path-keyed metadata store used by the
// reference namespace.
//
// Stores are deliberately dumb: they keep entries keyed by cleaned absolute
// path plus a child index per directory. Structural rules (parents must exist,
// directories must be empty before removal) are enforced by the namespace,
// which serializes structural changes.
package metadata

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when no entry exists at the path.
	ErrNotFound = errors.New("metadata: entry not found")

	// ErrExists is returned when an entry already occupies the path.
	ErrExists = errors.New("metadata: entry already exists")

	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("metadata: store closed")
)

// RootIno is the inode number of "/".
const RootIno uint64 = 1

// Entry is the metadata of a file or directory. Times are Unix nanoseconds.
type Entry struct {
	Path      string `json:"path"`
	Ino       uint64 `json:"ino"`
	Mode      uint32 `json:"mode"`
	Nlink     uint32 `json:"nlink"`
	UID       uint32 `json:"uid"`
	GID       uint32 `json:"gid"`
	Size      int64  `json:"size"`
	Atime     int64  `json:"atime"`
	Mtime     int64  `json:"mtime"`
	Ctime     int64  `json:"ctime"`
	ContentID string `json:"content_id,omitempty"`
}

const (
	modeTypeMask uint32 = 0o170000
	modeDir      uint32 = 0o040000
)

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool {
	return e.Mode&modeTypeMask == modeDir
}

// Clone returns a copy safe to hand out of a store.
func (e *Entry) Clone() *Entry {
	c := *e
	return &c
}

// Statistics summarizes the store content.
type Statistics struct {
	Entries     uint64
	Files       uint64
	Directories uint64
	Bytes       uint64
}

// Store is the metadata store interface.
//
// Put creates or replaces the entry at e.Path and indexes it under its parent.
// Delete removes a single entry; it does not recurse. Rename moves the entry at
// oldPath and every entry below it to newPath and fails with ErrExists if
// newPath is taken.
type Store interface {
	Get(ctx context.Context, p string) (*Entry, error)
	Put(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, p string) error
	Children(ctx context.Context, dir string) ([]string, error)
	Rename(ctx context.Context, oldPath, newPath string) error
	NextIno(ctx context.Context) (uint64, error)
	Statistics(ctx context.Context) (Statistics, error)
	Close() error
}

// Clean normalizes p into a cleaned absolute path.
func Clean(p string) string {
	return path.Clean("/" + p)
}

// Split returns the parent directory and base name of a cleaned path. The
// root has no parent and reports ("", "/").
func Split(p string) (string, string) {
	if p == "/" {
		return "", "/"
	}
	dir, name := path.Split(p)
	return path.Clean(dir), name
}

// Within reports whether p equals root or lies below it.
func Within(p, root string) bool {
	if root == "/" || p == root {
		return true
	}
	return strings.HasPrefix(p, root+"/")
}

// Rebase moves p from below oldRoot to below newRoot. p must be Within oldRoot.
func Rebase(p, oldRoot, newRoot string) string {
	if p == oldRoot {
		return newRoot
	}
	return newRoot + strings.TrimPrefix(p, oldRoot)
}
