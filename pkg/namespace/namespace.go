// Package namespace is a reference vfs.FileSystem over a metadata store and
// a content store. The manager serves it when no external namespace is
// plugged in, and it backs the end-to-end tests.
//
// Structural changes (create, remove, rename, truncate) are serialized by a
// single namespace lock; reads and file I/O run concurrently.
package namespace

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/store/content"
	"github.com/marmos91/authproxy/pkg/store/metadata"
	"github.com/marmos91/authproxy/pkg/vfs"
)

const (
	blockSize = 4096

	defaultDirMode  uint32 = 0o755
	defaultFileMode uint32 = 0o644
)

// Options tune what the namespace reports about itself.
type Options struct {
	// Host and Port are returned by LOCATE.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port" validate:"min=0,max=65535"`

	// Capacity is the space reported by STATFS and STATLS. Default: 1 TiB.
	Capacity uint64 `mapstructure:"capacity"`

	// Version is answered to the "version" plugin query.
	Version string `mapstructure:"-"`
}

// Namespace implements vfs.FileSystem.
type Namespace struct {
	meta    metadata.Store
	content content.Store
	opts    Options
	now     func() time.Time

	mu sync.RWMutex

	// attrMu orders size and time updates made by concurrent writers, which
	// only hold mu for reading.
	attrMu sync.Mutex
}

var _ vfs.FileSystem = (*Namespace)(nil)

// New returns a namespace over the given stores and creates the root
// directory if the metadata store is empty.
func New(ctx context.Context, meta metadata.Store, data content.Store, opts Options) (*Namespace, error) {
	if meta == nil || data == nil {
		return nil, errors.New("namespace: metadata and content stores are required")
	}
	if opts.Capacity == 0 {
		opts.Capacity = 1 << 40
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	ns := &Namespace{meta: meta, content: data, opts: opts, now: time.Now}

	_, err := meta.Get(ctx, "/")
	if errors.Is(err, metadata.ErrNotFound) {
		now := ns.now().UnixNano()
		err = meta.Put(ctx, &metadata.Entry{
			Path:  "/",
			Ino:   metadata.RootIno,
			Mode:  vfs.ModeDir | defaultDirMode,
			Nlink: 2,
			Atime: now,
			Mtime: now,
			Ctime: now,
		})
	}
	if err != nil {
		return nil, err
	}
	return ns, nil
}

// Close releases both stores.
func (ns *Namespace) Close() error {
	return errors.Join(ns.meta.Close(), closeContent(ns.content))
}

func closeContent(s content.Store) error {
	if c, ok := s.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// fail translates a store error into einfo and returns Error.
func fail(einfo *vfs.ErrInfo, err error, what string) vfs.ReturnCode {
	switch {
	case errors.Is(err, metadata.ErrNotFound), errors.Is(err, content.ErrContentNotFound):
		return einfo.Set(vfs.ENOENT, "%s: no such file or directory", what)
	case errors.Is(err, metadata.ErrExists):
		return einfo.Set(vfs.EEXIST, "%s: file exists", what)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return einfo.Set(vfs.ETIMEDOUT, "%s: %v", what, err)
	default:
		logger.Error("namespace: %s: %v", what, err)
		return einfo.Set(vfs.EIO, "%s: %v", what, err)
	}
}

func statOf(e *metadata.Entry) vfs.StatInfo {
	return vfs.StatInfo{
		Ino:     e.Ino,
		Mode:    e.Mode,
		Nlink:   e.Nlink,
		UID:     e.UID,
		GID:     e.GID,
		Size:    e.Size,
		Blksize: blockSize,
		Blocks:  (e.Size + 511) / 512,
		Atime:   e.Atime,
		Mtime:   e.Mtime,
		Ctime:   e.Ctime,
	}
}

// newEntry builds an entry for p with a fresh inode number.
func (ns *Namespace) newEntry(ctx context.Context, p string, mode uint32) (*metadata.Entry, error) {
	ino, err := ns.meta.NextIno(ctx)
	if err != nil {
		return nil, err
	}

	now := ns.now().UnixNano()
	e := &metadata.Entry{
		Path:  p,
		Ino:   ino,
		Mode:  mode,
		Nlink: 1,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	if mode&vfs.ModeTypeMask == vfs.ModeDir {
		e.Nlink = 2
	} else {
		e.ContentID = uuid.NewString()
	}
	return e, nil
}

// parentDir returns the parent entry of p, which must be a directory.
func (ns *Namespace) parentDir(ctx context.Context, p string, einfo *vfs.ErrInfo) (*metadata.Entry, vfs.ReturnCode) {
	parent, _ := metadata.Split(p)
	e, err := ns.meta.Get(ctx, parent)
	if err != nil {
		return nil, fail(einfo, err, parent)
	}
	if !e.IsDir() {
		return nil, einfo.Set(vfs.ENOTDIR, "%s: not a directory", parent)
	}
	return e, vfs.OK
}

// touch updates the modification time of the directory at p.
func (ns *Namespace) touch(ctx context.Context, p string) {
	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return
	}
	now := ns.now().UnixNano()
	e.Mtime, e.Ctime = now, now
	if err := ns.meta.Put(ctx, e); err != nil {
		logger.Warn("namespace: update times of %s: %v", p, err)
	}
}

// mkdirAll creates p and any missing parents. Caller holds ns.mu.
func (ns *Namespace) mkdirAll(ctx context.Context, p string, perm uint32, einfo *vfs.ErrInfo) vfs.ReturnCode {
	e, err := ns.meta.Get(ctx, p)
	if err == nil {
		if !e.IsDir() {
			return einfo.Set(vfs.ENOTDIR, "%s: not a directory", p)
		}
		return vfs.OK
	}
	if !errors.Is(err, metadata.ErrNotFound) {
		return fail(einfo, err, p)
	}

	parent, _ := metadata.Split(p)
	if rc := ns.mkdirAll(ctx, parent, perm, einfo); rc != vfs.OK {
		return rc
	}
	return ns.create(ctx, p, vfs.ModeDir|perm, einfo)
}

// create adds a new entry below an existing parent. Caller holds ns.mu.
func (ns *Namespace) create(ctx context.Context, p string, mode uint32, einfo *vfs.ErrInfo) vfs.ReturnCode {
	e, err := ns.newEntry(ctx, p, mode)
	if err != nil {
		return fail(einfo, err, p)
	}
	if err := ns.meta.Put(ctx, e); err != nil {
		return fail(einfo, err, p)
	}

	parent, _ := metadata.Split(p)
	ns.touch(ctx, parent)
	return vfs.OK
}

// ============================================================================
// Path operations
// ============================================================================

func (ns *Namespace) Stat(ctx context.Context, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.StatInfo, vfs.ReturnCode) {
	p := metadata.Clean(path)

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return vfs.StatInfo{}, fail(einfo, err, p)
	}
	return statOf(e), vfs.OK
}

func (ns *Namespace) StatMode(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) (uint32, vfs.ReturnCode) {
	st, rc := ns.Stat(ctx, path, einfo, client, opaque)
	if rc != vfs.OK {
		return 0, rc
	}
	return st.Mode, rc
}

func (ns *Namespace) Exists(ctx context.Context, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.Existence, vfs.ReturnCode) {
	p := metadata.Clean(path)

	e, err := ns.meta.Get(ctx, p)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		return vfs.ExistsNo, vfs.OK
	case err != nil:
		return vfs.ExistsNo, fail(einfo, err, p)
	case e.IsDir():
		return vfs.ExistsDirectory, vfs.OK
	case e.Mode&vfs.ModeTypeMask == vfs.ModeRegular:
		return vfs.ExistsFile, vfs.OK
	default:
		return vfs.ExistsOther, vfs.OK
	}
}

func (ns *Namespace) Chmod(ctx context.Context, path string, mode uint32, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	p := metadata.Clean(path)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return fail(einfo, err, p)
	}
	e.Mode = e.Mode&vfs.ModeTypeMask | mode&vfs.ModePerm
	e.Ctime = ns.now().UnixNano()

	if err := ns.meta.Put(ctx, e); err != nil {
		return fail(einfo, err, p)
	}
	return vfs.OK
}

func (ns *Namespace) Mkdir(ctx context.Context, path string, mode uint32, einfo *vfs.ErrInfo, client vfs.Identity, _ string) vfs.ReturnCode {
	p := metadata.Clean(path)
	perm := mode & vfs.ModePerm
	if perm == 0 {
		perm = defaultDirMode
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if _, err := ns.meta.Get(ctx, p); err == nil {
		return einfo.Set(vfs.EEXIST, "%s: file exists", p)
	} else if !errors.Is(err, metadata.ErrNotFound) {
		return fail(einfo, err, p)
	}

	if mode&vfs.MkdirMakePath != 0 {
		return ns.mkdirAll(ctx, p, perm, einfo)
	}
	if _, rc := ns.parentDir(ctx, p, einfo); rc != vfs.OK {
		return rc
	}

	logger.Debug("namespace: mkdir %s by %s", p, client)
	return ns.create(ctx, p, vfs.ModeDir|perm, einfo)
}

func (ns *Namespace) Rmdir(ctx context.Context, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	p := metadata.Clean(path)
	if p == "/" {
		return einfo.Set(vfs.EBUSY, "cannot remove the root directory")
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return fail(einfo, err, p)
	}
	if !e.IsDir() {
		return einfo.Set(vfs.ENOTDIR, "%s: not a directory", p)
	}

	names, err := ns.meta.Children(ctx, p)
	if err != nil {
		return fail(einfo, err, p)
	}
	if len(names) > 0 {
		return einfo.Set(vfs.ENOTEMPTY, "%s: directory not empty", p)
	}

	if err := ns.meta.Delete(ctx, p); err != nil {
		return fail(einfo, err, p)
	}
	parent, _ := metadata.Split(p)
	ns.touch(ctx, parent)
	return vfs.OK
}

func (ns *Namespace) Remove(ctx context.Context, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	p := metadata.Clean(path)

	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return fail(einfo, err, p)
	}
	if e.IsDir() {
		return einfo.Set(vfs.EISDIR, "%s: is a directory", p)
	}
	return ns.unlink(ctx, e, einfo)
}

// unlink deletes a file entry and its content. Caller holds ns.mu.
func (ns *Namespace) unlink(ctx context.Context, e *metadata.Entry, einfo *vfs.ErrInfo) vfs.ReturnCode {
	if err := ns.meta.Delete(ctx, e.Path); err != nil {
		return fail(einfo, err, e.Path)
	}
	if e.ContentID != "" {
		if err := ns.content.Delete(ctx, e.ContentID); err != nil {
			logger.Warn("namespace: content of %s left behind: %v", e.Path, err)
		}
	}
	parent, _ := metadata.Split(e.Path)
	ns.touch(ctx, parent)
	return vfs.OK
}

func (ns *Namespace) Rename(ctx context.Context, oldPath, newPath string, einfo *vfs.ErrInfo, _ vfs.Identity, _, _ string) vfs.ReturnCode {
	from, to := metadata.Clean(oldPath), metadata.Clean(newPath)
	if from == "/" || to == "/" {
		return einfo.Set(vfs.EBUSY, "cannot rename the root directory")
	}
	if from == to {
		return vfs.OK
	}
	if metadata.Within(to, from) {
		return einfo.Set(vfs.EINVAL, "cannot move %s into its own subtree %s", from, to)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	src, err := ns.meta.Get(ctx, from)
	if err != nil {
		return fail(einfo, err, from)
	}
	if _, rc := ns.parentDir(ctx, to, einfo); rc != vfs.OK {
		return rc
	}

	dst, err := ns.meta.Get(ctx, to)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
	case err != nil:
		return fail(einfo, err, to)
	case dst.IsDir() && !src.IsDir():
		return einfo.Set(vfs.EISDIR, "%s: is a directory", to)
	case !dst.IsDir() && src.IsDir():
		return einfo.Set(vfs.ENOTDIR, "%s: not a directory", to)
	case dst.IsDir():
		names, err := ns.meta.Children(ctx, to)
		if err != nil {
			return fail(einfo, err, to)
		}
		if len(names) > 0 {
			return einfo.Set(vfs.ENOTEMPTY, "%s: directory not empty", to)
		}
		if err := ns.meta.Delete(ctx, to); err != nil {
			return fail(einfo, err, to)
		}
	default:
		if rc := ns.unlink(ctx, dst, einfo); rc != vfs.OK {
			return rc
		}
	}

	if err := ns.meta.Rename(ctx, from, to); err != nil {
		return fail(einfo, err, from)
	}

	oldParent, _ := metadata.Split(from)
	newParent, _ := metadata.Split(to)
	ns.touch(ctx, oldParent)
	if newParent != oldParent {
		ns.touch(ctx, newParent)
	}
	return vfs.OK
}

// Prepare checks that every path exists and echoes the request id, minting
// one when the caller supplied none.
func (ns *Namespace) Prepare(ctx context.Context, args vfs.PrepareArgs, einfo *vfs.ErrInfo, _ vfs.Identity) vfs.ReturnCode {
	if len(args.Paths) == 0 {
		return einfo.Set(vfs.EINVAL, "prepare: no paths given")
	}
	for _, path := range args.Paths {
		p := metadata.Clean(path)
		if _, err := ns.meta.Get(ctx, p); err != nil {
			return fail(einfo, err, p)
		}
	}

	reqID := args.ReqID
	if reqID == "" {
		reqID = uuid.NewString()
	}
	einfo.Message = reqID
	return vfs.OK
}

func (ns *Namespace) Truncate(ctx context.Context, path string, size int64, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	p := metadata.Clean(path)
	if size < 0 {
		return einfo.Set(vfs.EINVAL, "truncate %s: negative size %d", p, size)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return fail(einfo, err, p)
	}
	return ns.truncate(ctx, e, size, einfo)
}

// truncate resizes the content of a file entry. Caller holds ns.mu.
func (ns *Namespace) truncate(ctx context.Context, e *metadata.Entry, size int64, einfo *vfs.ErrInfo) vfs.ReturnCode {
	if e.IsDir() {
		return einfo.Set(vfs.EISDIR, "%s: is a directory", e.Path)
	}
	if err := ns.content.Truncate(ctx, e.ContentID, size); err != nil {
		return fail(einfo, err, e.Path)
	}

	now := ns.now().UnixNano()
	e.Size = size
	e.Mtime, e.Ctime = now, now
	if err := ns.meta.Put(ctx, e); err != nil {
		return fail(einfo, err, e.Path)
	}
	return vfs.OK
}
