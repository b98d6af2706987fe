package namespace

import (
	"context"
	"errors"
	"sync"

	"github.com/marmos91/authproxy/pkg/store/content"
	"github.com/marmos91/authproxy/pkg/store/metadata"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// dirHandle lists a snapshot of the child names taken at open time.
type dirHandle struct {
	path string

	mu     sync.Mutex
	names  []string
	pos    int
	closed bool
}

func (ns *Namespace) OpenDir(ctx context.Context, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.Directory, vfs.ReturnCode) {
	p := metadata.Clean(path)

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		return nil, fail(einfo, err, p)
	}
	if !e.IsDir() {
		return nil, einfo.Set(vfs.ENOTDIR, "%s: not a directory", p)
	}

	names, err := ns.meta.Children(ctx, p)
	if err != nil {
		return nil, fail(einfo, err, p)
	}
	return &dirHandle{path: p, names: names}, vfs.OK
}

// Next returns Error with an untouched einfo once the listing is exhausted.
func (d *dirHandle) Next(_ context.Context, einfo *vfs.ErrInfo) (string, vfs.ReturnCode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", einfo.Set(vfs.EBADF, "%s: directory is closed", d.path)
	}
	if d.pos >= len(d.names) {
		return "", vfs.Error
	}
	name := d.names[d.pos]
	d.pos++
	return name, vfs.OK
}

func (d *dirHandle) Name() string {
	return d.path
}

func (d *dirHandle) Close(_ context.Context, einfo *vfs.ErrInfo) vfs.ReturnCode {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return einfo.Set(vfs.EBADF, "%s: directory already closed", d.path)
	}
	d.closed = true
	d.names = nil
	return vfs.OK
}

// fileHandle reads and writes through the content store. It keeps the path
// it was opened with; metadata updates after the file is renamed or removed
// are dropped.
type fileHandle struct {
	ns        *Namespace
	path      string
	contentID string
	readable  bool
	writable  bool

	mu     sync.Mutex
	closed bool
}

func (ns *Namespace) OpenFile(ctx context.Context, path string, flags int32, mode uint32, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.File, vfs.ReturnCode) {
	p := metadata.Clean(path)
	acc := flags & vfs.OpenAccMode
	writable := acc == vfs.OpenWriteOnly || acc == vfs.OpenReadWrite

	ns.mu.Lock()
	defer ns.mu.Unlock()

	e, err := ns.meta.Get(ctx, p)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		if flags&vfs.OpenCreate == 0 {
			return nil, fail(einfo, err, p)
		}
		if e, err = ns.createFile(ctx, p, flags, mode, einfo); err != nil {
			return nil, vfs.Error
		}

	case err != nil:
		return nil, fail(einfo, err, p)

	case e.IsDir():
		return nil, einfo.Set(vfs.EISDIR, "%s: is a directory", p)

	case writable && flags&vfs.OpenTruncate != 0 && e.Size > 0:
		if rc := ns.truncate(ctx, e, 0, einfo); rc != vfs.OK {
			return nil, rc
		}
	}

	return &fileHandle{
		ns:        ns,
		path:      p,
		contentID: e.ContentID,
		readable:  acc != vfs.OpenWriteOnly,
		writable:  writable,
	}, vfs.OK
}

// errCreate signals that createFile already filled einfo.
var errCreate = errors.New("create failed")

// createFile adds an empty regular file. Caller holds ns.mu.
func (ns *Namespace) createFile(ctx context.Context, p string, flags int32, mode uint32, einfo *vfs.ErrInfo) (*metadata.Entry, error) {
	parent, _ := metadata.Split(p)
	if flags&vfs.OpenMakePath != 0 {
		if rc := ns.mkdirAll(ctx, parent, defaultDirMode, einfo); rc != vfs.OK {
			return nil, errCreate
		}
	} else if _, rc := ns.parentDir(ctx, p, einfo); rc != vfs.OK {
		return nil, errCreate
	}

	perm := mode & vfs.ModePerm
	if perm == 0 {
		perm = defaultFileMode
	}
	if rc := ns.create(ctx, p, vfs.ModeRegular|perm, einfo); rc != vfs.OK {
		return nil, errCreate
	}

	e, err := ns.meta.Get(ctx, p)
	if err != nil {
		fail(einfo, err, p)
		return nil, errCreate
	}
	return e, nil
}

func (f *fileHandle) check(einfo *vfs.ErrInfo) vfs.ReturnCode {
	if f.closed {
		return einfo.Set(vfs.EBADF, "%s: file is closed", f.path)
	}
	return vfs.OK
}

func (f *fileHandle) Read(ctx context.Context, offset int64, p []byte, einfo *vfs.ErrInfo) vfs.ReturnCode {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rc := f.check(einfo); rc != vfs.OK {
		return rc
	}
	if !f.readable {
		return einfo.Set(vfs.EBADF, "%s: not open for reading", f.path)
	}
	if offset < 0 {
		return einfo.Set(vfs.EINVAL, "%s: negative offset %d", f.path, offset)
	}

	n, err := f.ns.content.ReadAt(ctx, f.contentID, p, offset)
	if errors.Is(err, content.ErrContentNotFound) {
		return 0
	}
	if err != nil {
		return fail(einfo, err, f.path)
	}
	return vfs.ReturnCode(n)
}

func (f *fileHandle) Write(ctx context.Context, offset int64, p []byte, einfo *vfs.ErrInfo) vfs.ReturnCode {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rc := f.check(einfo); rc != vfs.OK {
		return rc
	}
	if !f.writable {
		return einfo.Set(vfs.EBADF, "%s: not open for writing", f.path)
	}
	if offset < 0 {
		return einfo.Set(vfs.EINVAL, "%s: negative offset %d", f.path, offset)
	}
	if len(p) == 0 {
		return 0
	}

	ns := f.ns
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if err := ns.content.WriteAt(ctx, f.contentID, p, offset); err != nil {
		return fail(einfo, err, f.path)
	}

	ns.attrMu.Lock()
	defer ns.attrMu.Unlock()

	e, err := ns.meta.Get(ctx, f.path)
	if err != nil || e.ContentID != f.contentID {
		return vfs.ReturnCode(len(p))
	}
	now := ns.now().UnixNano()
	e.Size = max(e.Size, offset+int64(len(p)))
	e.Mtime, e.Ctime = now, now
	if err := ns.meta.Put(ctx, e); err != nil {
		return fail(einfo, err, f.path)
	}
	return vfs.ReturnCode(len(p))
}

func (f *fileHandle) Stat(ctx context.Context, einfo *vfs.ErrInfo) (vfs.StatInfo, vfs.ReturnCode) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rc := f.check(einfo); rc != vfs.OK {
		return vfs.StatInfo{}, rc
	}

	e, err := f.ns.meta.Get(ctx, f.path)
	if err != nil || e.ContentID != f.contentID {
		return vfs.StatInfo{}, einfo.Set(vfs.ENOENT, "%s: file was removed or renamed", f.path)
	}
	return statOf(e), vfs.OK
}

func (f *fileHandle) Name() string {
	return f.path
}

func (f *fileHandle) Close(_ context.Context, einfo *vfs.ErrInfo) vfs.ReturnCode {
	f.mu.Lock()
	defer f.mu.Unlock()

	if rc := f.check(einfo); rc != vfs.OK {
		return rc
	}
	f.closed = true
	return vfs.OK
}
