package dispatcher

import (
	"context"
	"sync"

	"github.com/marmos91/authproxy/pkg/vfs"
)

// fakeFS is an in-memory namespace that counts every call.
type fakeFS struct {
	mu    sync.Mutex
	calls map[string]int
	files map[string][]byte
	dirs  map[string][]string
	modes map[string]uint32

	// openGate, when set, runs inside OpenDir and OpenFile after the call is
	// counted. Tests use it to hold concurrent opens at the same point.
	openGate func()
}

func newFakeFS() *fakeFS {
	return &fakeFS{
		calls: map[string]int{},
		files: map[string][]byte{"/data/hello.txt": []byte("hello world")},
		dirs:  map[string][]string{"/data": {"hello.txt", "sub"}},
		modes: map[string]uint32{},
	}
}

func (f *fakeFS) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeFS) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeFS) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeFS) Stat(_ context.Context, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.StatInfo, vfs.ReturnCode) {
	f.count("Stat")
	if path == "/panic" {
		panic("namespace exploded")
	}
	if data, ok := f.files[path]; ok {
		return vfs.StatInfo{Ino: 2, Mode: vfs.ModeRegular | 0o644, Nlink: 1, Size: int64(len(data))}, vfs.OK
	}
	if _, ok := f.dirs[path]; ok {
		return vfs.StatInfo{Ino: 1, Mode: vfs.ModeDir | 0o755, Nlink: 2}, vfs.OK
	}
	return vfs.StatInfo{}, einfo.Set(vfs.ENOENT, "stat %s: no such file or directory", path)
}

func (f *fakeFS) StatMode(ctx context.Context, path string, einfo *vfs.ErrInfo, client vfs.Identity, opaque string) (uint32, vfs.ReturnCode) {
	f.count("StatMode")
	if _, ok := f.dirs[path]; ok {
		return vfs.ModeDir | 0o755, vfs.OK
	}
	return 0, einfo.Set(vfs.ENOENT, "no such directory")
}

func (f *fakeFS) FSctl(_ context.Context, cmd int32, args string, einfo *vfs.ErrInfo, _ vfs.Identity) vfs.ReturnCode {
	f.count("FSctl")
	einfo.Code = 0
	einfo.Message = args
	return vfs.Data
}

func (f *fakeFS) FSctlExt(_ context.Context, cmd int32, args vfs.FSctlArgs, einfo *vfs.ErrInfo, _ vfs.Identity) vfs.ReturnCode {
	f.count("FSctlExt")
	einfo.Message = string(args.Arg1) + string(args.Arg2)
	return vfs.Data
}

func (f *fakeFS) Chmod(_ context.Context, path string, mode uint32, _ *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	f.count("Chmod")
	f.mu.Lock()
	f.modes[path] = mode
	f.mu.Unlock()
	return vfs.OK
}

func (f *fakeFS) Checksum(_ context.Context, fn vfs.ChecksumFunc, csName, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	f.count("Checksum")
	einfo.Message = csName + ":deadbeef"
	return vfs.OK
}

func (f *fakeFS) Exists(_ context.Context, path string, _ *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.Existence, vfs.ReturnCode) {
	f.count("Exists")
	if _, ok := f.files[path]; ok {
		return vfs.ExistsFile, vfs.OK
	}
	if _, ok := f.dirs[path]; ok {
		return vfs.ExistsDirectory, vfs.OK
	}
	return vfs.ExistsNo, vfs.OK
}

func (f *fakeFS) Mkdir(_ context.Context, path string, mode uint32, _ *vfs.ErrInfo, _ vfs.Identity, _ string) vfs.ReturnCode {
	f.count("Mkdir")
	f.mu.Lock()
	f.dirs[path] = nil
	f.modes[path] = mode
	f.mu.Unlock()
	return vfs.OK
}

func (f *fakeFS) Rmdir(context.Context, string, *vfs.ErrInfo, vfs.Identity, string) vfs.ReturnCode {
	f.count("Rmdir")
	return vfs.OK
}

func (f *fakeFS) Remove(context.Context, string, *vfs.ErrInfo, vfs.Identity, string) vfs.ReturnCode {
	f.count("Remove")
	return vfs.OK
}

func (f *fakeFS) Rename(_ context.Context, oldPath, newPath string, einfo *vfs.ErrInfo, _ vfs.Identity, _, _ string) vfs.ReturnCode {
	f.count("Rename")
	if oldPath == newPath {
		return einfo.Set(vfs.EINVAL, "same path")
	}
	return vfs.OK
}

func (f *fakeFS) Prepare(_ context.Context, args vfs.PrepareArgs, einfo *vfs.ErrInfo, _ vfs.Identity) vfs.ReturnCode {
	f.count("Prepare")
	einfo.Message = args.ReqID
	return vfs.OK
}

func (f *fakeFS) Truncate(context.Context, string, int64, *vfs.ErrInfo, vfs.Identity, string) vfs.ReturnCode {
	f.count("Truncate")
	return vfs.OK
}

func (f *fakeFS) OpenDir(_ context.Context, path string, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.Directory, vfs.ReturnCode) {
	f.count("OpenDir")
	if f.openGate != nil {
		f.openGate()
	}
	entries, ok := f.dirs[path]
	if !ok {
		return nil, einfo.Set(vfs.ENOENT, "no such directory %s", path)
	}
	return &fakeDir{fs: f, name: path, entries: append([]string(nil), entries...)}, vfs.OK
}

func (f *fakeFS) OpenFile(_ context.Context, path string, flags int32, _ uint32, einfo *vfs.ErrInfo, _ vfs.Identity, _ string) (vfs.File, vfs.ReturnCode) {
	f.count("OpenFile")
	if f.openGate != nil {
		f.openGate()
	}
	data, ok := f.files[path]
	if !ok {
		return nil, einfo.Set(vfs.ENOENT, "no such file %s", path)
	}
	return &fakeFile{fs: f, name: path, data: append([]byte(nil), data...)}, vfs.OK
}

type fakeDir struct {
	fs      *fakeFS
	name    string
	entries []string
	closed  bool
}

func (d *fakeDir) Next(_ context.Context, _ *vfs.ErrInfo) (string, vfs.ReturnCode) {
	if len(d.entries) == 0 {
		return "", vfs.Error
	}
	next := d.entries[0]
	d.entries = d.entries[1:]
	return next, vfs.OK
}

func (d *fakeDir) Name() string { return d.name }

func (d *fakeDir) Close(context.Context, *vfs.ErrInfo) vfs.ReturnCode {
	d.fs.count("DirClose")
	d.closed = true
	return vfs.OK
}

type fakeFile struct {
	fs     *fakeFS
	name   string
	data   []byte
	closed bool
}

func (f *fakeFile) Read(_ context.Context, off int64, p []byte, _ *vfs.ErrInfo) vfs.ReturnCode {
	f.fs.count("Read")
	if off >= int64(len(f.data)) {
		return 0
	}
	return vfs.ReturnCode(copy(p, f.data[off:]))
}

func (f *fakeFile) Write(_ context.Context, off int64, p []byte, _ *vfs.ErrInfo) vfs.ReturnCode {
	f.fs.count("Write")
	if end := off + int64(len(p)); end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[off:], p)
	return vfs.ReturnCode(len(p))
}

func (f *fakeFile) Stat(context.Context, *vfs.ErrInfo) (vfs.StatInfo, vfs.ReturnCode) {
	return vfs.StatInfo{Mode: vfs.ModeRegular | 0o644, Size: int64(len(f.data))}, vfs.OK
}

func (f *fakeFile) Name() string { return f.name }

func (f *fakeFile) Close(context.Context, *vfs.ErrInfo) vfs.ReturnCode {
	f.fs.count("Close")
	f.closed = true
	return vfs.OK
}
