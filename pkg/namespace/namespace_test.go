package namespace

import (
	"context"
	"encoding/hex"
	"hash/crc32"
	"strings"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contentfs "github.com/marmos91/authproxy/pkg/store/content/fs"
	contentmem "github.com/marmos91/authproxy/pkg/store/content/memory"
	metabadger "github.com/marmos91/authproxy/pkg/store/metadata/badger"
	metamem "github.com/marmos91/authproxy/pkg/store/metadata/memory"
	"github.com/marmos91/authproxy/pkg/vfs"
)

var alice = vfs.Identity{Protocol: "krb5", Name: "alice", Host: "edge1", Tident: "alice.1:10@edge1"}

func newNamespace(t *testing.T) *Namespace {
	t.Helper()
	ns, err := New(context.Background(), metamem.New(), contentmem.New(), Options{Host: "10.0.0.1", Port: 1094, Version: "v1.2.3"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ns.Close() })
	return ns
}

func mkdir(t *testing.T, ns *Namespace, p string) {
	t.Helper()
	var einfo vfs.ErrInfo
	require.Equal(t, vfs.OK, ns.Mkdir(context.Background(), p, 0o755, &einfo, alice, ""), einfo.String())
}

func writeFile(t *testing.T, ns *Namespace, p, body string) {
	t.Helper()
	ctx := context.Background()
	var einfo vfs.ErrInfo

	f, rc := ns.OpenFile(ctx, p, vfs.OpenWriteOnly|vfs.OpenCreate|vfs.OpenTruncate, 0o644, &einfo, alice, "")
	require.Equal(t, vfs.OK, rc, einfo.String())
	require.EqualValues(t, len(body), f.Write(ctx, 0, []byte(body), &einfo), einfo.String())
	require.Equal(t, vfs.OK, f.Close(ctx, &einfo))
}

func readFile(t *testing.T, ns *Namespace, p string) string {
	t.Helper()
	ctx := context.Background()
	var einfo vfs.ErrInfo

	f, rc := ns.OpenFile(ctx, p, vfs.OpenReadOnly, 0, &einfo, alice, "")
	require.Equal(t, vfs.OK, rc, einfo.String())
	defer f.Close(ctx, &einfo)

	buf := make([]byte, 1<<16)
	n := f.Read(ctx, 0, buf, &einfo)
	require.GreaterOrEqual(t, n, vfs.ReturnCode(0), einfo.String())
	return string(buf[:n])
}

func TestRootExists(t *testing.T) {
	ns := newNamespace(t)
	var einfo vfs.ErrInfo

	st, rc := ns.Stat(context.Background(), "/", &einfo, alice, "")
	require.Equal(t, vfs.OK, rc)
	assert.True(t, st.IsDir())
	assert.EqualValues(t, 1, st.Ino)
}

func TestNewKeepsExistingRoot(t *testing.T) {
	ctx := context.Background()
	meta, data := metamem.New(), contentmem.New()

	ns, err := New(ctx, meta, data, Options{})
	require.NoError(t, err)
	mkdir(t, ns, "/kept")

	ns, err = New(ctx, meta, data, Options{})
	require.NoError(t, err)

	var einfo vfs.ErrInfo
	exists, rc := ns.Exists(ctx, "/kept", &einfo, alice, "")
	require.Equal(t, vfs.OK, rc)
	assert.Equal(t, vfs.ExistsDirectory, exists)
}

func TestMkdir(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		setup   func(t *testing.T, ns *Namespace)
		path    string
		mode    uint32
		wantRC  vfs.ReturnCode
		wantErr int32
	}{
		{name: "simple", path: "/a", mode: 0o700, wantRC: vfs.OK},
		{name: "path is cleaned", path: "a//b/..", mode: 0o700, wantRC: vfs.OK},
		{name: "missing parent", path: "/x/y", mode: 0o755, wantRC: vfs.Error, wantErr: vfs.ENOENT},
		{name: "make path", path: "/x/y/z", mode: 0o755 | vfs.MkdirMakePath, wantRC: vfs.OK},
		{
			name:    "exists",
			setup:   func(t *testing.T, ns *Namespace) { mkdir(t, ns, "/a") },
			path:    "/a",
			mode:    0o755,
			wantRC:  vfs.Error,
			wantErr: vfs.EEXIST,
		},
		{
			name:    "parent is a file",
			setup:   func(t *testing.T, ns *Namespace) { writeFile(t, ns, "/f", "x") },
			path:    "/f/sub",
			mode:    0o755,
			wantRC:  vfs.Error,
			wantErr: vfs.ENOTDIR,
		},
		{
			name:    "make path through a file",
			setup:   func(t *testing.T, ns *Namespace) { writeFile(t, ns, "/f", "x") },
			path:    "/f/sub/deeper",
			mode:    0o755 | vfs.MkdirMakePath,
			wantRC:  vfs.Error,
			wantErr: vfs.ENOTDIR,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ns := newNamespace(t)
			if tt.setup != nil {
				tt.setup(t, ns)
			}

			var einfo vfs.ErrInfo
			rc := ns.Mkdir(ctx, tt.path, tt.mode, &einfo, alice, "")
			assert.Equal(t, tt.wantRC, rc, einfo.String())
			assert.Equal(t, tt.wantErr, einfo.Code)

			if rc == vfs.OK {
				st, rc := ns.Stat(ctx, tt.path, &einfo, alice, "")
				require.Equal(t, vfs.OK, rc)
				assert.True(t, st.IsDir())
				assert.EqualValues(t, tt.mode&vfs.ModePerm, st.Mode&vfs.ModePerm)
			}
		})
	}
}

func TestRmdir(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	mkdir(t, ns, "/d")
	mkdir(t, ns, "/d/sub")
	writeFile(t, ns, "/file", "x")

	var einfo vfs.ErrInfo
	assert.Equal(t, vfs.Error, ns.Rmdir(ctx, "/d", &einfo, alice, ""))
	assert.Equal(t, vfs.ENOTEMPTY, einfo.Code)

	einfo.Reset()
	assert.Equal(t, vfs.Error, ns.Rmdir(ctx, "/file", &einfo, alice, ""))
	assert.Equal(t, vfs.ENOTDIR, einfo.Code)

	einfo.Reset()
	assert.Equal(t, vfs.Error, ns.Rmdir(ctx, "/", &einfo, alice, ""))
	assert.Equal(t, vfs.EBUSY, einfo.Code)

	einfo.Reset()
	assert.Equal(t, vfs.OK, ns.Rmdir(ctx, "/d/sub", &einfo, alice, ""))
	assert.Equal(t, vfs.OK, ns.Rmdir(ctx, "/d", &einfo, alice, ""))

	exists, _ := ns.Exists(ctx, "/d", &einfo, alice, "")
	assert.Equal(t, vfs.ExistsNo, exists)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	mkdir(t, ns, "/d")
	writeFile(t, ns, "/d/f", "payload")

	var einfo vfs.ErrInfo
	assert.Equal(t, vfs.Error, ns.Remove(ctx, "/d", &einfo, alice, ""))
	assert.Equal(t, vfs.EISDIR, einfo.Code)

	einfo.Reset()
	require.Equal(t, vfs.OK, ns.Remove(ctx, "/d/f", &einfo, alice, ""))

	_, rc := ns.Stat(ctx, "/d/f", &einfo, alice, "")
	assert.Equal(t, vfs.Error, rc)
	assert.Equal(t, vfs.ENOENT, einfo.Code)

	einfo.Reset()
	assert.Equal(t, vfs.Error, ns.Remove(ctx, "/d/f", &einfo, alice, ""))
	assert.Equal(t, vfs.ENOENT, einfo.Code)
}

func TestRename(t *testing.T) {
	ctx := context.Background()

	t.Run("moves a subtree", func(t *testing.T) {
		ns := newNamespace(t)
		mkdir(t, ns, "/src")
		mkdir(t, ns, "/src/sub")
		writeFile(t, ns, "/src/sub/f", "moved")
		mkdir(t, ns, "/dst")

		var einfo vfs.ErrInfo
		require.Equal(t, vfs.OK, ns.Rename(ctx, "/src", "/dst/new", &einfo, alice, "", ""), einfo.String())

		assert.Equal(t, "moved", readFile(t, ns, "/dst/new/sub/f"))
		exists, _ := ns.Exists(ctx, "/src", &einfo, alice, "")
		assert.Equal(t, vfs.ExistsNo, exists)
	})

	t.Run("replaces a file", func(t *testing.T) {
		ns := newNamespace(t)
		writeFile(t, ns, "/a", "new")
		writeFile(t, ns, "/b", "old")

		var einfo vfs.ErrInfo
		require.Equal(t, vfs.OK, ns.Rename(ctx, "/a", "/b", &einfo, alice, "", ""), einfo.String())
		assert.Equal(t, "new", readFile(t, ns, "/b"))
	})

	t.Run("same path is a no-op", func(t *testing.T) {
		ns := newNamespace(t)
		writeFile(t, ns, "/a", "x")

		var einfo vfs.ErrInfo
		assert.Equal(t, vfs.OK, ns.Rename(ctx, "/a", "//a", &einfo, alice, "", ""))
	})

	errorCases := []struct {
		name     string
		setup    func(t *testing.T, ns *Namespace)
		from, to string
		wantErr  int32
	}{
		{
			name:    "into own subtree",
			setup:   func(t *testing.T, ns *Namespace) { mkdir(t, ns, "/a") },
			from:    "/a",
			to:      "/a/b",
			wantErr: vfs.EINVAL,
		},
		{name: "missing source", from: "/nope", to: "/x", wantErr: vfs.ENOENT},
		{
			name:    "missing target parent",
			setup:   func(t *testing.T, ns *Namespace) { writeFile(t, ns, "/a", "x") },
			from:    "/a",
			to:      "/no/such",
			wantErr: vfs.ENOENT,
		},
		{
			name: "directory onto file",
			setup: func(t *testing.T, ns *Namespace) {
				mkdir(t, ns, "/d")
				writeFile(t, ns, "/f", "x")
			},
			from:    "/d",
			to:      "/f",
			wantErr: vfs.ENOTDIR,
		},
		{
			name: "file onto directory",
			setup: func(t *testing.T, ns *Namespace) {
				mkdir(t, ns, "/d")
				writeFile(t, ns, "/f", "x")
			},
			from:    "/f",
			to:      "/d",
			wantErr: vfs.EISDIR,
		},
		{
			name: "onto non-empty directory",
			setup: func(t *testing.T, ns *Namespace) {
				mkdir(t, ns, "/d")
				mkdir(t, ns, "/e")
				writeFile(t, ns, "/e/f", "x")
			},
			from:    "/d",
			to:      "/e",
			wantErr: vfs.ENOTEMPTY,
		},
		{name: "root", from: "/", to: "/x", wantErr: vfs.EBUSY},
	}

	for _, tt := range errorCases {
		t.Run(tt.name, func(t *testing.T) {
			ns := newNamespace(t)
			if tt.setup != nil {
				tt.setup(t, ns)
			}

			var einfo vfs.ErrInfo
			assert.Equal(t, vfs.Error, ns.Rename(ctx, tt.from, tt.to, &einfo, alice, "", ""))
			assert.Equal(t, tt.wantErr, einfo.Code, einfo.Message)
		})
	}
}

func TestChmodKeepsFileType(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	mkdir(t, ns, "/d")

	var einfo vfs.ErrInfo
	require.Equal(t, vfs.OK, ns.Chmod(ctx, "/d", 0o100700, &einfo, alice, ""))

	mode, rc := ns.StatMode(ctx, "/d", &einfo, alice, "")
	require.Equal(t, vfs.OK, rc)
	assert.Equal(t, vfs.ModeDir|0o700, mode)
}

func TestTruncate(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	writeFile(t, ns, "/f", "abcdef")
	mkdir(t, ns, "/d")

	var einfo vfs.ErrInfo
	require.Equal(t, vfs.OK, ns.Truncate(ctx, "/f", 2, &einfo, alice, ""))
	assert.Equal(t, "ab", readFile(t, ns, "/f"))

	require.Equal(t, vfs.OK, ns.Truncate(ctx, "/f", 4, &einfo, alice, ""))
	assert.Equal(t, "ab\x00\x00", readFile(t, ns, "/f"))

	st, _ := ns.Stat(ctx, "/f", &einfo, alice, "")
	assert.EqualValues(t, 4, st.Size)

	assert.Equal(t, vfs.Error, ns.Truncate(ctx, "/d", 0, &einfo, alice, ""))
	assert.Equal(t, vfs.EISDIR, einfo.Code)

	einfo.Reset()
	assert.Equal(t, vfs.Error, ns.Truncate(ctx, "/f", -1, &einfo, alice, ""))
	assert.Equal(t, vfs.EINVAL, einfo.Code)
}

func TestChecksum(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	writeFile(t, ns, "/f", "hello world")
	mkdir(t, ns, "/d")

	sum64 := func(v uint64) string {
		b := make([]byte, 8)
		for i := range 8 {
			b[7-i] = byte(v >> (8 * i))
		}
		return hex.EncodeToString(b)
	}
	sum32 := func(v uint32) string {
		return hex.EncodeToString([]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	}

	tests := []struct {
		name string
		want string
	}{
		{"adler32", "1a0b045d"},
		{"crc32", "0d4a1185"},
		{"crc32c", sum32(crc32.Checksum([]byte("hello world"), crc32.MakeTable(crc32.Castagnoli)))},
		{"md5", "5eb63bbbe01eeed093cb22bb8f5acdc3"},
		{"sha1", "2aae6c35c94fcfb415dbe95f408b9ce91ee846ed"},
		{"SHA256", "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"},
		{"xxhash64", sum64(xxhash.Sum64String("hello world"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var einfo vfs.ErrInfo
			require.Equal(t, vfs.OK, ns.Checksum(ctx, vfs.ChecksumCalc, tt.name, "/f", &einfo, alice, ""), einfo.String())
			assert.Equal(t, tt.want, einfo.Message)

			einfo.Reset()
			require.Equal(t, vfs.OK, ns.Checksum(ctx, vfs.ChecksumSize, tt.name, "/f", &einfo, alice, ""))
			assert.EqualValues(t, len(tt.want)/2, einfo.Code)
		})
	}

	var einfo vfs.ErrInfo
	assert.Equal(t, vfs.Error, ns.Checksum(ctx, vfs.ChecksumCalc, "whirlpool", "/f", &einfo, alice, ""))
	assert.Equal(t, vfs.ENOTSUP, einfo.Code)

	einfo.Reset()
	assert.Equal(t, vfs.Error, ns.Checksum(ctx, vfs.ChecksumCalc, "md5", "/d", &einfo, alice, ""))
	assert.Equal(t, vfs.EISDIR, einfo.Code)

	einfo.Reset()
	writeFile(t, ns, "/empty", "")
	require.Equal(t, vfs.OK, ns.Checksum(ctx, vfs.ChecksumGet, "md5", "/empty", &einfo, alice, ""))
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", einfo.Message)
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	mkdir(t, ns, "/d")
	writeFile(t, ns, "/f", "x")

	for path, want := range map[string]vfs.Existence{
		"/d":    vfs.ExistsDirectory,
		"/f":    vfs.ExistsFile,
		"/none": vfs.ExistsNo,
	} {
		var einfo vfs.ErrInfo
		got, rc := ns.Exists(ctx, path, &einfo, alice, "")
		require.Equal(t, vfs.OK, rc, path)
		assert.Equal(t, want, got, path)
	}
}

func TestPrepare(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	writeFile(t, ns, "/a", "x")
	writeFile(t, ns, "/b", "y")

	var einfo vfs.ErrInfo
	require.Equal(t, vfs.OK, ns.Prepare(ctx, vfs.PrepareArgs{ReqID: "req-7", Paths: []string{"/a", "/b"}}, &einfo, alice))
	assert.Equal(t, "req-7", einfo.Message)

	einfo.Reset()
	require.Equal(t, vfs.OK, ns.Prepare(ctx, vfs.PrepareArgs{Paths: []string{"/a"}}, &einfo, alice))
	assert.NotEmpty(t, einfo.Message)

	einfo.Reset()
	assert.Equal(t, vfs.Error, ns.Prepare(ctx, vfs.PrepareArgs{Paths: []string{"/a", "/missing"}}, &einfo, alice))
	assert.Equal(t, vfs.ENOENT, einfo.Code)

	einfo.Reset()
	assert.Equal(t, vfs.Error, ns.Prepare(ctx, vfs.PrepareArgs{}, &einfo, alice))
	assert.Equal(t, vfs.EINVAL, einfo.Code)
}

func TestFSctl(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	writeFile(t, ns, "/f", "0123456789")

	t.Run("locate", func(t *testing.T) {
		var einfo vfs.ErrInfo
		require.Equal(t, vfs.Data, ns.FSctl(ctx, vfs.FSctlLocate, "*/f", &einfo, alice))
		assert.Equal(t, "Sr\x00[::10.0.0.1]:1094 ", einfo.Message)
		assert.EqualValues(t, len(einfo.Message), einfo.Code)
	})

	t.Run("locate missing path", func(t *testing.T) {
		var einfo vfs.ErrInfo
		assert.Equal(t, vfs.Error, ns.FSctl(ctx, vfs.FSctlLocate, "/missing", &einfo, alice))
		assert.Equal(t, vfs.ENOENT, einfo.Code)
	})

	t.Run("statls", func(t *testing.T) {
		var einfo vfs.ErrInfo
		require.Equal(t, vfs.Data, ns.FSctl(ctx, vfs.FSctlStatLS, "/", &einfo, alice))
		assert.Contains(t, einfo.Message, "oss.used=10&")
		assert.Contains(t, einfo.Message, "oss.files=1")
	})

	t.Run("statfs", func(t *testing.T) {
		var einfo vfs.ErrInfo
		require.Equal(t, vfs.Data, ns.FSctl(ctx, vfs.FSctlStatFS, "/", &einfo, alice))
		assert.True(t, strings.HasPrefix(einfo.Message, "1 "), einfo.Message)
	})

	t.Run("plugin", func(t *testing.T) {
		var einfo vfs.ErrInfo
		require.Equal(t, vfs.Data, ns.FSctl(ctx, vfs.FSctlPlugin, "version", &einfo, alice))
		assert.Equal(t, "v1.2.3", einfo.Message)

		einfo.Reset()
		require.Equal(t, vfs.Data, ns.FSctlExt(ctx, vfs.FSctlPlugin, vfs.FSctlArgs{Arg1: []byte("ping")}, &einfo, alice))
		assert.Equal(t, "pong", einfo.Message)

		einfo.Reset()
		assert.Equal(t, vfs.Error, ns.FSctl(ctx, vfs.FSctlPlugin, "reboot", &einfo, alice))
		assert.Equal(t, vfs.EINVAL, einfo.Code)
	})

	t.Run("unsupported", func(t *testing.T) {
		var einfo vfs.ErrInfo
		assert.Equal(t, vfs.Error, ns.FSctl(ctx, vfs.FSctlStatXA, "/f", &einfo, alice))
		assert.Equal(t, vfs.ENOTSUP, einfo.Code)

		einfo.Reset()
		assert.Equal(t, vfs.Error, ns.FSctlExt(ctx, vfs.FSctlLocate, vfs.FSctlArgs{}, &einfo, alice))
		assert.Equal(t, vfs.ENOTSUP, einfo.Code)
	})
}

func TestDirectoryListing(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	mkdir(t, ns, "/d")
	writeFile(t, ns, "/d/b", "x")
	writeFile(t, ns, "/d/a", "x")
	mkdir(t, ns, "/d/c")

	var einfo vfs.ErrInfo
	dir, rc := ns.OpenDir(ctx, "/d", &einfo, alice, "")
	require.Equal(t, vfs.OK, rc)
	assert.Equal(t, "/d", dir.Name())

	// Entries added after open are not part of the snapshot.
	writeFile(t, ns, "/d/z", "x")

	var names []string
	for {
		name, rc := dir.Next(ctx, &einfo)
		if rc != vfs.OK {
			assert.Equal(t, vfs.Error, rc)
			assert.False(t, einfo.IsSet(), "end of listing must not set an error")
			break
		}
		names = append(names, name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)

	require.Equal(t, vfs.OK, dir.Close(ctx, &einfo))
	assert.Equal(t, vfs.Error, dir.Close(ctx, &einfo))
	assert.Equal(t, vfs.EBADF, einfo.Code)

	einfo.Reset()
	_, rc = ns.OpenDir(ctx, "/d/a", &einfo, alice, "")
	assert.Equal(t, vfs.Error, rc)
	assert.Equal(t, vfs.ENOTDIR, einfo.Code)
}

func TestFileIO(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	mkdir(t, ns, "/d")

	var einfo vfs.ErrInfo
	f, rc := ns.OpenFile(ctx, "/d/f", vfs.OpenReadWrite|vfs.OpenCreate, 0o600, &einfo, alice, "")
	require.Equal(t, vfs.OK, rc, einfo.String())
	assert.Equal(t, "/d/f", f.Name())

	require.EqualValues(t, 5, f.Write(ctx, 0, []byte("hello"), &einfo))
	require.EqualValues(t, 6, f.Write(ctx, 5, []byte(" world"), &einfo))

	buf := make([]byte, 32)
	n := f.Read(ctx, 6, buf, &einfo)
	require.EqualValues(t, 5, n)
	assert.Equal(t, "world", string(buf[:n]))

	assert.EqualValues(t, 0, f.Read(ctx, 100, buf, &einfo), "reading past the end is a short read")

	st, rc := f.Stat(ctx, &einfo)
	require.Equal(t, vfs.OK, rc)
	assert.EqualValues(t, 11, st.Size)
	assert.Equal(t, vfs.ModeRegular|0o600, st.Mode)

	require.Equal(t, vfs.OK, f.Close(ctx, &einfo))
	assert.Equal(t, vfs.Error, f.Read(ctx, 0, buf, &einfo))
	assert.Equal(t, vfs.EBADF, einfo.Code)
}

func TestOpenFileModes(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	writeFile(t, ns, "/f", "content")
	mkdir(t, ns, "/d")

	t.Run("missing without create", func(t *testing.T) {
		var einfo vfs.ErrInfo
		_, rc := ns.OpenFile(ctx, "/nope", vfs.OpenReadOnly, 0, &einfo, alice, "")
		assert.Equal(t, vfs.Error, rc)
		assert.Equal(t, vfs.ENOENT, einfo.Code)
	})

	t.Run("directory", func(t *testing.T) {
		var einfo vfs.ErrInfo
		_, rc := ns.OpenFile(ctx, "/d", vfs.OpenReadOnly, 0, &einfo, alice, "")
		assert.Equal(t, vfs.Error, rc)
		assert.Equal(t, vfs.EISDIR, einfo.Code)
	})

	t.Run("create without parent", func(t *testing.T) {
		var einfo vfs.ErrInfo
		_, rc := ns.OpenFile(ctx, "/x/y/f", vfs.OpenWriteOnly|vfs.OpenCreate, 0, &einfo, alice, "")
		assert.Equal(t, vfs.Error, rc)
		assert.Equal(t, vfs.ENOENT, einfo.Code)
	})

	t.Run("create with make path", func(t *testing.T) {
		var einfo vfs.ErrInfo
		f, rc := ns.OpenFile(ctx, "/x/y/f", vfs.OpenWriteOnly|vfs.OpenCreate|vfs.OpenMakePath, 0, &einfo, alice, "")
		require.Equal(t, vfs.OK, rc, einfo.String())
		require.Equal(t, vfs.OK, f.Close(ctx, &einfo))

		exists, _ := ns.Exists(ctx, "/x/y", &einfo, alice, "")
		assert.Equal(t, vfs.ExistsDirectory, exists)
	})

	t.Run("read only rejects writes", func(t *testing.T) {
		var einfo vfs.ErrInfo
		f, rc := ns.OpenFile(ctx, "/f", vfs.OpenReadOnly, 0, &einfo, alice, "")
		require.Equal(t, vfs.OK, rc)
		assert.Equal(t, vfs.Error, f.Write(ctx, 0, []byte("x"), &einfo))
		assert.Equal(t, vfs.EBADF, einfo.Code)
	})

	t.Run("write only rejects reads", func(t *testing.T) {
		var einfo vfs.ErrInfo
		f, rc := ns.OpenFile(ctx, "/f", vfs.OpenWriteOnly, 0, &einfo, alice, "")
		require.Equal(t, vfs.OK, rc)
		assert.Equal(t, vfs.Error, f.Read(ctx, 0, make([]byte, 4), &einfo))
		assert.Equal(t, vfs.EBADF, einfo.Code)
	})

	t.Run("truncate on open", func(t *testing.T) {
		var einfo vfs.ErrInfo
		f, rc := ns.OpenFile(ctx, "/f", vfs.OpenWriteOnly|vfs.OpenTruncate, 0, &einfo, alice, "")
		require.Equal(t, vfs.OK, rc)
		require.Equal(t, vfs.OK, f.Close(ctx, &einfo))
		assert.Empty(t, readFile(t, ns, "/f"))
	})
}

func TestRemovedFileHandle(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	writeFile(t, ns, "/f", "x")

	var einfo vfs.ErrInfo
	f, rc := ns.OpenFile(ctx, "/f", vfs.OpenReadWrite, 0, &einfo, alice, "")
	require.Equal(t, vfs.OK, rc)
	require.Equal(t, vfs.OK, ns.Remove(ctx, "/f", &einfo, alice, ""))

	_, rc = f.Stat(ctx, &einfo)
	assert.Equal(t, vfs.Error, rc)
	assert.Equal(t, vfs.ENOENT, einfo.Code)
}

func TestConcurrentWritersExtendSize(t *testing.T) {
	ctx := context.Background()
	ns := newNamespace(t)
	writeFile(t, ns, "/f", "")

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var einfo vfs.ErrInfo
			f, rc := ns.OpenFile(ctx, "/f", vfs.OpenWriteOnly, 0, &einfo, alice, "")
			if !assert.Equal(t, vfs.OK, rc) {
				return
			}
			defer f.Close(ctx, &einfo)
			assert.EqualValues(t, 4, f.Write(ctx, int64(i*4), []byte("abcd"), &einfo))
		}()
	}
	wg.Wait()

	var einfo vfs.ErrInfo
	st, rc := ns.Stat(ctx, "/f", &einfo, alice, "")
	require.Equal(t, vfs.OK, rc)
	assert.EqualValues(t, 32, st.Size)
}

func TestPersistentStores(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	open := func() *Namespace {
		meta, err := metabadger.New(ctx, metabadger.Config{Path: dir + "/meta"})
		require.NoError(t, err)
		data, err := contentfs.New(ctx, contentfs.Config{Path: dir + "/content"})
		require.NoError(t, err)
		ns, err := New(ctx, meta, data, Options{})
		require.NoError(t, err)
		return ns
	}

	ns := open()
	mkdir(t, ns, "/d")
	writeFile(t, ns, "/d/f", "survives restarts")
	require.NoError(t, ns.Close())

	ns = open()
	defer ns.Close()
	assert.Equal(t, "survives restarts", readFile(t, ns, "/d/f"))
}
