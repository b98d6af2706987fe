package fs

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/authproxy/pkg/namespace"
	contentmemory "github.com/marmos91/authproxy/pkg/store/content/memory"
	metadatamemory "github.com/marmos91/authproxy/pkg/store/metadata/memory"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// useNamespace points the subcommands at an in-process namespace.
func useNamespace(t *testing.T) {
	t.Helper()

	ns, err := namespace.New(context.Background(), metadatamemory.New(), contentmemory.New(), namespace.Options{
		Host: "edge.example.org",
		Port: 1094,
	})
	require.NoError(t, err)

	prev := Connect
	Connect = func(context.Context) (vfs.FileSystem, func(), error) {
		return ns, func() {}, nil
	}
	t.Cleanup(func() {
		Connect = prev
		_ = ns.Close()
	})
}

// execute runs the fs command with args and returns what it printed.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	lsLong, mkdirPath, putParents = false, false, false
	outputFormat, checksumFn, checksumAlg = "table", "calc", "adler32"

	var out bytes.Buffer
	Cmd.SetOut(&out)
	Cmd.SetErr(&bytes.Buffer{})
	Cmd.SetIn(strings.NewReader(stdin))
	Cmd.SetArgs(append(args, "--user", "tester"))
	err := Cmd.Execute()
	return out.String(), err
}

func TestDirectoryCommands(t *testing.T) {
	useNamespace(t)

	_, err := execute(t, "", "mkdir", "-p", "/data/run1")
	require.NoError(t, err)

	out, err := execute(t, "", "exists", "/data/run1")
	require.NoError(t, err)
	assert.Equal(t, "/data/run1: directory\n", out)

	_, err = execute(t, "", "mkdir", "/data/run2")
	require.NoError(t, err)

	out, err = execute(t, "", "ls", "/data")
	require.NoError(t, err)
	assert.Equal(t, "run1\nrun2\n", out)

	_, err = execute(t, "", "rmdir", "/data/run2")
	require.NoError(t, err)

	out, err = execute(t, "", "exists", "/data/run2")
	require.NoError(t, err)
	assert.Equal(t, "/data/run2: no\n", out)
}

func TestFileRoundTrip(t *testing.T) {
	useNamespace(t)

	_, err := execute(t, "hello from the edge\n", "put", "-p", "-", "/data/hello.txt")
	require.NoError(t, err)

	out, err := execute(t, "", "cat", "/data/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello from the edge\n", out)

	out, err = execute(t, "", "stat", "-o", "json", "/data/hello.txt")
	require.NoError(t, err)
	assert.Contains(t, out, `"type": "file"`)
	assert.Contains(t, out, `"size": 20`)
	assert.Contains(t, out, `"mode": "0644"`)

	_, err = execute(t, "", "truncate", "/data/hello.txt", "5")
	require.NoError(t, err)
	out, err = execute(t, "", "cat", "/data/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = execute(t, "", "chmod", "600", "/data/hello.txt")
	require.NoError(t, err)
	_, err = execute(t, "", "mv", "/data/hello.txt", "/data/renamed.txt")
	require.NoError(t, err)

	out, err = execute(t, "", "ls", "-l", "/data")
	require.NoError(t, err)
	assert.Contains(t, out, "-rw-------")
	assert.Contains(t, out, "renamed.txt")

	_, err = execute(t, "", "rm", "/data/renamed.txt")
	require.NoError(t, err)
	_, err = execute(t, "", "stat", "/data/renamed.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such file or directory")
}

func TestChecksum(t *testing.T) {
	useNamespace(t)

	_, err := execute(t, "abc", "put", "-", "/abc")
	require.NoError(t, err)

	out, err := execute(t, "", "checksum", "--algo", "md5", "/abc")
	require.NoError(t, err)
	assert.Equal(t, "md5 900150983cd24fb0d6963f7d28e17f72 /abc\n", out)

	out, err = execute(t, "", "checksum", "--algo", "sha256", "--fn", "size", "/abc")
	require.NoError(t, err)
	assert.Equal(t, "sha256 32\n", out)

	_, err = execute(t, "", "checksum", "--fn", "bogus", "/abc")
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	useNamespace(t)

	out, err := execute(t, "", "locate")
	require.NoError(t, err)
	assert.Equal(t, "[::edge.example.org]:1094\n", out)
}

func TestInvalidArguments(t *testing.T) {
	useNamespace(t)

	_, err := execute(t, "", "chmod", "rwx", "/abc")
	assert.ErrorContains(t, err, "invalid mode")

	_, err = execute(t, "", "truncate", "/abc", "lots")
	assert.ErrorContains(t, err, "invalid size")

	_, err = execute(t, "", "stat", "-o", "xml", "/")
	assert.ErrorContains(t, err, "invalid output format")
}

func TestCheckReportsRedirects(t *testing.T) {
	einfo := vfs.ErrInfo{Code: 1094, Message: "other.example.org"}
	assert.EqualError(t, check("stat", "/f", vfs.Redirect, &einfo), "stat /f: redirected to other.example.org:1094")

	einfo = vfs.ErrInfo{Code: vfs.CollapseRedirectCode, Message: "root://other.example.org:1094//f"}
	assert.EqualError(t, check("stat", "/f", vfs.Redirect, &einfo), "stat /f: redirected to root://other.example.org:1094//f")

	assert.ErrorContains(t, check("stat", "/f", vfs.ReturnCode(5), &vfs.ErrInfo{}), "retry in 5 seconds")
	assert.NoError(t, check("stat", "/f", vfs.Data, &vfs.ErrInfo{}))
}
