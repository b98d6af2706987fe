// Package testing holds a conformance suite shared by the metadata store
// implementations.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/authproxy/pkg/store/metadata"
)

// StoreTestSuite runs the metadata.Store contract against a fresh store per
// subtest.
//
//	func TestStore(t *testing.T) {
//	    suite := &storetesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) metadata.Store { return memory.New() },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	NewStore func(t *testing.T) metadata.Store
}

func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("Delete", suite.testDelete)
	t.Run("Children", suite.testChildren)
	t.Run("ChildrenOfSiblingPrefix", suite.testChildrenSiblingPrefix)
	t.Run("RenameSubtree", suite.testRenameSubtree)
	t.Run("RenameOntoExisting", suite.testRenameOntoExisting)
	t.Run("NextIno", suite.testNextIno)
	t.Run("Statistics", suite.testStatistics)
	t.Run("Concurrent", suite.testConcurrent)
	t.Run("Closed", suite.testClosed)
}

func (suite *StoreTestSuite) store(t *testing.T) metadata.Store {
	s := suite.NewStore(t)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Put(context.Background(), Dir("/")))
	return s
}

// Dir returns a directory entry at p.
func Dir(p string) *metadata.Entry {
	return &metadata.Entry{Path: p, Mode: 0o040755, Nlink: 2}
}

// File returns a regular file entry at p.
func File(p string, size int64) *metadata.Entry {
	return &metadata.Entry{Path: p, Mode: 0o100644, Nlink: 1, Size: size, ContentID: "c" + p}
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	want := File("/a.txt", 42)
	want.Ino = 7
	want.Mtime = 1234
	require.NoError(t, s.Put(ctx, want))

	got, err := s.Get(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got.Size = 99
	again, err := s.Get(ctx, "/a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 42, again.Size, "returned entries must not alias the store")

	want.Size = 100
	require.NoError(t, s.Put(ctx, want))
	got, err = s.Get(ctx, "/a.txt")
	require.NoError(t, err)
	assert.EqualValues(t, 100, got.Size)
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	s := suite.store(t)

	_, err := s.Get(context.Background(), "/nope")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, File("/f", 1)))
	require.NoError(t, s.Delete(ctx, "/f"))

	_, err := s.Get(ctx, "/f")
	assert.ErrorIs(t, err, metadata.ErrNotFound)

	names, err := s.Children(ctx, "/")
	require.NoError(t, err)
	assert.Empty(t, names)

	assert.ErrorIs(t, s.Delete(ctx, "/f"), metadata.ErrNotFound)
}

func (suite *StoreTestSuite) testChildren(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, Dir("/d")))
	require.NoError(t, s.Put(ctx, File("/d/b", 1)))
	require.NoError(t, s.Put(ctx, File("/d/a", 1)))
	require.NoError(t, s.Put(ctx, Dir("/d/c")))
	require.NoError(t, s.Put(ctx, File("/d/c/deep", 1)))

	names, err := s.Children(ctx, "/d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, names)

	names, err = s.Children(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, names)

	_, err = s.Children(ctx, "/missing")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) testChildrenSiblingPrefix(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, Dir("/a")))
	require.NoError(t, s.Put(ctx, Dir("/ab")))
	require.NoError(t, s.Put(ctx, File("/ab/x", 1)))

	names, err := s.Children(ctx, "/a")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func (suite *StoreTestSuite) testRenameSubtree(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, Dir("/src")))
	require.NoError(t, s.Put(ctx, Dir("/src/sub")))
	require.NoError(t, s.Put(ctx, File("/src/sub/f", 3)))
	require.NoError(t, s.Put(ctx, Dir("/srcx")))
	require.NoError(t, s.Put(ctx, Dir("/dst")))

	require.NoError(t, s.Rename(ctx, "/src", "/dst/moved"))

	for _, p := range []string{"/src", "/src/sub", "/src/sub/f"} {
		_, err := s.Get(ctx, p)
		assert.ErrorIs(t, err, metadata.ErrNotFound, p)
	}

	f, err := s.Get(ctx, "/dst/moved/sub/f")
	require.NoError(t, err)
	assert.Equal(t, "/dst/moved/sub/f", f.Path)
	assert.EqualValues(t, 3, f.Size)

	_, err = s.Get(ctx, "/srcx")
	assert.NoError(t, err, "sibling sharing the name prefix must not move")

	names, err := s.Children(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, []string{"dst", "srcx"}, names)

	names, err = s.Children(ctx, "/dst/moved")
	require.NoError(t, err)
	assert.Equal(t, []string{"sub"}, names)

	_, err = s.Children(ctx, "/src")
	assert.ErrorIs(t, err, metadata.ErrNotFound)
}

func (suite *StoreTestSuite) testRenameOntoExisting(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, File("/a", 1)))
	require.NoError(t, s.Put(ctx, File("/b", 2)))

	assert.ErrorIs(t, s.Rename(ctx, "/a", "/b"), metadata.ErrExists)
	assert.ErrorIs(t, s.Rename(ctx, "/missing", "/c"), metadata.ErrNotFound)

	b, err := s.Get(ctx, "/b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.Size)
}

func (suite *StoreTestSuite) testNextIno(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	seen := make(map[uint64]bool)
	for range 300 {
		ino, err := s.NextIno(ctx)
		require.NoError(t, err)
		assert.Greater(t, ino, metadata.RootIno)
		assert.False(t, seen[ino], "inode %d handed out twice", ino)
		seen[ino] = true
	}
}

func (suite *StoreTestSuite) testStatistics(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	require.NoError(t, s.Put(ctx, Dir("/d")))
	require.NoError(t, s.Put(ctx, File("/d/a", 10)))
	require.NoError(t, s.Put(ctx, File("/d/b", 5)))

	st, err := s.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, metadata.Statistics{Entries: 4, Files: 2, Directories: 2, Bytes: 15}, st)
}

func (suite *StoreTestSuite) testConcurrent(t *testing.T) {
	ctx := context.Background()
	s := suite.store(t)

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := fmt.Sprintf("/f%02d", i)
			for j := range 20 {
				assert.NoError(t, s.Put(ctx, File(p, int64(j))))
				_, err := s.Get(ctx, p)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	names, err := s.Children(ctx, "/")
	require.NoError(t, err)
	assert.Len(t, names, 16)
}

func (suite *StoreTestSuite) testClosed(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)
	require.NoError(t, s.Close())

	_, err := s.Get(ctx, "/")
	assert.ErrorIs(t, err, metadata.ErrClosed)
	assert.ErrorIs(t, s.Put(ctx, Dir("/")), metadata.ErrClosed)
}
