// Package testing holds a conformance suite shared by the content store
// implementations.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/authproxy/pkg/store/content"
)

// StoreTestSuite runs the content.Store contract. NewStore must return an
// empty store.
type StoreTestSuite struct {
	NewStore func(t *testing.T) content.Store
}

func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("WriteRead", suite.testWriteRead)
	t.Run("ReadMissing", suite.testReadMissing)
	t.Run("ShortRead", suite.testShortRead)
	t.Run("WriteWithHole", suite.testWriteWithHole)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("Truncate", suite.testTruncate)
	t.Run("Delete", suite.testDelete)
	t.Run("ConcurrentIDs", suite.testConcurrentIDs)
}

func read(t *testing.T, s content.Store, id string, offset int64, length int) []byte {
	t.Helper()
	buf := make([]byte, length)
	n, err := s.ReadAt(context.Background(), id, buf, offset)
	require.NoError(t, err)
	return buf[:n]
}

func (suite *StoreTestSuite) testWriteRead(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)

	require.NoError(t, s.WriteAt(ctx, "a", []byte("hello world"), 0))

	assert.Equal(t, []byte("hello world"), read(t, s, "a", 0, 11))
	assert.Equal(t, []byte("world"), read(t, s, "a", 6, 5))

	size, err := s.Size(ctx, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 11, size)
}

func (suite *StoreTestSuite) testReadMissing(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)

	_, err := s.ReadAt(ctx, "missing", make([]byte, 4), 0)
	assert.ErrorIs(t, err, content.ErrContentNotFound)

	_, err = s.Size(ctx, "missing")
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func (suite *StoreTestSuite) testShortRead(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)
	require.NoError(t, s.WriteAt(ctx, "a", []byte("abc"), 0))

	assert.Equal(t, []byte("bc"), read(t, s, "a", 1, 10))
	assert.Empty(t, read(t, s, "a", 3, 10))
	assert.Empty(t, read(t, s, "a", 100, 10))
}

func (suite *StoreTestSuite) testWriteWithHole(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)

	require.NoError(t, s.WriteAt(ctx, "a", []byte("xy"), 4))
	assert.Equal(t, []byte{0, 0, 0, 0, 'x', 'y'}, read(t, s, "a", 0, 10))
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)

	require.NoError(t, s.WriteAt(ctx, "a", []byte("aaaaaa"), 0))
	require.NoError(t, s.WriteAt(ctx, "a", []byte("bb"), 2))
	assert.Equal(t, []byte("aabbaa"), read(t, s, "a", 0, 10))
}

func (suite *StoreTestSuite) testTruncate(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)

	require.NoError(t, s.WriteAt(ctx, "a", []byte("abcdef"), 0))
	require.NoError(t, s.Truncate(ctx, "a", 3))
	assert.Equal(t, []byte("abc"), read(t, s, "a", 0, 10))

	require.NoError(t, s.Truncate(ctx, "a", 5))
	assert.Equal(t, []byte{'a', 'b', 'c', 0, 0}, read(t, s, "a", 0, 10))

	require.NoError(t, s.Truncate(ctx, "new", 0))
	size, err := s.Size(ctx, "new")
	require.NoError(t, err)
	assert.Zero(t, size)
}

func (suite *StoreTestSuite) testDelete(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)

	require.NoError(t, s.WriteAt(ctx, "a", []byte("x"), 0))
	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	_, err := s.Size(ctx, "a")
	assert.ErrorIs(t, err, content.ErrContentNotFound)
}

func (suite *StoreTestSuite) testConcurrentIDs(t *testing.T) {
	ctx := context.Background()
	s := suite.NewStore(t)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			assert.NoError(t, s.WriteAt(ctx, id, []byte(id), 0))
		}()
	}
	wg.Wait()

	for i := range 8 {
		id := fmt.Sprintf("id-%d", i)
		assert.Equal(t, []byte(id), read(t, s, id, 0, 32))
	}
}
