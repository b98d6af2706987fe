package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/authproxy/pkg/store/content"
	storetesting "github.com/marmos91/authproxy/pkg/store/content/testing"
)

func TestStore(t *testing.T) {
	suite := &storetesting.StoreTestSuite{
		NewStore: func(t *testing.T) content.Store {
			s, err := New(context.Background(), Config{Path: t.TempDir()})
			require.NoError(t, err)
			return s
		},
	}
	suite.Run(t)
}

func TestNewCreatesBaseDirectory(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "content")

	_, err := New(context.Background(), Config{Path: base})
	require.NoError(t, err)

	info, err := os.Stat(base)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestIdentifiersAreFileSafe(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s, err := New(ctx, Config{Path: base})
	require.NoError(t, err)

	require.NoError(t, s.WriteAt(ctx, "../escape/attempt", []byte("x"), 0))

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
}
