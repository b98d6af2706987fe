// Package fs stores content as one file per identifier below a base
// directory.
package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/marmos91/authproxy/pkg/store/content"
)

// Config holds the filesystem store options.
type Config struct {
	Path string `mapstructure:"path" validate:"required"`
}

// Store writes through os.File positional I/O. Concurrent writes to the same
// identifier are not ordered; the namespace serializes them per file.
type Store struct {
	basePath string
}

var _ content.Store = (*Store)(nil)

// New creates the base directory if needed.
func New(ctx context.Context, config Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if config.Path == "" {
		return nil, errors.New("filesystem content store: path is required")
	}
	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Store{basePath: config.Path}, nil
}

// filePath hex-encodes id so that any identifier is a safe file name.
func (s *Store) filePath(id string) string {
	return filepath.Join(s.basePath, hex.EncodeToString([]byte(id)))
}

func notFound(op, id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, id, content.ErrContentNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, id, err)
}

func (s *Store) ReadAt(ctx context.Context, id string, p []byte, offset int64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f, err := os.Open(s.filePath(id))
	if err != nil {
		return 0, notFound("read", id, err)
	}
	defer f.Close()

	n, err := f.ReadAt(p, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("read %s: %w", id, err)
	}
	return n, nil
}

func (s *Store) WriteAt(ctx context.Context, id string, data []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.filePath(id), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for writing: %w", id, err)
	}

	if _, err := f.WriteAt(data, offset); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", id, err)
	}
	return f.Close()
}

func (s *Store) Truncate(ctx context.Context, id string, size int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.filePath(id), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open %s for truncate: %w", id, err)
	}

	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return fmt.Errorf("truncate %s: %w", id, err)
	}
	return f.Close()
}

func (s *Store) Size(ctx context.Context, id string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	info, err := os.Stat(s.filePath(id))
	if err != nil {
		return 0, notFound("stat", id, err)
	}
	return info.Size(), nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(s.filePath(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}
