// Package content defines the byte store behind regular files of the
// reference namespace. Content is addressed by an opaque identifier handed out
// by the metadata layer.
package content

import (
	"context"
	"errors"
)

// ErrContentNotFound is returned when no content exists under the identifier.
var ErrContentNotFound = errors.New("content not found")

// Store is the content store interface.
//
// ReadAt fills p from offset and returns the number of bytes read; reading at
// or past the end is a short read, not an error. WriteAt and Truncate create
// missing content, extending with zeros as needed. Delete is idempotent.
type Store interface {
	ReadAt(ctx context.Context, id string, p []byte, offset int64) (int, error)
	WriteAt(ctx context.Context, id string, data []byte, offset int64) error
	Truncate(ctx context.Context, id string, size int64) error
	Size(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) error
}

// Resize returns buf grown or shrunk to size, reusing its backing array where
// possible. New bytes are zero.
func Resize(buf []byte, size int64) []byte {
	n := int(size)
	if n <= len(buf) {
		return buf[:n]
	}
	if n <= cap(buf) {
		grown := buf[:n]
		clear(grown[len(buf):])
		return grown
	}
	grown := make([]byte, n)
	copy(grown, buf)
	return grown
}

// Splice writes data into buf at offset, growing buf as needed.
func Splice(buf, data []byte, offset int64) []byte {
	end := offset + int64(len(data))
	if end > int64(len(buf)) {
		buf = Resize(buf, end)
	}
	copy(buf[offset:], data)
	return buf
}
