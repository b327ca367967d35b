// Package storage defines the FileStore interface used to hold model
// artifacts. The hub package keeps its download cache in a [Local] store
// and can pull from, or publish to, a shared [S3Store] mirror.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidPath is returned for paths that are absolute or climb out of
// the store root.
var ErrInvalidPath = errors.New("storage: invalid path")

// FileStore is a minimal interface for file-oriented storage.
//
// Paths are forward-slash separated and relative to the store root.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading.
	// The caller must close the returned ReadCloser when done.
	// If the file does not exist, an error wrapping os.ErrNotExist is returned.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing. Parent directories are
	// created automatically. The file becomes visible, replacing any
	// previous content, only when Close succeeds; Abort discards it.
	Write(ctx context.Context, path string) (Writer, error)

	// Delete removes the named file.
	// If the file does not exist, Delete returns nil (idempotent).
	Delete(ctx context.Context, path string) error

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// Writer is an in-progress file write.
type Writer interface {
	io.WriteCloser

	// Abort discards everything written so far. The previous content of
	// the path, if any, is left untouched. Abort after Close is a no-op.
	Abort() error
}
