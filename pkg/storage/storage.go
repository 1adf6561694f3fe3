// Package storage stores replay snapshot files on local disk or in an
// S3-compatible object store.
//
// Paths are forward-slash separated and relative to the store root. Every
// FileStore is safe for concurrent use.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrInvalidPath is returned for empty, absolute or escaping paths.
var ErrInvalidPath = errors.New("storage: invalid path")

// FileStore reads and writes whole files.
type FileStore interface {
	// Read opens name. A missing file yields an error wrapping
	// os.ErrNotExist.
	Read(ctx context.Context, name string) (io.ReadCloser, error)

	// Write creates or replaces name. The file becomes visible when the
	// returned writer is closed without error.
	Write(ctx context.Context, name string) (io.WriteCloser, error)

	// Delete removes name. Missing files are not an error.
	Delete(ctx context.Context, name string) error

	// Exists reports whether name exists.
	Exists(ctx context.Context, name string) (bool, error)

	// List returns the names under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Clean validates name and returns it in canonical form.
func Clean(name string) (string, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	c := path.Clean(name)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return c, nil
}
