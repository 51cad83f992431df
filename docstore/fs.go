// Package docstore provides DocumentStore implementations: a filesystem
// store for production use behind a mounted volume, and an in-memory store
// for tests and benchmarks.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gridwise/bundling"
)

// FS stores one file per bundle under a root directory. Writes go to a
// temporary file first and are renamed into place, so readers never observe
// a partial document.
type FS struct {
	root string
}

var _ bundling.DocumentStore = (*FS)(nil)

// NewFS creates the root directory if needed and returns the store.
func NewFS(root string) (*FS, error) {
	if root == "" {
		return nil, ErrRootRequired
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("docstore: create root failed: %w", err)
	}

	return &FS{root: root}, nil
}

// Put implements bundling.DocumentStore.
func (s *FS) Put(ctx context.Context, id bundling.ID, content io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.root, id.String()+".tmp-*")
	if err != nil {
		return fmt.Errorf("docstore: create temp failed: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("docstore: write failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("docstore: close failed: %w", err)
	}

	if err := os.Rename(tmpName, s.path(id)); err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("docstore: rename failed: %w", err)
	}

	return nil
}

// Get implements bundling.DocumentStore.
func (s *FS) Get(ctx context.Context, id bundling.ID) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, bundling.ErrDocumentNotFound
		}

		return nil, fmt.Errorf("docstore: open failed: %w", err)
	}

	return file, nil
}

// Delete implements bundling.DocumentStore.
func (s *FS) Delete(ctx context.Context, id bundling.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(s.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("docstore: remove failed: %w", err)
	}

	return nil
}

func (s *FS) path(id bundling.ID) string {
	return filepath.Join(s.root, id.String())
}
