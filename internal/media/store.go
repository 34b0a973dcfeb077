// Package media copies koko uploads and thumbnails into a vichan instance tree.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/maneesh/koko2vichan/internal/files"
	"github.com/maneesh/koko2vichan/internal/logging"
)

// Store is the destination of migrated media, addressed by paths relative to
// the vichan instance root ("<board>/src/<file>", "<board>/thumb/<file>").
type Store interface {
	Exists(ctx context.Context, relPath string) (bool, error)
	Put(ctx context.Context, relPath string, r io.Reader, size int64) error
}

// LocalStore writes into a vichan instance directory on the local filesystem.
type LocalStore struct {
	root string
}

// NewLocalStore creates a store rooted at the vichan instance path.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Exists reports whether relPath exists under the instance root.
func (ls *LocalStore) Exists(_ context.Context, relPath string) (bool, error) {
	_, err := os.Stat(ls.path(relPath))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Put writes r to relPath, replacing it atomically.
func (ls *LocalStore) Put(_ context.Context, relPath string, r io.Reader, _ int64) error {
	target := ls.path(relPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", relPath, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".koko2vichan-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", relPath, err)
	}
	_, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", relPath, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write %s: %w", relPath, closeErr)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to set mode on %s: %w", relPath, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to move %s into place: %w", relPath, err)
	}
	return nil
}

func (ls *LocalStore) path(relPath string) string {
	return filepath.Join(ls.root, filepath.FromSlash(relPath))
}

// ExistsFunc adapts a Store to the predicate used for thumbnail probing.
// Lookup errors count as missing and are logged.
func ExistsFunc(ctx context.Context, store Store) files.ExistsFunc {
	return func(relPath string) bool {
		ok, err := store.Exists(ctx, relPath)
		if err != nil {
			logging.Warn("media", "exists", fmt.Sprintf("could not check %s: %v", relPath, err))
			return false
		}
		return ok
	}
}
