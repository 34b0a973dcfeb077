package checkpoint

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/maneesh/koko2vichan/internal/errors"
)

// FileStore keeps every board's checkpoint in one JSON file, read once at
// open and rewritten in full on every save.
type FileStore struct {
	path string

	mu    sync.Mutex
	units map[string]*Checkpoint
}

// OpenFileStore reads path, creating it when missing. An unreadable file is fatal.
func OpenFileStore(path string) (*FileStore, error) {
	fsStore := &FileStore{path: path, units: make(map[string]*Checkpoint)}

	data, err := os.ReadFile(path)
	switch {
	case stderrors.Is(err, fs.ErrNotExist):
		if err := fsStore.flush(); err != nil {
			return nil, err
		}
		return fsStore, nil
	case err != nil:
		return nil, errors.NewCheckpointCorrupt(path, err)
	}

	if err := json.Unmarshal(data, &fsStore.units); err != nil {
		return nil, errors.NewCheckpointCorrupt(path, err)
	}
	for unit, cp := range fsStore.units {
		if cp == nil {
			delete(fsStore.units, unit)
		}
	}
	return fsStore, nil
}

// Load returns a copy of the board's checkpoint.
func (s *FileStore) Load(_ context.Context, unit string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units[unit].Clone(), nil
}

// Save snapshots cp and rewrites the file.
func (s *FileStore) Save(_ context.Context, unit string, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.units[unit]
	s.units[unit] = cp.Clone()
	if err := s.flush(); err != nil {
		if had {
			s.units[unit] = prev
		} else {
			delete(s.units, unit)
		}
		return err
	}
	return nil
}

// Close is a no-op; every save is already on disk.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) flush() error {
	data, err := json.Marshal(s.units)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoints: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}
