package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileBackend keeps the store as a single JSON document.
type FileBackend struct {
	path string
}

// NewFile creates a JSON file backend.
func NewFile(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (f *FileBackend) Path() string { return f.path }

// Load reads the store. A missing file is an empty store; unparseable
// content is ErrCorrupt.
func (f *FileBackend) Load() (*Store, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}

	st := New()
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.path, err)
	}
	if st.Version > CurrentVersion {
		return nil, fmt.Errorf("store %s: unsupported version %d", f.path, st.Version)
	}
	return st, nil
}

// Save atomically replaces the store file.
func (f *FileBackend) Save(st *Store) error {
	st.Version = CurrentVersion
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}
	if err := WriteAtomic(f.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	return nil
}
