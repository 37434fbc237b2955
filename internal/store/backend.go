// Package store persists the entry/edge container. The whole store is loaded
// and saved wholesale; a reader never observes a half-written store.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrCorrupt marks a persisted store that exists but cannot be read back.
var ErrCorrupt = errors.New("corrupt store")

// Backend loads and saves a whole Store.
type Backend interface {
	Load() (*Store, error)
	Save(st *Store) error
	Path() string
}

// DefaultPath returns the default store path: ~/.metacog/store.json
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".metacog", "store.json"), nil
}

// Open picks a backend by file extension: .db/.sqlite/.sqlite3 select
// SQLite, anything else the JSON file backend.
func Open(path string) Backend {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return NewSQLite(path)
	default:
		return NewFile(path)
	}
}

// LoadOrReset loads the store. A corrupt store is renamed aside and replaced
// by an empty one with a warning; any other failure is returned.
func LoadOrReset(b Backend, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}

	st, err := b.Load()
	if err == nil {
		if n := st.Repair(); n > 0 {
			log.Warn("store: skipped malformed records", zap.Int("dropped", n), zap.String("path", b.Path()))
		}
		return st, nil
	}
	if !errors.Is(err, ErrCorrupt) {
		return nil, err
	}

	backup, berr := backupCorrupt(b.Path(), time.Now().UTC())
	if berr != nil {
		return nil, fmt.Errorf("back up corrupt store: %w", berr)
	}
	log.Warn("store: corrupt store moved aside, starting fresh",
		zap.String("path", b.Path()),
		zap.String("backup", backup),
		zap.Error(err))
	return New(), nil
}

// backupCorrupt renames path (and any SQLite sidecar files) to
// <path>.corrupt-<timestamp>.
func backupCorrupt(path string, now time.Time) (string, error) {
	backup := fmt.Sprintf("%s.corrupt-%s", path, now.Format("20060102T150405Z"))
	if err := os.Rename(path, backup); err != nil {
		return "", err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if _, err := os.Stat(path + suffix); err == nil {
			os.Rename(path+suffix, backup+suffix)
		}
	}
	return backup, nil
}

// WriteAtomic writes data to a temporary file in the destination directory,
// syncs it and renames it over path.
func WriteAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
