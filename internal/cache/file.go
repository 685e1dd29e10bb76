package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound indicates no cached payload exists at the given location.
var ErrNotFound = errors.New("cache_not_found")

// FileStore persists model payloads as plain files. Reads and writes are
// expected to run off the caller's hot path (the loader invokes them
// from background goroutines).
type FileStore struct{}

// NewFileStore returns a filesystem-backed cache store.
func NewFileStore() *FileStore {
	return &FileStore{}
}

// Read returns the bytes cached at location, or ErrNotFound when the
// file does not exist.
func (s *FileStore) Read(location string) ([]byte, error) {
	data, err := os.ReadFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read cache %s: %w", location, err)
	}
	return data, nil
}

// Write stores data at location, creating parent directories as needed.
// The payload is written to a temp file in the same directory and
// renamed into place so readers never observe a partial write.
func (s *FileStore) Write(location string, data []byte) error {
	dir := filepath.Dir(location)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(location)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, location); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
