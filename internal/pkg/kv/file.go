package kv

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"game-session-hub/internal/pkg/lock"
)

// File stores each key as one file in a directory. Writes go through a
// temporary file and a rename so readers never see a partial value.
type File struct {
	dir   string
	locks *lock.KeyLock
}

// NewFile creates dir if needed and returns a store rooted there.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("file cache requires a path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &File{dir: dir, locks: lock.New()}, nil
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

// Get reads the file for key, or returns ErrNotFound.
func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache key %s: %w", key, err)
	}
	return data, nil
}

// Set writes value atomically while holding the key lock.
func (f *File) Set(_ context.Context, key string, value []byte) error {
	return f.locks.WithLock(key, func() error {
		tmp, err := os.CreateTemp(f.dir, ".tmp-*")
		if err != nil {
			return fmt.Errorf("failed to create temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(value); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to write cache key %s: %w", key, err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("failed to write cache key %s: %w", key, err)
		}
		if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
			return fmt.Errorf("failed to commit cache key %s: %w", key, err)
		}
		return nil
	})
}

// Delete removes the file for key. A missing file is not an error.
func (f *File) Delete(_ context.Context, key string) error {
	return f.locks.WithLock(key, func() error {
		if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete cache key %s: %w", key, err)
		}
		return nil
	})
}

// Close is a no-op.
func (f *File) Close() error { return nil }
