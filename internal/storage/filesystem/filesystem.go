// Package filesystem stores values as files. The first key part is split after
// two characters the way git splays objects: [abcdef, snapshot, h] lives at
// ab/cdef/snapshot/h.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/serroba/docsync/internal/storage"
)

const tempPrefix = ".tmp-"

// Adapter is a filesystem implementation of storage.Adapter.
type Adapter struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Adapter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}

	return &Adapter{root: root}, nil
}

func (a *Adapter) path(key storage.Key) (string, error) {
	if len(key) == 0 || len(key[0]) < 3 {
		return "", fmt.Errorf("%w: first part of %q shorter than 3 characters", storage.ErrInvalidKey, key.String())
	}

	parts := make([]string, 0, len(key)+2)
	parts = append(parts, a.root, key[0][:2], key[0][2:])
	parts = append(parts, key[1:]...)

	return filepath.Join(parts...), nil
}

// key reverses path for a file under root.
func (a *Adapter) key(path string) (storage.Key, error) {
	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return nil, err
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: %s", storage.ErrInvalidKey, rel)
	}

	return storage.NewKey(append([]string{parts[0] + parts[1]}, parts[2:]...)...)
}

// Load returns the value stored under key.
func (a *Adapter) Load(_ context.Context, key storage.Key) ([]byte, error) {
	p, err := a.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, storage.ErrKeyNotFound
	}

	return data, err
}

// LoadRange returns every file below the prefix directory.
func (a *Adapter) LoadRange(ctx context.Context, prefix storage.Key) ([]storage.Entry, error) {
	dir, err := a.path(prefix)
	if err != nil {
		return nil, err
	}

	var result []storage.Entry

	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}

			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) || p == dir {
			return nil
		}

		key, err := a.key(p)
		if err != nil {
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		result = append(result, storage.Entry{Key: key, Value: data})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Put writes through a temporary file so readers never see partial values.
func (a *Adapter) Put(_ context.Context, key storage.Key, value []byte) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	if err := os.Rename(tmp.Name(), p); err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	return nil
}

// Delete removes the file for key.
func (a *Adapter) Delete(_ context.Context, key storage.Key) error {
	p, err := a.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

var _ storage.Adapter = (*Adapter)(nil)
