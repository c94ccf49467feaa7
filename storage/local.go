package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalBucket stores objects as files under a root directory.
type LocalBucket struct {
	root string
}

// NewLocalBucket creates the root directory if needed.
func NewLocalBucket(root string) (*LocalBucket, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create local storage directory: %w", err)
	}
	return &LocalBucket{root: root}, nil
}

// path maps a key to a file path, refusing keys that escape the root.
func (b *LocalBucket) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.root, filepath.FromSlash(clean)), nil
}

func (b *LocalBucket) Create(_ context.Context, key string, data []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errKeyExists
		}
		return fmt.Errorf("create file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(p)
		return fmt.Errorf("close file: %w", err)
	}
	return nil
}

func (b *LocalBucket) Read(_ context.Context, key string) ([]byte, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	return data, nil
}

// List lists files directly under the directory named by prefix.
func (b *LocalBucket) List(_ context.Context, prefix string) ([]string, error) {
	dir, err := b.path(prefix)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read local storage directory: %w", err)
	}
	base := strings.TrimSuffix(prefix, "/") + "/"
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		keys = append(keys, base+e.Name())
	}
	return keys, nil
}

func (*LocalBucket) Close() error { return nil }
