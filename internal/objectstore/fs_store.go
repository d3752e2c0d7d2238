package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/speech-server/internal/core"
)

const (
	dirPermissions  = 0o755
	filePermissions = 0o644
	tempPrefix      = ".tmp-"
)

// ErrInvalidKey is returned for keys that would escape the store directory.
var ErrInvalidKey = errors.New("invalid object key")

// FileObjectStore keeps one file per key in a flat directory.
type FileObjectStore struct {
	dir string
}

// NewFilesystem creates dir if needed and returns a store rooted at it.
func NewFilesystem(dir string) (*FileObjectStore, error) {
	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create store directory '%s': %w", dir, err)
	}

	return &FileObjectStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (f *FileObjectStore) Dir() string {
	return f.dir
}

// Download reads the file stored under key.
func (f *FileObjectStore) Download(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, f.wrap("read", key, err)
	}

	return data, nil
}

// Upload writes data durably: temp file, fsync, then rename over the key.
func (f *FileObjectStore) Upload(_ context.Context, key string, data []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, tempPrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", key, err)
	}

	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}

	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}

	if err == nil {
		err = os.Chmod(tmpName, filePermissions)
	}

	if err == nil {
		err = os.Rename(tmpName, path)
	}

	if err != nil {
		_ = os.Remove(tmpName)

		return fmt.Errorf("failed to write object '%s': %w", key, err)
	}

	return nil
}

// Delete removes the file stored under key.
func (f *FileObjectStore) Delete(_ context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}

	err = os.Remove(path)
	if err != nil {
		return f.wrap("remove", key, err)
	}

	return nil
}

// List returns every stored key in directory order.
func (f *FileObjectStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read store directory '%s': %w", f.dir, err)
	}

	keys := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		keys = append(keys, entry.Name())
	}

	return keys, nil
}

func (f *FileObjectStore) path(key string) (string, error) {
	if key == "" || key != filepath.Base(key) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	return filepath.Join(f.dir, key), nil
}

func (f *FileObjectStore) wrap(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s '%s': %w", op, key, core.ErrObjectNotFound)
	}

	return fmt.Errorf("failed to %s '%s': %w", op, key, err)
}
