package storefront

import (
	"os"
	"path/filepath"

	"github.com/go-faster/errors"
)

// FileStore persists the basket blob in a single file. Writes go to a
// temporary file that is renamed over the target, so a crash never leaves a
// torn basket behind.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the basket is stored in.
func (f *FileStore) Path() string {
	return f.path
}

// Save implements basket.Persister.
func (f *FileStore) Save(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create basket dir")
	}
	tmp, err := os.CreateTemp(dir, ".basket-*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write basket")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close basket")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "replace basket")
	}
	return nil
}

// Load returns the stored blob, or nil when nothing was saved yet.
func (f *FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read basket")
	}
	return data, nil
}
