// Package blob stores package archives on the local filesystem.
//
// Archives are written once per (package, version) and overwritten when a
// mutable dev version is re-ingested. File names are derived from the
// package and version names with path separators flattened, so a version
// like dev-feature/x never escapes the archive directory.
package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/depot/pkg/errors"
)

// Store persists and retrieves archive bytes keyed by package and version.
type Store interface {
	Put(ctx context.Context, pkgName, versionName string, data []byte) error
	Get(ctx context.Context, pkgName, versionName string) ([]byte, error)
	Delete(ctx context.Context, pkgName, versionName string) error
}

// FileStore is a Store rooted at a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the archive directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "creating archive dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

var _ Store = (*FileStore)(nil)

func (s *FileStore) Put(_ context.Context, pkgName, versionName string, data []byte) error {
	path := s.path(pkgName, versionName)

	// Write-then-rename keeps concurrent downloads from seeing a torn file.
	tmp, err := os.CreateTemp(s.dir, "archive-*.tmp")
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "creating temp archive")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(errors.ErrCodeInternal, err, "writing archive")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "closing archive")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "storing archive %s", path)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, pkgName, versionName string) ([]byte, error) {
	data, err := os.ReadFile(s.path(pkgName, versionName))
	if os.IsNotExist(err) {
		return nil, errors.New(errors.ErrCodeVersionNotFound, "archive for %s %s not found", pkgName, versionName)
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "reading archive")
	}
	return data, nil
}

func (s *FileStore) Delete(_ context.Context, pkgName, versionName string) error {
	err := os.Remove(s.path(pkgName, versionName))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrCodeInternal, err, "deleting archive")
	}
	return nil
}

func (s *FileStore) path(pkgName, versionName string) string {
	return filepath.Join(s.dir, flatten(pkgName)+"-"+flatten(versionName)+".zip")
}

func flatten(s string) string {
	return strings.ReplaceAll(s, "/", "-")
}
