// Package local provides a local file system implementation of the storage adapter interfaces.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// ProviderKind defines the type identifier for this local storage adapter.
const ProviderKind = "local"

// localStore implements storage.ObjectStore over a directory tree.
type localStore struct {
	root string
}

var _ storage.ObjectStore = (*localStore)(nil)

// NewLocalStore creates a new ObjectStore rooted at the given directory.
// The directory is created if it does not exist.
func NewLocalStore(root string) (storage.ObjectStore, error) {
	if root == "" {
		return nil, fmt.Errorf("local storage adapter: root directory must be specified")
	}
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(root, 0755); err != nil {
				return nil, fmt.Errorf("local storage adapter: failed to create root '%s': %w", root, err)
			}
		} else {
			return nil, fmt.Errorf("local storage adapter: failed to stat root '%s': %w", root, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("local storage adapter: root '%s' is not a directory", root)
	}

	return &localStore{root: root}, nil
}

// Kind returns the backend identifier, which is "local".
func (s *localStore) Kind() string {
	return ProviderKind
}

// Close does nothing for the local file system adapter as it holds no special resources.
func (s *localStore) Close() error {
	logger.Debugf("Local storage adapter rooted at '%s' closed.", s.root)
	return nil
}

// Upload writes data to the object path, creating intermediate directories.
func (s *localStore) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory '%s': %w", dir, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded data to '%s' (local adapter).", fullPath)
	return nil
}

// Download opens the object file. The returned io.ReadCloser must be closed by the caller.
func (s *localStore) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	return file, nil
}

// List walks the root directory and calls fn for each file whose
// slash-separated name starts with prefix.
func (s *localStore) List(ctx context.Context, prefix string, fn func(storage.ObjectInfo) error) error {
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		objectName, err := filepath.Rel(s.root, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s' from '%s': %w", path, s.root, err)
		}
		objectName = strings.ReplaceAll(objectName, "\\", "/")

		if prefix != "" && !strings.HasPrefix(objectName, prefix) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat '%s': %w", path, err)
		}

		return fn(storage.ObjectInfo{
			Name:    objectName,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	})
	if err != nil {
		return fmt.Errorf("failed to list objects under '%s' with prefix '%s': %w", s.root, prefix, err)
	}
	return nil
}

// Delete removes the object file. A missing file is not an error.
func (s *localStore) Delete(ctx context.Context, objectName string) error {
	fullPath, err := s.resolvePath(objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local adapter).", fullPath)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	logger.Debugf("Deleted object '%s' (local adapter).", fullPath)
	return nil
}

// resolvePath resolves the full path of an object relative to the root and
// rejects paths that escape it.
func (s *localStore) resolvePath(objectName string) (string, error) {
	fullPath := filepath.Join(s.root, filepath.FromSlash(objectName))

	absRoot, err := filepath.Abs(s.root)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for root '%s': %w", s.root, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}

	if absFullPath != absRoot && !strings.HasPrefix(absFullPath, absRoot+string(os.PathSeparator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of root '%s'", fullPath, s.root)
	}
	return fullPath, nil
}
