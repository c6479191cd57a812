// Package storage defines the common interfaces for blob storage adapters.
// These interfaces abstract the landing area and export target, allowing the
// pipeline to interact with different backends (local file system, GCS)
// through a unified API.
package storage

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one stored object. Size and ModTime participate in the
// file fingerprints the source watcher checkpoints on.
type ObjectInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// ObjectStore defines generic blob storage operations over a single bucket or
// directory tree fixed at construction.
type ObjectStore interface {
	// Upload writes the data stream under the given object name.
	// 'contentType' is the MIME type of the data.
	Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error
	// Download opens the named object for reading.
	// The returned ReadCloser must be closed by the caller.
	Download(ctx context.Context, objectName string) (io.ReadCloser, error)
	// List calls fn for every object whose name starts with prefix.
	// The callback style allows processing large listings without loading
	// them all into memory.
	List(ctx context.Context, prefix string, fn func(ObjectInfo) error) error
	// Delete removes the named object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectName string) error
	// Close releases any underlying client resources.
	Close() error
	// Kind returns the backend identifier ("local", "gcs").
	Kind() string
}
