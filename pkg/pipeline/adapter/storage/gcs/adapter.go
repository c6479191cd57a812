// Package gcs provides a Google Cloud Storage implementation of the storage adapter interfaces.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	storage "github.com/coraldata/medley/pkg/pipeline/adapter/storage"
	"github.com/coraldata/medley/pkg/pipeline/support/logger"
)

// ProviderKind defines the type identifier for this GCS storage adapter.
const ProviderKind = "gcs"

// gcsStore implements storage.ObjectStore over a single GCS bucket.
type gcsStore struct {
	client *gcstorage.Client
	bucket string
}

var _ storage.ObjectStore = (*gcsStore)(nil)

// NewGCSStore creates a new ObjectStore over the given bucket.
// Credentials follow the usual Application Default Credentials chain;
// extra client options (e.g. option.WithCredentialsFile) may be passed through.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (storage.ObjectStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs storage adapter: bucket must be specified")
	}
	client, err := gcstorage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs storage adapter: failed to create client: %w", err)
	}
	return &gcsStore{client: client, bucket: bucket}, nil
}

// Kind returns the backend identifier, which is "gcs".
func (s *gcsStore) Kind() string {
	return ProviderKind
}

// Close releases the underlying GCS client.
func (s *gcsStore) Close() error {
	logger.Debugf("GCS storage adapter for bucket '%s' closed.", s.bucket)
	return s.client.Close()
}

// Upload writes the data stream to the named object.
func (s *gcsStore) Upload(ctx context.Context, objectName string, data io.Reader, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write object 'gs://%s/%s': %w", s.bucket, objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object 'gs://%s/%s': %w", s.bucket, objectName, err)
	}
	logger.Debugf("Uploaded data to 'gs://%s/%s'.", s.bucket, objectName)
	return nil
}

// Download opens the named object for reading. The returned io.ReadCloser must
// be closed by the caller.
func (s *gcsStore) Download(ctx context.Context, objectName string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open object 'gs://%s/%s': %w", s.bucket, objectName, err)
	}
	return r, nil
}

// List iterates the bucket objects under prefix and calls fn for each one.
func (s *gcsStore) List(ctx context.Context, prefix string, fn func(storage.ObjectInfo) error) error {
	it := s.client.Bucket(s.bucket).Objects(ctx, &gcstorage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to list objects in 'gs://%s' with prefix '%s': %w", s.bucket, prefix, err)
		}
		if err := fn(storage.ObjectInfo{
			Name:    attrs.Name,
			Size:    attrs.Size,
			ModTime: attrs.Updated,
		}); err != nil {
			return err
		}
	}
}

// Delete removes the named object. Deleting a missing object is not an error.
func (s *gcsStore) Delete(ctx context.Context, objectName string) error {
	err := s.client.Bucket(s.bucket).Object(objectName).Delete(ctx)
	if errors.Is(err, gcstorage.ErrObjectNotExist) {
		logger.Warnf("Attempted to delete non-existent object 'gs://%s/%s'.", s.bucket, objectName)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete object 'gs://%s/%s': %w", s.bucket, objectName, err)
	}
	logger.Debugf("Deleted object 'gs://%s/%s'.", s.bucket, objectName)
	return nil
}
