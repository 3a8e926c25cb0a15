// Package gcs archives crawl reports in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the bucket objects are uploaded to.
type Config struct {
	Bucket string
}

// BlobStore uploads objects to a single GCS bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
}

// New resolves the bucket handle once. The client stays owned by the caller
// and may be shared with other GCS consumers.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("gcs client is required")
	}
	name := strings.TrimSpace(cfg.Bucket)
	if name == "" {
		return nil, errors.New("bucket is not configured")
	}
	return &BlobStore{bucket: client.Bucket(name), name: name}, nil
}

// PutObject streams r into the bucket under objectPath and returns the
// resulting gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", errors.New("object path is empty")
	}

	w := s.bucket.Object(objectPath).NewWriter(ctx)
	w.ContentType = contentType
	// Reports fit comfortably in one request.
	w.ChunkSize = 0

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.name, objectPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.name, objectPath, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, objectPath), nil
}
