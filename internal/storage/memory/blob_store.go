// Package memory keeps uploaded objects in process memory. The dev profile
// and tests run against it when no real bucket is configured.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

type object struct {
	contentType string
	payload     []byte
}

// BlobStore records every upload, keyed by object path.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewBlobStore returns an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]object)}
}

// PutObject reads r to completion and stores the bytes under path, replacing
// any previous object there. The returned URI carries the memory scheme.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object payload: %w", err)
	}

	s.mu.Lock()
	s.objects[path] = object{contentType: contentType, payload: payload}
	s.mu.Unlock()

	return fmt.Sprintf("memory://%s", path), nil
}

// Object returns a copy of the stored payload and its content type.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[path]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.payload...), obj.contentType, true
}

// Paths lists the stored object paths in sorted order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
