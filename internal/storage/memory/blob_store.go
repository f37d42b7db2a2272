// Package memory provides an in-process blob store for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type object struct {
	contentType string
	data        []byte
}

// BlobStore keeps uploaded artifacts in a map. Signed URLs are synthetic but
// stable, so callers can assert on and follow them in local setups.
type BlobStore struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]object
}

// New builds an empty store. baseURL prefixes returned URLs; empty means
// "memory://".
func New(baseURL string) *BlobStore {
	if baseURL == "" {
		baseURL = "memory://"
	}
	return &BlobStore{
		baseURL: baseURL,
		objects: make(map[string]object),
	}
}

// Upload stores a copy of data under key.
func (s *BlobStore) Upload(_ context.Context, key string, contentType string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		contentType: contentType,
		data:        append([]byte(nil), data...),
	}
	return nil
}

// SignedURL returns a synthetic URL for a stored key.
func (s *BlobStore) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("object %s not found", key)
	}
	return s.baseURL + key, nil
}

// Delete removes a stored key. Missing keys are a no-op.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// Object returns the stored bytes and content type for key.
func (s *BlobStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
