package storage

import (
	"bytes"
	"context"
	"sync"

	domain "github.com/bryanwahyu/labelscan/internal/domain/scans"
)

// PreviewPath is where the HTTP layer serves MemoryStore previews.
const PreviewPath = "/v1/previews/"

type preview struct {
	data     []byte
	mimeType string
}

// MemoryStore keeps previews in process memory until they are deleted.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]preview
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]preview)}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, mimeType string) (domain.PreviewRef, error) {
	s.mu.Lock()
	s.items[key] = preview{data: bytes.Clone(data), mimeType: mimeType}
	s.mu.Unlock()
	return domain.PreviewRef{Key: key, URL: PreviewPath + key}, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}

// Get returns the stored bytes and mime type for key.
func (s *MemoryStore) Get(key string) ([]byte, string, bool) {
	s.mu.RLock()
	p, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, "", false
	}
	return p.data, p.mimeType, true
}

// Len reports how many previews are held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
