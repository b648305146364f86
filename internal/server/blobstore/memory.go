package blobstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/yury-opolev/safeexchange-sub001/internal/common"
)

// MemoryStore keeps bodies in a map.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *MemoryStore) Upload(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), body...)
	return nil
}

func (m *MemoryStore) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, common.ErrorNotFound)
	}
	return append([]byte(nil), body...), nil
}

func (m *MemoryStore) DeleteIfExists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	delete(m.blobs, key)
	return ok, nil
}

// Len reports how many bodies are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
