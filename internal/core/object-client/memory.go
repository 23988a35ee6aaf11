package objectclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/gurnoornatt/code-chat/internal/core"
)

// MemoryClient keeps blobs in a map. Used by tests and by local runs without S3 credentials.
type MemoryClient struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

var _ core.ObjectClient = (*MemoryClient)(nil)

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{objects: map[string]memoryObject{}}
}

func (m *MemoryClient) Upload(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

func (m *MemoryClient) Download(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, core.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// Remove ignores absent keys, matching S3 DeleteObjects.
func (m *MemoryClient) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

// Has reports whether key is stored.
func (m *MemoryClient) Has(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[key]
	return ok
}

// Len is the number of stored objects.
func (m *MemoryClient) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
