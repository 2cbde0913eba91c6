package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"mediasync/internal/core"
)

// MemoryStore is an in-memory implementation of the ObjectStore interface.
// It stores all objects in memory, making it useful for testing.
// This implementation is safe for concurrent use.
type MemoryStore struct {
	objects  map[string][]byte
	uploaded map[string]time.Time
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory object store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string][]byte),
		uploaded: make(map[string]time.Time),
	}
}

// Put stores the object under key. Storing the same key twice overwrites.
func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read object: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = data
	m.uploaded[key] = time.Now()
	return nil
}

// Get retrieves the object and writes it to w.
func (m *MemoryStore) Get(ctx context.Context, key string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return fmt.Errorf("object not found: %s", key)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write object: %w", err)
	}

	return nil
}

// Delete removes the object. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)
	delete(m.uploaded, key)
	return nil
}

// Exists reports whether the object is present.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.objects[key]
	return ok, nil
}

// ExistsMany reports presence for a batch of keys.
func (m *MemoryStore) ExistsMany(ctx context.Context, keys []string) (map[string]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]bool, len(keys))
	for _, key := range keys {
		_, ok := m.objects[key]
		result[key] = ok
	}
	return result, nil
}

// List returns every stored object.
func (m *MemoryStore) List(ctx context.Context) ([]core.ObjectInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]core.ObjectInfo, 0, len(m.objects))
	for key, data := range m.objects {
		infos = append(infos, core.ObjectInfo{
			Key:      key,
			Size:     int64(len(data)),
			Uploaded: m.uploaded[key],
		})
	}
	return infos, nil
}

// ValidateSetup always succeeds for the in-memory store.
func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryStore implements the ObjectStore interface
var _ core.ObjectStore = (*MemoryStore)(nil)
