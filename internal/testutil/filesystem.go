package testutil

import (
	"fmt"
	"sync"

	"mediasync/internal/core"
)

// MockFilesystem is an in-memory filesystem for testing.
// Safe for concurrent use.
type MockFilesystem struct {
	mu    sync.RWMutex
	files map[string][]byte

	// FailWrites makes every WriteFile call fail, for error-path tests.
	FailWrites bool
}

// NewMockFilesystem creates a new mock filesystem.
func NewMockFilesystem() *MockFilesystem {
	return &MockFilesystem{files: make(map[string][]byte)}
}

// AddFile adds a file to the mock filesystem.
func (m *MockFilesystem) AddFile(path string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path] = content
}

func (m *MockFilesystem) Exists(path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[path]
	return ok, nil
}

func (m *MockFilesystem) ReadFile(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.files[path]
	if !ok {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MockFilesystem) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return fmt.Errorf("write failed: %s", path)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	return nil
}

func (m *MockFilesystem) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, path)
	return nil
}

// Compile-time check that MockFilesystem implements the Filesystem interface
var _ core.Filesystem = (*MockFilesystem)(nil)
