package modconfig

import (
	"context"
	"sync"
)

// Service is the module-config contract: namespaced JSON values shared
// across processes. Reindex locks live under the "search" namespace and
// embedding configuration under "vector".
type Service interface {
	// GetValue decodes the stored value into out and reports whether the
	// key existed.
	GetValue(ctx context.Context, namespace, key string, out any) (bool, error)

	// SetValue stores value under (namespace, key), overwriting any
	// previous value.
	SetValue(ctx context.Context, namespace, key string, value any) error

	// DeleteValue removes the key. Deleting a missing key is a no-op.
	DeleteValue(ctx context.Context, namespace, key string) error
}

// MemoryService is an in-process Service for tests and single-process
// setups without a data directory
type MemoryService struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryService creates an empty in-memory service
func NewMemoryService() *MemoryService {
	return &MemoryService{values: make(map[string][]byte)}
}

// GetValue implements Service
func (m *MemoryService) GetValue(_ context.Context, namespace, key string, out any) (bool, error) {
	m.mu.RLock()
	data, ok := m.values[namespace+"/"+key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(data, out)
}

// SetValue implements Service
func (m *MemoryService) SetValue(_ context.Context, namespace, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[namespace+"/"+key] = data
	m.mu.Unlock()
	return nil
}

// DeleteValue implements Service
func (m *MemoryService) DeleteValue(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	delete(m.values, namespace+"/"+key)
	m.mu.Unlock()
	return nil
}
