package store

import (
	"sync"
)

// MemoryOptions is an in-memory settings.OptionStore for tests and
// ephemeral deployments.
type MemoryOptions struct {
	values map[string]string
	mu     sync.RWMutex
}

// NewMemoryOptions creates an empty in-memory option store.
func NewMemoryOptions() *MemoryOptions {
	return &MemoryOptions{values: make(map[string]string)}
}

// Get implements settings.OptionStore.
func (m *MemoryOptions) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements settings.OptionStore.
func (m *MemoryOptions) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
