package storage

import (
	"context"
	"slices"
	"sync"
)

// MemoryAdapter is an in-memory implementation of the Adapter interface.
// Useful for testing and development.
type MemoryAdapter struct {
	mu     sync.RWMutex
	values map[string]Entry
}

// NewMemoryAdapter creates a new in-memory adapter.
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		values: make(map[string]Entry),
	}
}

// Load returns the value stored under key.
func (m *MemoryAdapter) Load(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.values[key.String()]
	if !exists {
		return nil, ErrKeyNotFound
	}

	return slices.Clone(e.Value), nil
}

// LoadRange returns every entry under prefix.
func (m *MemoryAdapter) LoadRange(_ context.Context, prefix Key) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Entry

	for _, e := range m.values {
		if len(e.Key) > len(prefix) && e.Key.HasPrefix(prefix) {
			result = append(result, Entry{Key: slices.Clone(e.Key), Value: slices.Clone(e.Value)})
		}
	}

	return result, nil
}

// Put stores value under key.
func (m *MemoryAdapter) Put(_ context.Context, key Key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key.String()] = Entry{Key: slices.Clone(key), Value: slices.Clone(value)}

	return nil
}

// Delete removes key.
func (m *MemoryAdapter) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key.String())

	return nil
}

// Len returns the number of stored keys.
func (m *MemoryAdapter) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}

// Ensure MemoryAdapter implements Adapter.
var _ Adapter = (*MemoryAdapter)(nil)
