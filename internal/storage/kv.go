package storage

import (
	"context"
	"sync"
)

// KV is a durable mapping from session ID to a serialized session.
type KV interface {
	// All returns every stored entry
	All(ctx context.Context) (map[string][]byte, error)

	// Put writes or overwrites the entry for key
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the entry for key; absent keys are not an error
	Delete(ctx context.Context, key string) error

	// Close releases the underlying resources
	Close() error
}

// MemoryKV keeps entries in process memory
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryKV creates an empty in-memory store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string][]byte)}
}

func (m *MemoryKV) All(ctx context.Context) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string][]byte, len(m.entries))
	for k, v := range m.entries {
		out[k] = append([]byte(nil), v...)
	}
	return out, nil
}

func (m *MemoryKV) Put(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryKV) Close() error {
	return nil
}

// Len returns the number of stored entries
func (m *MemoryKV) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
