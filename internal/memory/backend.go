package memory

import (
	"sort"
	"sync"
)

// Backend persists long-term entries. Implementations do not interpret TTLs;
// the Store handles expiry.
type Backend interface {
	Put(e *Entry) error
	Get(key string) (*Entry, bool, error)
	Delete(key string) error
	List() ([]*Entry, error)
	Close() error
}

// MapBackend keeps entries in process memory.
type MapBackend struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMapBackend creates an empty in-memory backend.
func NewMapBackend() *MapBackend {
	return &MapBackend{entries: make(map[string]*Entry)}
}

func (m *MapBackend) Put(e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[e.Key] = &cp
	return nil
}

func (m *MapBackend) Get(key string) (*Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}

func (m *MapBackend) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// List returns entries sorted by key.
func (m *MapBackend) List() ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

func (m *MapBackend) Close() error { return nil }
