package memory

import "sync"

// ShortTerm is an agent's working memory for the task in flight.
type ShortTerm struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewShortTerm creates an empty working memory.
func NewShortTerm() *ShortTerm {
	return &ShortTerm{values: make(map[string]any)}
}

func (m *ShortTerm) Set(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

func (m *ShortTerm) Get(key string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *ShortTerm) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

func (m *ShortTerm) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Clear drops every value.
func (m *ShortTerm) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = make(map[string]any)
}
