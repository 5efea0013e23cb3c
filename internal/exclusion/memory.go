package exclusion

import "sync"

// Memory is an in-memory Set used in tests and as a fallback when no
// session directory is available.
type Memory struct {
	mu    sync.Mutex
	ids   map[string]struct{}
	order []string
}

var _ Set = (*Memory)(nil)

// NewMemory creates an empty in-memory exclusion set.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

// Add records an id (idempotent).
func (m *Memory) Add(id string) error {
	if id == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[id]; ok {
		return nil
	}
	m.ids[id] = struct{}{}
	m.order = append(m.order, id)
	return nil
}

// Contains reports whether an id is excluded.
func (m *Memory) Contains(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok, nil
}

// IDs returns all excluded ids in insertion order.
func (m *Memory) IDs() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...), nil
}
