package favorites

import (
	"sync"
)

// SetStore persists named string sets. It is the only thing favorites know
// about storage.
type SetStore interface {
	LoadSet(name string) ([]string, error)
	SaveSet(name string, members []string) error
}

// MemoryStore is a SetStore for tests and throwaway sessions.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[string][]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[string][]string)}
}

func (m *MemoryStore) LoadSet(name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sets[name]...), nil
}

func (m *MemoryStore) SaveSet(name string, members []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[name] = append([]string(nil), members...)
	return nil
}
