package registry

import (
	"context"
	"sync"
)

// MemoryStore is the in-process Store used by single-node deployments and
// tests.
type MemoryStore struct {
	mu      sync.RWMutex
	root    string
	members map[string]bool
}

// NewMemoryStore creates an uninitialized store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{members: make(map[string]bool)}
}

func (m *MemoryStore) Initialize(ctx context.Context, root string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.root != "" {
		return ErrAlreadyInitialized
	}
	m.root = root
	return nil
}

func (m *MemoryStore) Root(ctx context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.root == "" {
		return "", ErrNotInitialized
	}
	return m.root, nil
}

func (m *MemoryStore) Add(ctx context.Context, principal string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[principal] = true
	return nil
}

func (m *MemoryStore) Remove(ctx context.Context, principal string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.members[principal] {
		return false, nil
	}
	delete(m.members, principal)
	return true, nil
}

func (m *MemoryStore) IsMember(ctx context.Context, principal string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[principal], nil
}

func (m *MemoryStore) Members(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.members))
	for p := range m.members {
		out = append(out, p)
	}
	return out, nil
}
