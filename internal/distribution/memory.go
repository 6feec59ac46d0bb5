package distribution

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps distribution configs in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{configs: make(map[string]*Config)}
}

func (m *MemoryStore) Create(ctx context.Context, cfg *Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.configs[cfg.Asset]; exists {
		return ErrAlreadyInitialized
	}

	cp := *cfg
	m.configs[cfg.Asset] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, asset string) (*Config, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.configs[asset]
	if !ok {
		return nil, ErrConfigNotFound
	}
	cp := *cfg
	return &cp, nil
}

func (m *MemoryStore) RecordPayout(ctx context.Context, asset string, amount int64) (*Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[asset]
	if !ok {
		return nil, ErrConfigNotFound
	}

	cfg.TotalDistributed += amount
	cfg.DistributionCount++
	cfg.UpdatedAt = time.Now()

	cp := *cfg
	return &cp, nil
}

func (m *MemoryStore) UpdateThreshold(ctx context.Context, asset string, threshold int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[asset]
	if !ok {
		return ErrConfigNotFound
	}
	cfg.Threshold = threshold
	cfg.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) UpdateIssuer(ctx context.Context, asset, issuer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg, ok := m.configs[asset]
	if !ok {
		return ErrConfigNotFound
	}
	cfg.Issuer = issuer
	cfg.UpdatedAt = time.Now()
	return nil
}
