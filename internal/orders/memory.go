package orders

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps purchase orders in process memory. One lock covers the
// whole map; Resolve runs its settlement callback under it, which is the
// single-writer discipline the Postgres store gets from row locks.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*PurchaseOrder
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*PurchaseOrder)}
}

func (m *MemoryStore) Create(ctx context.Context, o *PurchaseOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[o.ID]; exists {
		return ErrDuplicateOrder
	}

	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, exists := m.orders[id]
	if !exists {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, f ListFilter) ([]*PurchaseOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*PurchaseOrder
	for _, o := range m.orders {
		if f.Investor != "" && o.Investor != f.Investor {
			continue
		}
		if f.Asset != "" && o.Asset != f.Asset {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		cp := *o
		out = append(out, &cp)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id string, to Status, resolvedBy, reason string,
	settle func(ctx context.Context, o *PurchaseOrder) error) (*PurchaseOrder, error) {

	m.mu.Lock()
	defer m.mu.Unlock()

	o, exists := m.orders[id]
	if !exists {
		return nil, ErrOrderNotFound
	}
	if o.Status != StatusPending {
		return nil, ErrNotPending
	}

	if settle != nil {
		snapshot := *o
		if err := settle(ctx, &snapshot); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	o.Status = to
	o.ResolvedAt = &now
	o.ResolvedBy = resolvedBy
	o.RejectReason = reason
	o.Version++

	cp := *o
	return &cp, nil
}

