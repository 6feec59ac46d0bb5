package orders

import "context"

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Investor string
	Asset    string
	Status   Status
	Limit    int
}

// Store persists purchase orders and enforces the at-most-one-resolution
// invariant: Resolve holds the order's lock across the settlement callback,
// so two concurrent resolutions of the same order race to exactly one winner.
type Store interface {
	Create(ctx context.Context, o *PurchaseOrder) error
	Get(ctx context.Context, id string) (*PurchaseOrder, error)
	List(ctx context.Context, f ListFilter) ([]*PurchaseOrder, error)

	// Resolve transitions a Pending order to the terminal state to. settle
	// runs inside the critical section and receives a context scoped to it:
	// the Postgres store carries its open transaction in that context, so
	// ledger movements made through it commit or roll back together with the
	// status flip. If settle returns an error the order stays Pending and
	// nothing is recorded. A non-Pending order fails with ErrNotPending
	// before settle runs.
	Resolve(ctx context.Context, id string, to Status, resolvedBy, reason string,
		settle func(ctx context.Context, o *PurchaseOrder) error) (*PurchaseOrder, error)
}
