package compliance

import (
	"context"
	"sync"
)

// Gate answers whether a principal may receive a given asset right now. The
// answer reflects business state that changes over time (an investor may
// finish verification later), so a false result is a normal outcome, never an
// error. Compliance attributes are issued by a separate onboarding flow; the
// core only reads them.
type Gate interface {
	IsAuthorized(ctx context.Context, principal, asset string) (bool, error)
}

// Static is a fixed in-memory Gate for tests and local development.
type Static struct {
	mu      sync.RWMutex
	allowed map[string]bool
}

// NewStatic creates an empty static gate; nothing is allowed until Allow.
func NewStatic() *Static {
	return &Static{allowed: make(map[string]bool)}
}

// Allow marks (principal, asset) as compliant.
func (s *Static) Allow(principal, asset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowed[principal+"|"+asset] = true
}

// Revoke clears a previously allowed pair.
func (s *Static) Revoke(principal, asset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.allowed, principal+"|"+asset)
}

func (s *Static) IsAuthorized(ctx context.Context, principal, asset string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.allowed[principal+"|"+asset], nil
}
