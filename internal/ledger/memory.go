package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-process Ledger. It backs single-node deployments and serves
// as the test double for the Postgres ledger; both implementations satisfy the
// same atomicity contract.
type Memory struct {
	mu       sync.Mutex
	balances map[accountKey]int64
	entries  []Entry
}

type accountKey struct {
	owner string
	denom string
}

// Entry is an audit record of one movement leg.
type Entry struct {
	Owner     string
	Denom     string
	Type      string // "debit" or "credit"
	Amount    int64
	Balance   int64
	Reference string
	CreatedAt time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{balances: make(map[accountKey]int64)}
}

func (m *Memory) Balance(ctx context.Context, owner, denom string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[accountKey{owner, denom}], nil
}

func (m *Memory) Deposit(ctx context.Context, owner, denom string, amount int64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.credit(owner, denom, amount, reference)
	return nil
}

func (m *Memory) Transfer(ctx context.Context, mv Movement) error {
	return m.TransferGroup(ctx, []Movement{mv})
}

func (m *Memory) TransferGroup(ctx context.Context, ms []Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Validate every movement before applying any, so a failure partway
	// cannot leave a debit without its credit.
	staged := make(map[accountKey]int64, len(m.balances))
	for k, v := range m.balances {
		staged[k] = v
	}
	for _, mv := range ms {
		if mv.Amount <= 0 {
			return ErrInvalidAmount
		}
		from := accountKey{mv.From, mv.Denom}
		if staged[from] < mv.Amount {
			return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientFunds,
				mv.From, staged[from], mv.Denom, mv.Amount)
		}
		staged[from] -= mv.Amount
		staged[accountKey{mv.To, mv.Denom}] += mv.Amount
	}

	for _, mv := range ms {
		m.debit(mv.From, mv.Denom, mv.Amount, mv.Reference)
		m.credit(mv.To, mv.Denom, mv.Amount, mv.Reference)
	}
	return nil
}

func (m *Memory) Drain(ctx context.Context, owner, denom string, min int64, to, reference string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance := m.balances[accountKey{owner, denom}]
	if balance < min || balance == 0 {
		return 0, fmt.Errorf("%w: %d < %d", ErrThresholdNotMet, balance, min)
	}

	m.debit(owner, denom, balance, reference)
	m.credit(to, denom, balance, reference)
	return balance, nil
}

// Entries returns a copy of the audit trail.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// credit and debit must be called with m.mu held.

func (m *Memory) credit(owner, denom string, amount int64, reference string) {
	k := accountKey{owner, denom}
	m.balances[k] += amount
	m.entries = append(m.entries, Entry{
		Owner: owner, Denom: denom, Type: "credit",
		Amount: amount, Balance: m.balances[k],
		Reference: reference, CreatedAt: time.Now(),
	})
}

func (m *Memory) debit(owner, denom string, amount int64, reference string) {
	k := accountKey{owner, denom}
	m.balances[k] -= amount
	m.entries = append(m.entries, Entry{
		Owner: owner, Denom: denom, Type: "debit",
		Amount: amount, Balance: m.balances[k],
		Reference: reference, CreatedAt: time.Now(),
	})
}
