package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransfer(t *testing.T) {
	ctx := context.Background()

	t.Run("should move funds between accounts", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, "alice", "USD", 1000, "seed"))

		err := l.Transfer(ctx, Movement{From: "alice", To: "bob", Denom: "USD", Amount: 400, Reference: "t1"})
		require.NoError(t, err)

		got, _ := l.Balance(ctx, "alice", "USD")
		assert.Equal(t, int64(600), got)
		got, _ = l.Balance(ctx, "bob", "USD")
		assert.Equal(t, int64(400), got)
	})

	t.Run("should fail on insufficient funds without movement", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, "alice", "USD", 100, "seed"))

		err := l.Transfer(ctx, Movement{From: "alice", To: "bob", Denom: "USD", Amount: 101})
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		got, _ := l.Balance(ctx, "alice", "USD")
		assert.Equal(t, int64(100), got)
		got, _ = l.Balance(ctx, "bob", "USD")
		assert.Equal(t, int64(0), got)
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		l := NewMemory()
		err := l.Transfer(ctx, Movement{From: "a", To: "b", Denom: "USD", Amount: 0})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestMemoryTransferGroup(t *testing.T) {
	ctx := context.Background()

	t.Run("should apply all movements atomically", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, EscrowOwner("ord-1"), "USD", 500, "fund"))
		require.NoError(t, l.Deposit(ctx, CustodyOwner("TOWER-A"), "TOWER-A", 100, "mint"))

		err := l.TransferGroup(ctx, []Movement{
			{From: CustodyOwner("TOWER-A"), To: "alice", Denom: "TOWER-A", Amount: 100, Reference: "ord-1"},
			{From: EscrowOwner("ord-1"), To: VaultOwner("TOWER-A"), Denom: "USD", Amount: 500, Reference: "ord-1"},
		})
		require.NoError(t, err)

		got, _ := l.Balance(ctx, "alice", "TOWER-A")
		assert.Equal(t, int64(100), got)
		got, _ = l.Balance(ctx, VaultOwner("TOWER-A"), "USD")
		assert.Equal(t, int64(500), got)
	})

	t.Run("should apply nothing when one movement cannot be covered", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, EscrowOwner("ord-1"), "USD", 500, "fund"))
		// Custody has no tokens: the group must fail as a whole.

		err := l.TransferGroup(ctx, []Movement{
			{From: CustodyOwner("TOWER-A"), To: "alice", Denom: "TOWER-A", Amount: 100, Reference: "ord-1"},
			{From: EscrowOwner("ord-1"), To: VaultOwner("TOWER-A"), Denom: "USD", Amount: 500, Reference: "ord-1"},
		})
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		got, _ := l.Balance(ctx, EscrowOwner("ord-1"), "USD")
		assert.Equal(t, int64(500), got)
		got, _ = l.Balance(ctx, VaultOwner("TOWER-A"), "USD")
		assert.Equal(t, int64(0), got)
	})

	t.Run("should handle chained movements in one group", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, "a", "USD", 100, "seed"))

		// b starts empty; the first leg funds it for the second.
		err := l.TransferGroup(ctx, []Movement{
			{From: "a", To: "b", Denom: "USD", Amount: 100},
			{From: "b", To: "c", Denom: "USD", Amount: 100},
		})
		require.NoError(t, err)

		got, _ := l.Balance(ctx, "c", "USD")
		assert.Equal(t, int64(100), got)
	})
}

func TestMemoryDrain(t *testing.T) {
	ctx := context.Background()

	t.Run("should drain entire balance at or above threshold", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, VaultOwner("TOWER-A"), "USD", 1500, "settle"))

		moved, err := l.Drain(ctx, VaultOwner("TOWER-A"), "USD", 1000, "issuer", "payout")
		require.NoError(t, err)
		assert.Equal(t, int64(1500), moved)

		got, _ := l.Balance(ctx, VaultOwner("TOWER-A"), "USD")
		assert.Equal(t, int64(0), got)
		got, _ = l.Balance(ctx, "issuer", "USD")
		assert.Equal(t, int64(1500), got)
	})

	t.Run("should fail below threshold", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, VaultOwner("TOWER-A"), "USD", 500, "settle"))

		_, err := l.Drain(ctx, VaultOwner("TOWER-A"), "USD", 1000, "issuer", "payout")
		assert.ErrorIs(t, err, ErrThresholdNotMet)

		got, _ := l.Balance(ctx, VaultOwner("TOWER-A"), "USD")
		assert.Equal(t, int64(500), got)
	})

	t.Run("should let exactly one concurrent drain win", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, VaultOwner("TOWER-A"), "USD", 1000, "settle"))

		var wg sync.WaitGroup
		results := make(chan error, 10)
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := l.Drain(ctx, VaultOwner("TOWER-A"), "USD", 1000, "issuer", "payout")
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins int
		for err := range results {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrThresholdNotMet)
			}
		}
		assert.Equal(t, 1, wins)

		got, _ := l.Balance(ctx, "issuer", "USD")
		assert.Equal(t, int64(1000), got)
	})
}

func TestMemoryEntries(t *testing.T) {
	ctx := context.Background()

	t.Run("should record a debit and credit per movement", func(t *testing.T) {
		l := NewMemory()
		require.NoError(t, l.Deposit(ctx, "alice", "USD", 100, "seed"))
		require.NoError(t, l.Transfer(ctx, Movement{From: "alice", To: "bob", Denom: "USD", Amount: 100, Reference: "t1"}))

		entries := l.Entries()
		require.Len(t, entries, 3) // deposit credit + transfer debit/credit
		assert.Equal(t, "debit", entries[1].Type)
		assert.Equal(t, "credit", entries[2].Type)
		assert.Equal(t, "t1", entries[2].Reference)
	})
}
