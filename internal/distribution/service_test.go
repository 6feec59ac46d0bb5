package distribution

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rwamarkets/settlecore/internal/ledger"
)

const (
	denom    = "USD"
	treasury = "treasury"
)

func newService(t *testing.T) (*Service, *ledger.Memory) {
	t.Helper()
	l := ledger.NewMemory()
	require.NoError(t, l.Deposit(context.Background(), treasury, denom, 1_000_000, "seed"))
	return NewService(NewMemoryStore(), l, denom, nil, nil), l
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("should create config with zeroed counters", func(t *testing.T) {
		s, _ := newService(t)

		cfg, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), cfg.Threshold)
		assert.Equal(t, int64(0), cfg.TotalDistributed)
		assert.Equal(t, int64(0), cfg.DistributionCount)
	})

	t.Run("should fail for duplicate asset", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)

		_, err = s.Initialize(ctx, "TOWER-A", "other", "other", 500)
		assert.ErrorIs(t, err, ErrAlreadyInitialized)
	})

	t.Run("should reject non-positive threshold", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 0)
		assert.ErrorIs(t, err, ErrInvalidThreshold)
	})
}

func TestRecordSettlement(t *testing.T) {
	ctx := context.Background()

	t.Run("should accumulate without any status check", func(t *testing.T) {
		s, _ := newService(t)

		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 500))
		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 250))

		bal, err := s.VaultBalance(ctx, "TOWER-A")
		require.NoError(t, err)
		assert.Equal(t, int64(750), bal)
	})

	t.Run("should reject non-positive amounts", func(t *testing.T) {
		s, _ := newService(t)
		assert.ErrorIs(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 0), ErrInvalidAmount)
	})

	t.Run("should move value from the source, never create it", func(t *testing.T) {
		s, l := newService(t)

		// An unfunded source cannot grow the vault.
		err := s.RecordSettlement(ctx, "TOWER-A", "nobody", 5000)
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

		bal, err := s.VaultBalance(ctx, "TOWER-A")
		require.NoError(t, err)
		assert.Equal(t, int64(0), bal)

		// A funded source is debited by exactly the accumulated amount.
		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 5000))
		srcBal, err := l.Balance(ctx, treasury, denom)
		require.NoError(t, err)
		assert.Equal(t, int64(995_000), srcBal)
	})
}

func TestDistributeToIssuer(t *testing.T) {
	ctx := context.Background()

	t.Run("should fail below threshold and leave the vault intact", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)
		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 500))

		_, err = s.DistributeToIssuer(ctx, "TOWER-A", "anyone")
		assert.ErrorIs(t, err, ErrThresholdNotMet)

		bal, _ := s.VaultBalance(ctx, "TOWER-A")
		assert.Equal(t, int64(500), bal)

		cfg, _ := s.Get(ctx, "TOWER-A")
		assert.Equal(t, int64(0), cfg.DistributionCount)
	})

	t.Run("should drain the entire balance, not just the threshold", func(t *testing.T) {
		s, l := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)
		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 1700))

		cfg, err := s.DistributeToIssuer(ctx, "TOWER-A", "anyone")
		require.NoError(t, err)
		assert.Equal(t, int64(1700), cfg.TotalDistributed)
		assert.Equal(t, int64(1), cfg.DistributionCount)

		bal, _ := s.VaultBalance(ctx, "TOWER-A")
		assert.Equal(t, int64(0), bal)

		issuerBal, _ := l.Balance(ctx, "issuer", denom)
		assert.Equal(t, int64(1700), issuerBal)
	})

	t.Run("should be crankable again after more settlements", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)

		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 1000))
		_, err = s.DistributeToIssuer(ctx, "TOWER-A", "anyone")
		require.NoError(t, err)

		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 2000))
		cfg, err := s.DistributeToIssuer(ctx, "TOWER-A", "anyone")
		require.NoError(t, err)

		assert.Equal(t, int64(3000), cfg.TotalDistributed)
		assert.Equal(t, int64(2), cfg.DistributionCount)
	})

	t.Run("should fail for unknown asset", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.DistributeToIssuer(ctx, "GHOST", "anyone")
		assert.ErrorIs(t, err, ErrConfigNotFound)
	})

	t.Run("concurrent cranks settle to exactly one payout", func(t *testing.T) {
		s, l := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)
		require.NoError(t, s.RecordSettlement(ctx, "TOWER-A", treasury, 1000))

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.DistributeToIssuer(ctx, "TOWER-A", "cranker")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var wins int
		for err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrThresholdNotMet)
			}
		}
		assert.Equal(t, 1, wins)

		issuerBal, _ := l.Balance(ctx, "issuer", denom)
		assert.Equal(t, int64(1000), issuerBal)

		cfg, _ := s.Get(ctx, "TOWER-A")
		assert.Equal(t, int64(1), cfg.DistributionCount)
		assert.Equal(t, int64(1000), cfg.TotalDistributed)
	})
}

func TestUpdateConfig(t *testing.T) {
	ctx := context.Background()

	t.Run("authority can update threshold and issuer", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)

		require.NoError(t, s.UpdateThreshold(ctx, "TOWER-A", "authority", 2000))
		require.NoError(t, s.UpdateIssuer(ctx, "TOWER-A", "authority", "new-issuer"))

		cfg, _ := s.Get(ctx, "TOWER-A")
		assert.Equal(t, int64(2000), cfg.Threshold)
		assert.Equal(t, "new-issuer", cfg.Issuer)
	})

	t.Run("non-authority cannot update", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)

		assert.ErrorIs(t, s.UpdateThreshold(ctx, "TOWER-A", "impostor", 1), ErrUnauthorized)
		assert.ErrorIs(t, s.UpdateIssuer(ctx, "TOWER-A", "impostor", "me"), ErrUnauthorized)
	})

	t.Run("rejects non-positive threshold", func(t *testing.T) {
		s, _ := newService(t)
		_, err := s.Initialize(ctx, "TOWER-A", "authority", "issuer", 1000)
		require.NoError(t, err)

		assert.ErrorIs(t, s.UpdateThreshold(ctx, "TOWER-A", "authority", -5), ErrInvalidThreshold)
	})
}
