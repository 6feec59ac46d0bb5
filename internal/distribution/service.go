package distribution

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rwamarkets/settlecore/internal/ledger"
	"github.com/rwamarkets/settlecore/internal/metrics"
	"github.com/rwamarkets/settlecore/pkg/messaging"
)

var (
	ErrAlreadyInitialized = errors.New("distribution already initialized for asset")
	ErrConfigNotFound     = errors.New("distribution config not found")
	ErrUnauthorized       = errors.New("caller is not the distribution authority")
	ErrThresholdNotMet    = errors.New("vault balance below distribution threshold")
	ErrInvalidThreshold   = errors.New("threshold must be positive")
	ErrInvalidAmount      = errors.New("amount must be positive")
)

// Config is the per-asset distribution state. Counters only ever increase,
// and only on a successful payout.
type Config struct {
	Asset             string    `json:"asset"`
	Authority         string    `json:"authority"`
	Issuer            string    `json:"issuer"`
	Threshold         int64     `json:"threshold"`
	TotalDistributed  int64     `json:"total_distributed"`
	DistributionCount int64     `json:"distribution_count"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store persists distribution configs and their payout counters.
type Store interface {
	Create(ctx context.Context, cfg *Config) error
	Get(ctx context.Context, asset string) (*Config, error)
	RecordPayout(ctx context.Context, asset string, amount int64) (*Config, error)
	UpdateThreshold(ctx context.Context, asset string, threshold int64) error
	UpdateIssuer(ctx context.Context, asset, issuer string) error
}

// Service is the pool distribution accumulator: it aggregates settled
// payments in a per-asset vault and pays the entire vault out to the issuer
// once the threshold is crossed. The payout is crank-driven: anyone may
// invoke it, the effect is fixed, and an invocation below threshold is a
// clean failure, not corruption.
type Service struct {
	store   Store
	ledger  ledger.Ledger
	denom   string
	events  *messaging.Client
	metrics metrics.Recorder

	// Serializes payout + counter update per asset within this process.
	// Cross-process safety rests on the ledger's atomic drain; replicas
	// additionally take an etcd lock around the crank endpoint.
	cranksMu sync.Mutex
	cranks   map[string]*sync.Mutex
}

// NewService creates a distribution service. events may be nil; rec may be
// nil for no telemetry.
func NewService(store Store, l ledger.Ledger, denom string, events *messaging.Client, rec metrics.Recorder) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Service{
		store:   store,
		ledger:  l,
		denom:   denom,
		events:  events,
		metrics: rec,
		cranks:  make(map[string]*sync.Mutex),
	}
}

// Initialize creates the distribution config for an asset with zeroed
// counters.
func (s *Service) Initialize(ctx context.Context, asset, authority, issuer string, threshold int64) (*Config, error) {
	if threshold <= 0 {
		return nil, ErrInvalidThreshold
	}

	now := time.Now()
	cfg := &Config{
		Asset:     asset,
		Authority: authority,
		Issuer:    issuer,
		Threshold: threshold,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.Create(ctx, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Get returns the distribution config for an asset.
func (s *Service) Get(ctx context.Context, asset string) (*Config, error) {
	return s.store.Get(ctx, asset)
}

// VaultBalance returns the current pool vault balance for an asset.
func (s *Service) VaultBalance(ctx context.Context, asset string) (int64, error) {
	return s.ledger.Balance(ctx, ledger.VaultOwner(asset), s.denom)
}

// RecordSettlement moves amount from source into the asset's pool vault. It
// is an accumulation, not a state transition: no status check, no threshold
// check. The approval path credits the vault inside its atomic settlement
// group; this entry point covers out-of-band accumulation such as backfills.
// The source must already hold the funds: accumulation transfers value, it
// never creates it.
func (s *Service) RecordSettlement(ctx context.Context, asset, source string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	err := s.ledger.Transfer(ctx, ledger.Movement{
		From:      source,
		To:        ledger.VaultOwner(asset),
		Denom:     s.denom,
		Amount:    amount,
		Reference: "settlement:" + asset,
	})
	if err != nil {
		return err
	}

	s.metrics.SettlementRecorded(ctx, asset, amount)
	s.events.Publish(ctx, messaging.SubjectSettlementRecorded, messaging.DistributionEvent{
		Asset:     asset,
		Amount:    strconv.FormatInt(amount, 10),
		Timestamp: time.Now(),
	})
	return nil
}

// DistributeToIssuer pays the entire current vault balance to the issuer,
// provided the balance is at least the configured threshold. Permissionless:
// the caller is recorded but not checked, since the effect is fixed and no
// value can be misdirected. Concurrent invocations race to exactly one
// winner; the loser observes the drained vault and fails with
// ErrThresholdNotMet.
func (s *Service) DistributeToIssuer(ctx context.Context, asset, caller string) (*Config, error) {
	cfg, err := s.store.Get(ctx, asset)
	if err != nil {
		return nil, err
	}

	mu := s.crankLock(asset)
	mu.Lock()
	defer mu.Unlock()

	moved, err := s.ledger.Drain(ctx, ledger.VaultOwner(asset), s.denom, cfg.Threshold, cfg.Issuer, "distribution:"+asset)
	if err != nil {
		if errors.Is(err, ledger.ErrThresholdNotMet) {
			return nil, fmt.Errorf("%w: %v", ErrThresholdNotMet, err)
		}
		return nil, err
	}

	updated, err := s.store.RecordPayout(ctx, asset, moved)
	if err != nil {
		// Funds are with the issuer; the counters are the casualty. Surface
		// the error so the operator reconciles from the ledger entries.
		return nil, fmt.Errorf("payout executed but counter update failed: %w", err)
	}

	s.metrics.PayoutExecuted(ctx, asset, moved)
	s.events.Publish(ctx, messaging.SubjectDistributionPayout, messaging.DistributionEvent{
		Asset:             asset,
		Amount:            strconv.FormatInt(moved, 10),
		Issuer:            cfg.Issuer,
		Caller:            caller,
		DistributionCount: updated.DistributionCount,
		TotalDistributed:  strconv.FormatInt(updated.TotalDistributed, 10),
		Timestamp:         time.Now(),
	})
	return updated, nil
}

// UpdateThreshold changes the payout threshold. Only the config authority may
// call it.
func (s *Service) UpdateThreshold(ctx context.Context, asset, authority string, threshold int64) error {
	if threshold <= 0 {
		return ErrInvalidThreshold
	}
	if err := s.requireAuthority(ctx, asset, authority); err != nil {
		return err
	}
	return s.store.UpdateThreshold(ctx, asset, threshold)
}

// UpdateIssuer changes the payout recipient. Only the config authority may
// call it.
func (s *Service) UpdateIssuer(ctx context.Context, asset, authority, issuer string) error {
	if err := s.requireAuthority(ctx, asset, authority); err != nil {
		return err
	}
	return s.store.UpdateIssuer(ctx, asset, issuer)
}

func (s *Service) requireAuthority(ctx context.Context, asset, authority string) error {
	cfg, err := s.store.Get(ctx, asset)
	if err != nil {
		return err
	}
	if cfg.Authority != authority {
		return ErrUnauthorized
	}
	return nil
}

func (s *Service) crankLock(asset string) *sync.Mutex {
	s.cranksMu.Lock()
	defer s.cranksMu.Unlock()

	mu, ok := s.cranks[asset]
	if !ok {
		mu = &sync.Mutex{}
		s.cranks[asset] = mu
	}
	return mu
}
