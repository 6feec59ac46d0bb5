package distribution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/rwamarkets/settlecore/pkg/amount"
)

// PostgresStore persists distribution configs in a distribution_configs
// table keyed by asset.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed distribution store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, cfg *Config) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO distribution_configs
		 (asset, authority, issuer, threshold, total_distributed, distribution_count, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, 0, $5, $6)`,
		cfg.Asset, cfg.Authority, cfg.Issuer, amount.ToDecimal(cfg.Threshold),
		cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "unique_violation" {
			return ErrAlreadyInitialized
		}
		return fmt.Errorf("failed to create distribution config: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, asset string) (*Config, error) {
	return scanConfig(p.db.QueryRowContext(ctx,
		`SELECT asset, authority, issuer, threshold, total_distributed, distribution_count, created_at, updated_at
		 FROM distribution_configs WHERE asset = $1`,
		asset,
	))
}

func (p *PostgresStore) RecordPayout(ctx context.Context, asset string, amt int64) (*Config, error) {
	return scanConfig(p.db.QueryRowContext(ctx,
		`UPDATE distribution_configs
		 SET total_distributed = total_distributed + $2,
		     distribution_count = distribution_count + 1,
		     updated_at = $3
		 WHERE asset = $1
		 RETURNING asset, authority, issuer, threshold, total_distributed, distribution_count, created_at, updated_at`,
		asset, amount.ToDecimal(amt), time.Now(),
	))
}

func (p *PostgresStore) UpdateThreshold(ctx context.Context, asset string, threshold int64) error {
	return p.update(ctx, asset,
		`UPDATE distribution_configs SET threshold = $2, updated_at = $3 WHERE asset = $1`,
		amount.ToDecimal(threshold))
}

func (p *PostgresStore) UpdateIssuer(ctx context.Context, asset, issuer string) error {
	return p.update(ctx, asset,
		`UPDATE distribution_configs SET issuer = $2, updated_at = $3 WHERE asset = $1`,
		issuer)
}

func (p *PostgresStore) update(ctx context.Context, asset, query string, value interface{}) error {
	res, err := p.db.ExecContext(ctx, query, asset, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update distribution config: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrConfigNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConfig(row rowScanner) (*Config, error) {
	var cfg Config
	var threshold, total decimal.Decimal

	err := row.Scan(&cfg.Asset, &cfg.Authority, &cfg.Issuer, &threshold, &total,
		&cfg.DistributionCount, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan distribution config: %w", err)
	}

	if cfg.Threshold, err = amount.FromDecimal(threshold); err != nil {
		return nil, err
	}
	if cfg.TotalDistributed, err = amount.FromDecimal(total); err != nil {
		return nil, err
	}
	return &cfg, nil
}
