package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rwamarkets/settlecore/pkg/amount"
)

// Postgres is the production Ledger: balances in an accounts table guarded by
// row locks, one entries row per movement leg for audit.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres-backed ledger.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Balance(ctx context.Context, owner, denom string) (int64, error) {
	var balance decimal.Decimal
	err := p.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE owner = $1 AND denom = $2`,
		owner, denom,
	).Scan(&balance)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return amount.FromDecimal(balance)
}

func (p *Postgres) Deposit(ctx context.Context, owner, denom string, amt int64, reference string) error {
	if amt <= 0 {
		return ErrInvalidAmount
	}

	return p.run(ctx, nil, func(tx *sql.Tx) error {
		return creditInTx(ctx, tx, owner, denom, amt, reference)
	})
}

// run executes fn on the transaction carried by ctx, if any; otherwise it
// opens its own and commits on success. Movements joined to a caller's
// transaction commit or roll back with it.
func (p *Postgres) run(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	if tx, ok := txFrom(ctx); ok {
		return fn(tx)
	}

	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (p *Postgres) Transfer(ctx context.Context, m Movement) error {
	return p.TransferGroup(ctx, []Movement{m})
}

// TransferGroup applies every movement inside one transaction. Source rows are
// locked in a stable (owner, denom) order to avoid lock-order deadlocks.
func (p *Postgres) TransferGroup(ctx context.Context, ms []Movement) error {
	for _, m := range ms {
		if m.Amount <= 0 {
			return ErrInvalidAmount
		}
	}

	return p.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(tx *sql.Tx) error {
		sources := make([]accountKey, 0, len(ms))
		seen := make(map[accountKey]bool)
		for _, m := range ms {
			k := accountKey{m.From, m.Denom}
			if !seen[k] {
				seen[k] = true
				sources = append(sources, k)
			}
		}
		sort.Slice(sources, func(i, j int) bool {
			if sources[i].owner != sources[j].owner {
				return sources[i].owner < sources[j].owner
			}
			return sources[i].denom < sources[j].denom
		})

		for _, k := range sources {
			if err := lockAccount(ctx, tx, k.owner, k.denom); err != nil {
				return err
			}
		}

		for _, m := range ms {
			if err := debitInTx(ctx, tx, m.From, m.Denom, m.Amount, m.Reference); err != nil {
				return err
			}
			if err := creditInTx(ctx, tx, m.To, m.Denom, m.Amount, m.Reference); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Postgres) Drain(ctx context.Context, owner, denom string, min int64, to, reference string) (int64, error) {
	var moved int64
	err := p.run(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, func(tx *sql.Tx) error {
		var balance decimal.Decimal
		err := tx.QueryRowContext(ctx,
			`SELECT balance FROM accounts WHERE owner = $1 AND denom = $2 FOR UPDATE`,
			owner, denom,
		).Scan(&balance)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: 0 < %d", ErrThresholdNotMet, min)
		}
		if err != nil {
			return fmt.Errorf("failed to lock account: %w", err)
		}

		bal, err := amount.FromDecimal(balance)
		if err != nil {
			return err
		}
		if bal < min || bal == 0 {
			return fmt.Errorf("%w: %d < %d", ErrThresholdNotMet, bal, min)
		}

		if err := debitInTx(ctx, tx, owner, denom, bal, reference); err != nil {
			return err
		}
		if err := creditInTx(ctx, tx, to, denom, bal, reference); err != nil {
			return err
		}
		moved = bal
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, owner, denom string) error {
	var one int
	err := tx.QueryRowContext(ctx,
		`SELECT 1 FROM accounts WHERE owner = $1 AND denom = $2 FOR UPDATE`,
		owner, denom,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s/%s", ErrAccountNotFound, owner, denom)
	}
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}
	return nil
}

func debitInTx(ctx context.Context, tx *sql.Tx, owner, denom string, amt int64, reference string) error {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`UPDATE accounts
		 SET balance = balance - $3, updated_at = $4, version = version + 1
		 WHERE owner = $1 AND denom = $2 AND balance >= $3
		 RETURNING balance`,
		owner, denom, amount.ToDecimal(amt), time.Now(),
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s/%s", ErrInsufficientFunds, owner, denom)
	}
	if err != nil {
		return fmt.Errorf("failed to debit account: %w", err)
	}
	return insertEntry(ctx, tx, owner, denom, "debit", amt, balance, reference)
}

func creditInTx(ctx context.Context, tx *sql.Tx, owner, denom string, amt int64, reference string) error {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx,
		`INSERT INTO accounts (owner, denom, balance, version, created_at, updated_at)
		 VALUES ($1, $2, $3, 1, $4, $4)
		 ON CONFLICT (owner, denom) DO UPDATE
		 SET balance = accounts.balance + $3, updated_at = $4, version = accounts.version + 1
		 RETURNING balance`,
		owner, denom, amount.ToDecimal(amt), time.Now(),
	).Scan(&balance)
	if err != nil {
		return fmt.Errorf("failed to credit account: %w", err)
	}
	return insertEntry(ctx, tx, owner, denom, "credit", amt, balance, reference)
}

func insertEntry(ctx context.Context, tx *sql.Tx, owner, denom, entryType string, amt int64, balance decimal.Decimal, reference string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO entries (id, owner, denom, type, amount, balance, reference, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New(), owner, denom, entryType, amount.ToDecimal(amt), balance, reference, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create entry: %w", err)
	}
	return nil
}
