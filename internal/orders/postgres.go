package orders

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rwamarkets/settlecore/internal/ledger"
)

// PostgresStore persists purchase orders in an orders table. Resolve takes a
// FOR UPDATE row lock for the duration of the settlement callback so
// concurrent resolutions serialize on the order row.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, investor, asset, quantity, unit_price, total_payment,
	status, created_at, resolved_at, resolved_by, reject_reason, version`

func (p *PostgresStore) Create(ctx context.Context, o *PurchaseOrder) error {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULL, NULL, NULL, 1)
		 ON CONFLICT (id) DO NOTHING`,
		o.ID, o.Investor, o.Asset, o.Quantity, o.UnitPrice, o.TotalPayment,
		o.Status, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDuplicateOrder
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*PurchaseOrder, error) {
	return scanOrder(p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (p *PostgresStore) List(ctx context.Context, f ListFilter) ([]*PurchaseOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	var args []interface{}

	if f.Investor != "" {
		args = append(args, f.Investor)
		query += fmt.Sprintf(" AND investor = $%d", len(args))
	}
	if f.Asset != "" {
		args = append(args, f.Asset)
		query += fmt.Sprintf(" AND asset = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var out []*PurchaseOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Resolve(ctx context.Context, id string, to Status, resolvedBy, reason string,
	settle func(ctx context.Context, o *PurchaseOrder) error) (*PurchaseOrder, error) {

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	o, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPending {
		return nil, ErrNotPending
	}

	if settle != nil {
		// The settlement's ledger movements join this transaction, so the
		// money movement and the status flip commit or roll back as one.
		if err := settle(ledger.WithTx(ctx, tx), o); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $2, resolved_at = $3, resolved_by = $4, reject_reason = $5, version = version + 1
		 WHERE id = $1`,
		id, to, now, nullable(resolvedBy), nullable(reason),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve order: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	o.Status = to
	o.ResolvedAt = &now
	o.ResolvedBy = resolvedBy
	o.RejectReason = reason
	o.Version++
	return o, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*PurchaseOrder, error) {
	var o PurchaseOrder
	var resolvedAt sql.NullTime
	var resolvedBy, rejectReason sql.NullString

	err := row.Scan(&o.ID, &o.Investor, &o.Asset, &o.Quantity, &o.UnitPrice,
		&o.TotalPayment, &o.Status, &o.CreatedAt, &resolvedAt, &resolvedBy,
		&rejectReason, &o.Version)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if resolvedAt.Valid {
		o.ResolvedAt = &resolvedAt.Time
	}
	o.ResolvedBy = resolvedBy.String
	o.RejectReason = rejectReason.String
	return &o, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
