package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists the registry in two tables: a single-row
// registry_root table and a registry_principals allowlist.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed registry store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Initialize(ctx context.Context, root string) error {
	// The singleton row makes a second initialization a conflict, not a
	// second root.
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO registry_root (singleton, root_authority, created_at)
		 VALUES (TRUE, $1, $2)
		 ON CONFLICT (singleton) DO NOTHING`,
		root, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize registry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyInitialized
	}
	return nil
}

func (p *PostgresStore) Root(ctx context.Context) (string, error) {
	var root string
	err := p.db.QueryRowContext(ctx,
		`SELECT root_authority FROM registry_root WHERE singleton`,
	).Scan(&root)

	if err == sql.ErrNoRows {
		return "", ErrNotInitialized
	}
	if err != nil {
		return "", fmt.Errorf("failed to get root authority: %w", err)
	}
	return root, nil
}

func (p *PostgresStore) Add(ctx context.Context, principal string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO registry_principals (principal, created_at)
		 VALUES ($1, $2)
		 ON CONFLICT (principal) DO NOTHING`,
		principal, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to add principal: %w", err)
	}
	return nil
}

func (p *PostgresStore) Remove(ctx context.Context, principal string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM registry_principals WHERE principal = $1`,
		principal,
	)
	if err != nil {
		return false, fmt.Errorf("failed to remove principal: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (p *PostgresStore) IsMember(ctx context.Context, principal string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM registry_principals WHERE principal = $1)`,
		principal,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check principal: %w", err)
	}
	return exists, nil
}

func (p *PostgresStore) Members(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT principal FROM registry_principals ORDER BY created_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		members = append(members, p)
	}
	return members, rows.Err()
}
