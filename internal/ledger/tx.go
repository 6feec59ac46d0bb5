package ledger

import (
	"context"
	"database/sql"
)

type txKey struct{}

// WithTx returns a context carrying an open transaction. Movements on the
// Postgres ledger execute on that transaction instead of opening their own,
// so they become durable only when the carrier's transaction commits. The
// caller owns commit and rollback.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFrom(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return tx, ok
}
