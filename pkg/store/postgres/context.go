package postgres

import (
	"context"
	"database/sql"
)

type txKey struct{}

func WithTransaction(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func GetTransaction(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Querier is the subset of *sql.DB and *sql.Tx the stores need. Stores
// resolve it per call so that operations join an in-flight transaction
// carried in the context.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func GetQuerier(ctx context.Context, db *sql.DB) Querier {
	if tx := GetTransaction(ctx); tx != nil {
		return tx
	}
	return db
}
