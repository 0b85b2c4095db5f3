// Package dbx provides the DB abstractions shared by repositories:
// a minimal interface (DBTX) implemented by both *sql.DB and *sql.Tx,
// and helpers that run functions inside a transaction.
package dbx

import (
	"context"
	"database/sql"
)

// DBTX is the subset of database/sql used by our repos.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx begins a transaction, runs fn with a transactional handle, and then
// commits on success or rolls back on error/panic. Panics are rethrown.
//
// Typical use:
//
//	err := dbx.WithTx(ctx, db, nil, func(ctx context.Context, tx dbx.DBTX) error {
//	    return repomanager.Revisions(tx).DeleteAll(ctx, owner)
//	})
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}

// InTx runs fn in a transaction scope. A *sql.DB handle gets a fresh
// transaction through WithTx; any other handle (typically a *sql.Tx that an
// outer scope already opened) is passed through, so the work joins the
// caller's transaction instead of committing on its own.
func InTx(ctx context.Context, db DBTX, fn func(ctx context.Context, tx DBTX) error) error {
	if sqlDB, ok := db.(*sql.DB); ok {
		return WithTx(ctx, sqlDB, nil, fn)
	}
	return fn(ctx, db)
}
