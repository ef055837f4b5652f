// Package database wraps sqlx with context-carried transactions. A caller
// opens a transaction with GetTx; every query made through the returned
// context is routed to that transaction, so repositories stay unaware of
// transaction boundaries.
package database

import (
	"context"
	"database/sql"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

// DB is the query surface repositories are written against.
type DB interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	PingContext(ctx context.Context) error
	Close() error

	// GetTx returns a context that routes queries through a transaction,
	// joining the transaction already carried by ctx when one is open.
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error)
}

type Instance struct {
	db     *sqlx.DB
	logger ectologger.Logger
}

func New(db *sqlx.DB, logger ectologger.Logger) DB {
	return &Instance{
		db:     db,
		logger: logger,
	}
}

func (i *Instance) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if tx := txFromContext(ctx); tx != nil {
		return tx.GetContext(ctx, dest, query, args...)
	}
	return i.db.GetContext(ctx, dest, query, args...)
}

func (i *Instance) SelectContext(ctx context.Context, dest any, query string, args ...any) error {
	if tx := txFromContext(ctx); tx != nil {
		return tx.SelectContext(ctx, dest, query, args...)
	}
	return i.db.SelectContext(ctx, dest, query, args...)
}

func (i *Instance) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return i.db.ExecContext(ctx, query, args...)
}

func (i *Instance) QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRowxContext(ctx, query, args...)
	}
	return i.db.QueryRowxContext(ctx, query, args...)
}

func (i *Instance) PingContext(ctx context.Context) error {
	return i.db.PingContext(ctx)
}

func (i *Instance) Close() error {
	return i.db.Close()
}

func (i *Instance) GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, Tx, error) {
	return getTx(ctx, i.logger, i.db, opts)
}
