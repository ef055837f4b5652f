package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type txContextKey string

const txKey = txContextKey("tx-context-key")

// Tx is an open database transaction. Commit and Rollback are idempotent;
// a deferred Rollback after a successful Commit is a no-op.
type Tx interface {
	IsOpen() bool
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowxContext(ctx context.Context, query string, args ...any) *sqlx.Row
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

type transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	// joined marks a handle returned for a transaction some outer caller
	// opened; its Commit and Rollback defer to that caller.
	joined bool
}

func txFromContext(ctx context.Context) Tx {
	tx, ok := ctx.Value(txKey).(Tx)
	if ok && tx != nil && tx.IsOpen() {
		return tx
	}
	return nil
}

func getTx(ctx context.Context, logger ectologger.Logger, db *sqlx.DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if existing, ok := ctx.Value(txKey).(*transaction); ok && existing.IsOpen() {
		return ctx, &transaction{Tx: existing.Tx, logger: logger, joined: true}, nil
	}

	sqlxTx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	tx := &transaction{Tx: sqlxTx, logger: logger}
	return context.WithValue(ctx, txKey, tx), tx, nil
}

func (t *transaction) IsOpen() bool {
	return !t.isClosed
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.isClosed || t.joined {
		return nil
	}

	if err := t.Tx.Commit(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}

	t.isClosed = true
	return nil
}

func (t *transaction) Rollback(ctx context.Context) error {
	if t.isClosed || t.joined {
		return nil
	}

	if err := t.Tx.Rollback(); err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}

	t.isClosed = true
	return nil
}
