// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package database opens and manages the tracker's SQLite database and
// provides the retrying transaction runner used by the domain state
// layers.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

var memoryDBCounter uint64

const (
	retryAttempts    = 10
	retryMinDelay    = 2 * time.Millisecond
	retryMaxDelay    = 200 * time.Millisecond
	retryBackoffMult = 1.6
)

// TxnRunner executes transactions against a single database, retrying
// them while SQLite reports the database busy or locked.
type TxnRunner struct {
	db    *sqlair.DB
	std   *sql.DB
	clock clock.Clock
}

// Open opens (creating if necessary) the database at the given path and
// ensures the schema is current. The special path ":memory:" opens a
// private in-memory database, used by tests.
func Open(path string, clk clock.Clock) (*TxnRunner, error) {
	dsn := path + "?_fk=1&_busy_timeout=2000"
	if path == ":memory:" {
		// A named shared cache keeps all connections of the pool on the
		// same in-memory database, while distinct opens stay isolated.
		name := atomic.AddUint64(&memoryDBCounter, 1)
		dsn = fmt.Sprintf("file:memdb%d?mode=memory&cache=shared&_fk=1", name)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Annotatef(err, "opening database %q", path)
	}
	runner := &TxnRunner{
		db:    sqlair.NewDB(db),
		std:   db,
		clock: clk,
	}
	if err := runner.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	return runner, nil
}

// Txn executes the given function inside a sqlair transaction,
// committing on nil return and rolling back otherwise.
func (r *TxnRunner) Txn(ctx context.Context, fn func(context.Context, *sqlair.TX) error) error {
	return errors.Trace(r.retry(ctx, func() error {
		tx, err := r.db.Begin(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return errors.Trace(tx.Commit())
	}))
}

// StdTxn is like Txn but exposes the database/sql transaction type.
func (r *TxnRunner) StdTxn(ctx context.Context, fn func(context.Context, *sql.Tx) error) error {
	return errors.Trace(r.retry(ctx, func() error {
		tx, err := r.std.BeginTx(ctx, nil)
		if err != nil {
			return errors.Trace(err)
		}
		if err := fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return errors.Trace(tx.Commit())
	}))
}

// Close closes the underlying database.
func (r *TxnRunner) Close() error {
	return errors.Trace(r.std.Close())
}

func (r *TxnRunner) retry(ctx context.Context, fn func() error) error {
	return retry.Call(retry.CallArgs{
		Func: fn,
		IsFatalError: func(err error) bool {
			return !isRetryable(err)
		},
		Attempts:    retryAttempts,
		Delay:       retryMinDelay,
		MaxDelay:    retryMaxDelay,
		BackoffFunc: retry.ExpBackoff(retryMinDelay, retryMaxDelay, retryBackoffMult, true),
		Clock:       r.clock,
		Stop:        ctx.Done(),
	})
}

func (r *TxnRunner) ensureSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, ddl := range schemaDDL {
		if _, err := r.std.ExecContext(ctx, ddl); err != nil {
			return errors.Annotate(err, "applying schema")
		}
	}
	return nil
}

func isRetryable(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
