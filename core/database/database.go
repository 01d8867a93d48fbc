// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package database defines the transaction runner contract that the
// domain state layers are written against.
package database

import (
	"context"
	"database/sql"

	"github.com/canonical/sqlair"
)

// TxnRunner runs transactions against the tracker database.
type TxnRunner interface {
	// Txn executes the given function inside a transaction using the
	// sqlair API. The transaction is committed if the function returns
	// nil, and rolled back otherwise.
	Txn(context.Context, func(context.Context, *sqlair.TX) error) error

	// StdTxn is like Txn but exposes the standard library transaction
	// type, for statements sqlair cannot express.
	StdTxn(context.Context, func(context.Context, *sql.Tx) error) error
}
