// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"time"
)

// attemptRow is the dispatch_attempt table row. Keyword, kind and
// payload carry enough of the originating event to rebuild a request
// with full digest content after a crash.
type attemptRow struct {
	Recipient string    `db:"recipient"`
	Package   string    `db:"package"`
	Field     string    `db:"field"`
	Version   int64     `db:"version"`
	Keyword   string    `db:"keyword"`
	Kind      string    `db:"kind"`
	Payload   string    `db:"payload"`
	State     string    `db:"state"`
	Attempts  int64     `db:"attempts"`
	UpdatedAt time.Time `db:"updated_at"`
}

// bounceRow is the recipient_bounce table row.
type bounceRow struct {
	Email    string `db:"email"`
	Bounces  int64  `db:"bounces"`
	Inactive bool   `db:"inactive"`
}
