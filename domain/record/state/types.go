// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"time"
)

// packageName holds the name of a package row.
type packageName struct {
	Name string `db:"name"`
}

// packageRow is the full package table row.
type packageRow struct {
	Name      string    `db:"name"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

// fieldRow is the package_field table row.
type fieldRow struct {
	Package   string    `db:"package"`
	Field     string    `db:"field"`
	Kind      string    `db:"kind"`
	Payload   string    `db:"payload"`
	Version   int64     `db:"version"`
	UpdatedAt time.Time `db:"updated_at"`
}
