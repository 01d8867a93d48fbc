// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package record implements the canonical package record store: the
// single authority on whether a task write actually changed anything.
package record

import (
	"time"

	corerecord "github.com/distro-tracker/tracker/core/record"
)

// FieldUpdate is one field write to persist, with the version already
// resolved by the service.
type FieldUpdate struct {
	Field   corerecord.Field
	Value   corerecord.Value
	Version int64
	Updated time.Time
}
