// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package record defines the canonical per-package record: an ordered
// mapping from field name to a typed value with a monotonically
// increasing per-field version.
package record

import (
	"time"

	"github.com/distro-tracker/tracker/core/keyword"
)

// Field names one entry of a package record, e.g. "upload_version" or
// "bug_count".
type Field string

// String implements fmt.Stringer.
func (f Field) String() string {
	return string(f)
}

// KeywordMap is the static mapping from field to notification keyword.
// Every field is mapped to exactly one keyword.
type KeywordMap map[Field]keyword.Keyword

// Keyword resolves the keyword for a field, falling back to the
// "default" keyword for unmapped fields.
func (m KeywordMap) Keyword(f Field) keyword.Keyword {
	if k, ok := m[f]; ok {
		return k
	}
	return keyword.Default
}

// Write is one intended field mutation produced by a task run. Tasks
// may rewrite a field unconditionally every cycle; the store decides
// whether anything actually changed.
type Write struct {
	Field Field
	Value Value
}

// FieldState is the stored state of one field of a package record.
type FieldState struct {
	Value   Value
	Version int64
	Updated time.Time
}

// Diff describes one effective field change. Old is the zero Value
// when the field was previously absent.
type Diff struct {
	Field   Field
	Old     Value
	New     Value
	Version int64
}
