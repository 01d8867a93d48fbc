// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package record

import (
	"time"

	"github.com/distro-tracker/tracker/core/keyword"
)

// ChangedTopic is the hub topic on which the record store publishes
// change events. Events for a single package are published in apply
// order; there is no ordering guarantee across packages.
const ChangedTopic = "record.change"

// ChangeEvent reports that one field of a package record changed.
// It is immutable once published.
type ChangeEvent struct {
	Package   string
	Field     Field
	Old       Value
	New       Value
	Version   int64
	Timestamp time.Time
	Keyword   keyword.Keyword
}
