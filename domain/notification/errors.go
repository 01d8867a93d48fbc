// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package notification

import (
	"github.com/juju/errors"
)

const (
	// ErrTransientDelivery marks a retryable mail transport failure.
	ErrTransientDelivery = errors.ConstError("transient delivery failure")

	// ErrPermanentDelivery marks a non-retryable mail transport
	// failure, an invalid or rejected address.
	ErrPermanentDelivery = errors.ConstError("permanent delivery failure")
)
