// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// SubscriptionNotFound describes an error that occurs when the
	// addressed subscription does not exist.
	SubscriptionNotFound = errors.ConstError("subscription not found")

	// TeamNotFound describes an error that occurs when the addressed
	// team does not exist.
	TeamNotFound = errors.ConstError("team not found")

	// MembershipNotFound describes an error that occurs when the
	// subscriber is not a member of the addressed team.
	MembershipNotFound = errors.ConstError("membership not found")

	// UnknownKeyword describes an error that occurs when a keyword
	// outside the known vocabulary is used.
	UnknownKeyword = errors.ConstError("unknown keyword")
)
