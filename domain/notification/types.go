// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package notification turns change events and subscription matches
// into dispatch requests, and tracks dispatch state so that each
// recipient sees each event at most once.
package notification

import (
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/subscription"
)

// Request is one email to be dispatched: a single change event for a
// single recipient. The pair (Recipient, Event) is the idempotency key
// of the dispatch ledger; ID only identifies the request in logs.
type Request struct {
	ID        string
	Recipient subscription.Subscriber
	Event     corerecord.ChangeEvent

	// Reasons names the routes that selected the recipient: "direct"
	// for a direct subscription, otherwise the team slug. Rendered
	// into the mail headers so recipients can see why they got it.
	Reasons []string
}

// DispatchState is the ledger state of one dispatch attempt.
type DispatchState string

const (
	// DispatchBegun marks a dispatch that was handed to the mail
	// transport but not yet confirmed. A restart retries it.
	DispatchBegun DispatchState = "begun"
	// DispatchSent marks a confirmed delivery to the transport.
	DispatchSent DispatchState = "sent"
	// DispatchFailed marks a permanently failed dispatch. It is not
	// retried.
	DispatchFailed DispatchState = "failed"
)
