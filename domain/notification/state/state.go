// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"time"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/distro-tracker/tracker/core/database"
	"github.com/distro-tracker/tracker/core/keyword"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/notification"
	"github.com/distro-tracker/tracker/domain/subscription"
)

// State provides persistence for the dispatch ledger and bounce
// accounting.
type State struct {
	db coredatabase.TxnRunner
}

// NewState returns a new state reference.
func NewState(db coredatabase.TxnRunner) *State {
	return &State{db: db}
}

func attemptKey(recipient string, event corerecord.ChangeEvent) attemptRow {
	return attemptRow{
		Recipient: recipient,
		Package:   event.Package,
		Field:     event.Field.String(),
		Version:   event.Version,
	}
}

// Begin claims a dispatch attempt for the given recipient and event.
// It returns true if the attempt is already in a terminal state, in
// which case the caller must not dispatch again. A non-terminal claim
// bumps the attempt counter, so a crash between transport hand-off and
// Complete leaves a begun row that the next run retries. The row keeps
// the event's keyword and new value so the retried dispatch carries
// the same digest content as the original.
func (s *State) Begin(ctx context.Context, recipient string, event corerecord.ChangeEvent, now time.Time) (bool, error) {
	insert, err := sqlair.Prepare(`
INSERT INTO dispatch_attempt (recipient, package, field, version, keyword, kind, payload, state, attempts, updated_at)
VALUES ($attemptRow.recipient, $attemptRow.package, $attemptRow.field,
        $attemptRow.version, $attemptRow.keyword, $attemptRow.kind,
        $attemptRow.payload, $attemptRow.state, 0, $attemptRow.updated_at)
ON CONFLICT (recipient, package, field, version) DO NOTHING`, attemptRow{})
	if err != nil {
		return false, errors.Trace(err)
	}
	query, err := sqlair.Prepare(`
SELECT &attemptRow.*
FROM   dispatch_attempt
WHERE  recipient = $attemptRow.recipient
AND    package = $attemptRow.package
AND    field = $attemptRow.field
AND    version = $attemptRow.version`, attemptRow{})
	if err != nil {
		return false, errors.Trace(err)
	}
	bump, err := sqlair.Prepare(`
UPDATE dispatch_attempt
SET    attempts = attempts + 1, updated_at = $attemptRow.updated_at
WHERE  recipient = $attemptRow.recipient
AND    package = $attemptRow.package
AND    field = $attemptRow.field
AND    version = $attemptRow.version`, attemptRow{})
	if err != nil {
		return false, errors.Trace(err)
	}

	key := attemptKey(recipient, event)
	key.State = string(notification.DispatchBegun)
	key.UpdatedAt = now
	key.Keyword = event.Keyword.String()
	if !event.New.IsZero() {
		payload, err := event.New.Encode()
		if err != nil {
			return false, errors.Trace(err)
		}
		key.Kind = event.New.Kind.String()
		key.Payload = payload
	}

	var done bool
	err = s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := tx.Query(ctx, insert, key).Run(); err != nil {
			return errors.Trace(err)
		}
		var row attemptRow
		if err := tx.Query(ctx, query, key).Get(&row); err != nil {
			return errors.Trace(err)
		}
		if notification.DispatchState(row.State) != notification.DispatchBegun {
			done = true
			return nil
		}
		return errors.Trace(tx.Query(ctx, bump, key).Run())
	})
	return done, errors.Trace(err)
}

// Complete marks a dispatch attempt as sent.
func (s *State) Complete(ctx context.Context, recipient string, event corerecord.ChangeEvent, now time.Time) error {
	return errors.Trace(s.setState(ctx, recipient, event, notification.DispatchSent, now))
}

// FailPermanent marks a dispatch attempt as permanently failed.
func (s *State) FailPermanent(ctx context.Context, recipient string, event corerecord.ChangeEvent, now time.Time) error {
	return errors.Trace(s.setState(ctx, recipient, event, notification.DispatchFailed, now))
}

func (s *State) setState(ctx context.Context, recipient string, event corerecord.ChangeEvent, to notification.DispatchState, now time.Time) error {
	stmt, err := sqlair.Prepare(`
UPDATE dispatch_attempt
SET    state = $attemptRow.state, updated_at = $attemptRow.updated_at
WHERE  recipient = $attemptRow.recipient
AND    package = $attemptRow.package
AND    field = $attemptRow.field
AND    version = $attemptRow.version`, attemptRow{})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		key := attemptKey(recipient, event)
		key.State = string(to)
		key.UpdatedAt = now
		return errors.Trace(tx.Query(ctx, stmt, key).Run())
	}))
}

// Pending returns the dispatch attempts left in the begun state, oldest
// first. These are dispatches interrupted by a crash or shutdown.
func (s *State) Pending(ctx context.Context) ([]notification.Request, error) {
	stmt, err := sqlair.Prepare(`
SELECT &attemptRow.*
FROM   dispatch_attempt
WHERE  state = 'begun'
ORDER BY updated_at`, attemptRow{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []attemptRow
	err = s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	requests := make([]notification.Request, len(rows))
	for i, row := range rows {
		event := corerecord.ChangeEvent{
			Package: row.Package,
			Field:   corerecord.Field(row.Field),
			Version: row.Version,
			Keyword: keyword.Keyword(row.Keyword),
		}
		// Rows written before the value columns existed have no kind;
		// their requests go out without the new value.
		if row.Kind != "" {
			value, err := corerecord.DecodeValue(row.Kind, row.Payload)
			if err != nil {
				return nil, errors.Trace(err)
			}
			event.New = value
		}
		requests[i] = notification.Request{
			Recipient: subscription.Subscriber(row.Recipient),
			Event:     event,
		}
	}
	return requests, nil
}

// RecordBounce increments the bounce counter for the recipient and
// returns the new count.
func (s *State) RecordBounce(ctx context.Context, email string) (int64, error) {
	upsert, err := sqlair.Prepare(`
INSERT INTO recipient_bounce (email, bounces)
VALUES ($bounceRow.email, 1)
ON CONFLICT (email) DO UPDATE SET bounces = recipient_bounce.bounces + 1`, bounceRow{})
	if err != nil {
		return 0, errors.Trace(err)
	}
	query, err := sqlair.Prepare(`
SELECT &bounceRow.*
FROM   recipient_bounce
WHERE  email = $bounceRow.email`, bounceRow{})
	if err != nil {
		return 0, errors.Trace(err)
	}

	var count int64
	err = s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		key := bounceRow{Email: email}
		if err := tx.Query(ctx, upsert, key).Run(); err != nil {
			return errors.Trace(err)
		}
		var row bounceRow
		if err := tx.Query(ctx, query, key).Get(&row); err != nil {
			return errors.Trace(err)
		}
		count = row.Bounces
		return nil
	})
	return count, errors.Trace(err)
}

// ResetBounces clears the bounce counter after a confirmed delivery.
func (s *State) ResetBounces(ctx context.Context, email string) error {
	stmt, err := sqlair.Prepare(`
UPDATE recipient_bounce
SET    bounces = 0
WHERE  email = $bounceRow.email`, bounceRow{})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, bounceRow{Email: email}).Run())
	}))
}

// MarkInactive stops all future dispatch to the recipient.
func (s *State) MarkInactive(ctx context.Context, email string) error {
	stmt, err := sqlair.Prepare(`
INSERT INTO recipient_bounce (email, inactive)
VALUES ($bounceRow.email, TRUE)
ON CONFLICT (email) DO UPDATE SET inactive = TRUE`, bounceRow{})
	if err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		return errors.Trace(tx.Query(ctx, stmt, bounceRow{Email: email}).Run())
	}))
}

// IsActive reports whether the recipient may still receive mail.
func (s *State) IsActive(ctx context.Context, email string) (bool, error) {
	stmt, err := sqlair.Prepare(`
SELECT &bounceRow.*
FROM   recipient_bounce
WHERE  email = $bounceRow.email`, bounceRow{})
	if err != nil {
		return false, errors.Trace(err)
	}

	active := true
	err = s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var row bounceRow
		err := tx.Query(ctx, stmt, bounceRow{Email: email}).Get(&row)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		active = !row.Inactive
		return nil
	})
	return active, errors.Trace(err)
}
