// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/distro-tracker/tracker/core/keyword"
	"github.com/distro-tracker/tracker/core/logger"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/notification"
	"github.com/distro-tracker/tracker/domain/subscription"
)

// directReason names the route of a direct subscription in mail
// headers; team routes use the team slug.
const directReason = "direct"

// State describes the persistence methods required by the notification
// service.
type State interface {
	// Begin claims a dispatch attempt, reporting whether it is already
	// in a terminal state.
	Begin(ctx context.Context, recipient string, event corerecord.ChangeEvent, now time.Time) (bool, error)

	// Complete marks a dispatch attempt as sent.
	Complete(ctx context.Context, recipient string, event corerecord.ChangeEvent, now time.Time) error

	// FailPermanent marks a dispatch attempt as permanently failed.
	FailPermanent(ctx context.Context, recipient string, event corerecord.ChangeEvent, now time.Time) error

	// Pending returns the dispatch attempts left in the begun state.
	Pending(ctx context.Context) ([]notification.Request, error)

	// RecordBounce increments the bounce counter, returning the new
	// count.
	RecordBounce(ctx context.Context, email string) (int64, error)

	// ResetBounces clears the bounce counter.
	ResetBounces(ctx context.Context, email string) error

	// MarkInactive stops all future dispatch to the recipient.
	MarkInactive(ctx context.Context, email string) error

	// IsActive reports whether the recipient may still receive mail.
	IsActive(ctx context.Context, email string) (bool, error)
}

// DefaultsFunc looks up a subscriber's personal default keyword set.
type DefaultsFunc func(subscription.Subscriber) (set.Strings, bool)

// Service decides who receives which change events, and owns the
// dispatch ledger guaranteeing at-most-once delivery per recipient and
// event.
type Service struct {
	st          State
	bounceLimit int64
	clock       clock.Clock
	logger      logger.Logger
}

// NewService returns a notification service backed by the given state.
// A recipient whose consecutive bounce count reaches bounceLimit is
// deactivated.
func NewService(st State, bounceLimit int64, clk clock.Clock, logger logger.Logger) *Service {
	return &Service{
		st:          st,
		bounceLimit: bounceLimit,
		clock:       clk,
		logger:      logger,
	}
}

// Route resolves one change event against the given matches and
// returns at most one dispatch request per recipient. A route selects
// its recipient when the event's keyword is in the route's effective
// keyword set: the route's explicit keywords if it has any, else the
// subscriber's personal defaults, else the global default set.
func (s *Service) Route(event corerecord.ChangeEvent, matches []subscription.Match, defaults DefaultsFunc) []notification.Request {
	type selection struct {
		reasons set.Strings
	}
	selected := make(map[subscription.Subscriber]*selection)

	for _, m := range matches {
		keywords := s.effectiveKeywords(m, defaults)
		if !keywords.Contains(event.Keyword.String()) {
			continue
		}
		reason := directReason
		if m.Team != "" {
			reason = m.Team
		}
		if sel, ok := selected[m.Subscriber]; ok {
			sel.reasons.Add(reason)
			continue
		}
		selected[m.Subscriber] = &selection{reasons: set.NewStrings(reason)}
	}

	recipients := make([]subscription.Subscriber, 0, len(selected))
	for sub := range selected {
		recipients = append(recipients, sub)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })

	requests := make([]notification.Request, len(recipients))
	for i, sub := range recipients {
		requests[i] = notification.Request{
			ID:        uuid.NewString(),
			Recipient: sub,
			Event:     event,
			Reasons:   selected[sub].reasons.SortedValues(),
		}
	}
	return requests
}

func (s *Service) effectiveKeywords(m subscription.Match, defaults DefaultsFunc) set.Strings {
	if m.HasKeywords {
		return m.Keywords
	}
	if defaults != nil {
		if personal, ok := defaults(m.Subscriber); ok {
			return personal
		}
	}
	return keyword.Defaults()
}

// Begin claims the dispatch of a request, reporting whether it was
// already dispatched. Callers must not send when Begin returns true.
func (s *Service) Begin(ctx context.Context, req notification.Request) (bool, error) {
	done, err := s.st.Begin(ctx, req.Recipient.String(), req.Event, s.clock.Now().UTC())
	return done, errors.Trace(err)
}

// Complete records a confirmed hand-off to the mail transport and
// clears the recipient's bounce counter.
func (s *Service) Complete(ctx context.Context, req notification.Request) error {
	now := s.clock.Now().UTC()
	if err := s.st.Complete(ctx, req.Recipient.String(), req.Event, now); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(s.st.ResetBounces(ctx, req.Recipient.String()))
}

// FailPermanent records a permanently failed dispatch. The request is
// never retried.
func (s *Service) FailPermanent(ctx context.Context, req notification.Request) error {
	s.logger.Warningf(ctx, "dispatch %s to %q failed permanently", req.ID, req.Recipient)
	return errors.Trace(s.st.FailPermanent(ctx, req.Recipient.String(), req.Event, s.clock.Now().UTC()))
}

// Pending returns the requests whose dispatch was interrupted before
// confirmation. They are safe to retry.
func (s *Service) Pending(ctx context.Context) ([]notification.Request, error) {
	requests, err := s.st.Pending(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	for i := range requests {
		requests[i].ID = uuid.NewString()
	}
	return requests, nil
}

// RecordBounce accounts one bounced mail for the recipient. When the
// consecutive bounce count reaches the limit the recipient is
// deactivated and true is returned.
func (s *Service) RecordBounce(ctx context.Context, recipient subscription.Subscriber) (bool, error) {
	count, err := s.st.RecordBounce(ctx, recipient.String())
	if err != nil {
		return false, errors.Trace(err)
	}
	if count < s.bounceLimit {
		return false, nil
	}
	s.logger.Warningf(ctx, "deactivating %q after %d consecutive bounces", recipient, count)
	if err := s.st.MarkInactive(ctx, recipient.String()); err != nil {
		return false, errors.Trace(err)
	}
	return true, nil
}

// IsActive reports whether the recipient may still receive mail.
func (s *Service) IsActive(ctx context.Context, recipient subscription.Subscriber) (bool, error) {
	active, err := s.st.IsActive(ctx, recipient.String())
	return active, errors.Trace(err)
}
