// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"

	"github.com/im7mortal/kmutex"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/distro-tracker/tracker/core/logger"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/record"
)

// State describes the persistence methods required by the record
// service.
type State interface {
	// Fields returns the stored fields of the named package.
	Fields(ctx context.Context, pkg string) (map[corerecord.Field]corerecord.FieldState, error)

	// Apply atomically persists the given field updates.
	Apply(ctx context.Context, pkg string, updates []record.FieldUpdate) error

	// Packages returns the names of all active packages.
	Packages(ctx context.Context) ([]string, error)

	// SetActive flags a package as active or inactive.
	SetActive(ctx context.Context, pkg string, active bool) error
}

// EventHub publishes change events to interested consumers. It is
// satisfied by *pubsub.SimpleHub.
type EventHub interface {
	Publish(topic string, data interface{}) func()
}

// Service is the package record store. It owns diff computation,
// per-field versioning and change event emission. Tasks rewrite fields
// unconditionally; the service decides what actually changed.
type Service struct {
	st       State
	hub      EventHub
	keywords corerecord.KeywordMap
	clock    clock.Clock
	logger   logger.Logger

	// applyLocks serialises Apply calls per package so that concurrent
	// tasks writing disjoint fields cannot race on version counters.
	// Different packages proceed independently.
	applyLocks *kmutex.Kmutex
}

// NewService returns a record store backed by the given state.
func NewService(
	st State,
	hub EventHub,
	keywords corerecord.KeywordMap,
	clk clock.Clock,
	logger logger.Logger,
) *Service {
	return &Service{
		st:         st,
		hub:        hub,
		keywords:   keywords,
		clock:      clk,
		logger:     logger,
		applyLocks: kmutex.New(),
	}
}

// Apply applies the field writes of one task run to the named package.
// Writes whose value equals the current one (under the field's equality
// semantics) are dropped; the remainder is persisted atomically with
// bumped versions, published as change events in write order, and
// returned. The first successful Apply for an unknown package creates
// its record.
func (s *Service) Apply(ctx context.Context, pkg string, writes []corerecord.Write) ([]corerecord.Diff, error) {
	if pkg == "" {
		return nil, errors.NotValidf("empty package name")
	}
	for _, w := range writes {
		if w.Value.IsZero() {
			return nil, errors.NotValidf("write of absent value to field %q", w.Field)
		}
	}

	s.applyLocks.Lock(pkg)
	defer s.applyLocks.Unlock(pkg)

	current, err := s.st.Fields(ctx, pkg)
	if err != nil {
		return nil, errors.Trace(err)
	}

	now := s.clock.Now().UTC()
	var (
		diffs   []corerecord.Diff
		updates []record.FieldUpdate
	)
	seen := make(map[corerecord.Field]bool)
	for _, w := range writes {
		if seen[w.Field] {
			return nil, errors.NotValidf("duplicate write to field %q", w.Field)
		}
		seen[w.Field] = true

		prior, exists := current[w.Field]
		if exists && prior.Value.Equal(w.Value) {
			// No-op rewrite; no version bump, no event.
			continue
		}
		version := int64(1)
		if exists {
			version = prior.Version + 1
		}
		diffs = append(diffs, corerecord.Diff{
			Field:   w.Field,
			Old:     prior.Value,
			New:     w.Value,
			Version: version,
		})
		updates = append(updates, record.FieldUpdate{
			Field:   w.Field,
			Value:   w.Value,
			Version: version,
			Updated: now,
		})
	}
	if len(updates) == 0 {
		return nil, nil
	}

	if err := s.st.Apply(ctx, pkg, updates); err != nil {
		return nil, errors.Trace(err)
	}

	for _, d := range diffs {
		event := corerecord.ChangeEvent{
			Package:   pkg,
			Field:     d.Field,
			Old:       d.Old,
			New:       d.New,
			Version:   d.Version,
			Timestamp: now,
			Keyword:   s.keywords.Keyword(d.Field),
		}
		s.logger.Debugf(ctx, "package %q field %q changed (version %d)", pkg, d.Field, d.Version)
		// Waiting on the completer keeps events for one package in
		// emission order and means a returned Apply has handed its
		// events to every subscriber.
		done := s.hub.Publish(corerecord.ChangedTopic, event)
		done()
	}
	return diffs, nil
}

// Record returns the current record of the named package.
func (s *Service) Record(ctx context.Context, pkg string) (map[corerecord.Field]corerecord.FieldState, error) {
	fields, err := s.st.Fields(ctx, pkg)
	return fields, errors.Trace(err)
}

// Packages returns the names of all active packages.
func (s *Service) Packages(ctx context.Context) ([]string, error) {
	packages, err := s.st.Packages(ctx)
	return packages, errors.Trace(err)
}

// SetActive flags a package as active or inactive.
func (s *Service) SetActive(ctx context.Context, pkg string, active bool) error {
	return errors.Trace(s.st.SetActive(ctx, pkg, active))
}
