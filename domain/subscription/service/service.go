// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	"sync"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/distro-tracker/tracker/core/keyword"
	"github.com/distro-tracker/tracker/core/logger"
	"github.com/distro-tracker/tracker/domain/subscription"
	subscriptionerrors "github.com/distro-tracker/tracker/domain/subscription/errors"
	"github.com/distro-tracker/tracker/domain/subscription/state"
)

// State describes the persistence methods required by the subscription
// service.
type State interface {
	// Load reads the entire subscription model.
	Load(ctx context.Context) (*state.Model, error)

	// Subscribe records a direct subscription.
	Subscribe(ctx context.Context, sub subscription.Subscriber, pkg string) error

	// Unsubscribe removes a direct subscription.
	Unsubscribe(ctx context.Context, sub subscription.Subscriber, pkg string) error

	// SetSubscriptionMuted flags a direct subscription as muted.
	SetSubscriptionMuted(ctx context.Context, sub subscription.Subscriber, pkg string, muted bool) error

	// SetSubscriptionKeywords replaces the keyword set of a direct
	// subscription.
	SetSubscriptionKeywords(ctx context.Context, sub subscription.Subscriber, pkg string, has bool, keywords []string) error

	// SetSubscriberKeywords replaces a subscriber's personal default
	// keyword set.
	SetSubscriberKeywords(ctx context.Context, sub subscription.Subscriber, has bool, keywords []string) error

	// EnsureTeam creates a team if it does not exist.
	EnsureTeam(ctx context.Context, slug string) error

	// AddTeamPackage subscribes a team to a package.
	AddTeamPackage(ctx context.Context, slug, pkg string) error

	// RemoveTeamPackage removes a package from a team.
	RemoveTeamPackage(ctx context.Context, slug, pkg string) error

	// Join adds a subscriber to a team.
	Join(ctx context.Context, slug string, sub subscription.Subscriber) error

	// Leave removes a subscriber from a team.
	Leave(ctx context.Context, slug string, sub subscription.Subscriber) error

	// SetMembershipMuted mutes or unmutes a whole team membership.
	SetMembershipMuted(ctx context.Context, slug string, sub subscription.Subscriber, muted bool) error

	// SetMembershipKeywords replaces the membership default keyword set.
	SetMembershipKeywords(ctx context.Context, slug string, sub subscription.Subscriber, has bool, keywords []string) error

	// SetMembershipPackageMuted mutes or unmutes a single package
	// within a membership.
	SetMembershipPackageMuted(ctx context.Context, slug string, sub subscription.Subscriber, pkg string, muted bool) error

	// SetMembershipPackageKeywords replaces the keyword set of a single
	// package within a membership.
	SetMembershipPackageKeywords(ctx context.Context, slug string, sub subscription.Subscriber, pkg string, has bool, keywords []string) error
}

// Service applies account events to the subscription model and answers
// match queries for the router. The full model is held in memory,
// hydrated from state at startup; mutations write through to state
// before updating the index. Match queries go through package-keyed
// maps so their cost depends on the subscribers of that package, not
// on the size of the whole model.
type Service struct {
	st     State
	logger logger.Logger

	mu       sync.RWMutex
	directs  map[subscription.Subscriber]map[string]*subscription.Direct
	teams    map[string]*subscription.Team
	members  map[string]map[subscription.Subscriber]*subscription.Membership
	defaults map[subscription.Subscriber]set.Strings

	// byPackage shares the Direct pointers held in directs; keyword
	// and mute edits through either view are seen by both.
	byPackage      map[string]map[subscription.Subscriber]*subscription.Direct
	teamsByPackage map[string]set.Strings
}

// NewService returns a subscription service backed by the given state.
// Hydrate must be called before the service answers queries.
func NewService(st State, logger logger.Logger) *Service {
	return &Service{
		st:             st,
		logger:         logger,
		directs:        make(map[subscription.Subscriber]map[string]*subscription.Direct),
		teams:          make(map[string]*subscription.Team),
		members:        make(map[string]map[subscription.Subscriber]*subscription.Membership),
		defaults:       make(map[subscription.Subscriber]set.Strings),
		byPackage:      make(map[string]map[subscription.Subscriber]*subscription.Direct),
		teamsByPackage: make(map[string]set.Strings),
	}
}

// Hydrate loads the persisted subscription model into the in-memory
// index, replacing whatever was there.
func (s *Service) Hydrate(ctx context.Context) error {
	model, err := s.st.Load(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.directs = make(map[subscription.Subscriber]map[string]*subscription.Direct)
	s.byPackage = make(map[string]map[subscription.Subscriber]*subscription.Direct)
	for i := range model.Directs {
		d := model.Directs[i]
		if s.directs[d.Subscriber] == nil {
			s.directs[d.Subscriber] = make(map[string]*subscription.Direct)
		}
		s.directs[d.Subscriber][d.Package] = &d
		s.indexDirect(&d)
	}
	s.teams = make(map[string]*subscription.Team)
	s.teamsByPackage = make(map[string]set.Strings)
	for i := range model.Teams {
		t := model.Teams[i]
		s.teams[t.Slug] = &t
		for _, pkg := range t.Packages.Values() {
			s.indexTeamPackage(t.Slug, pkg)
		}
	}
	s.members = make(map[string]map[subscription.Subscriber]*subscription.Membership)
	for i := range model.Memberships {
		m := model.Memberships[i]
		if s.members[m.Team] == nil {
			s.members[m.Team] = make(map[subscription.Subscriber]*subscription.Membership)
		}
		s.members[m.Team][m.Subscriber] = &m
	}
	s.defaults = model.Defaults

	s.logger.Infof(ctx, "hydrated %d subscriptions, %d teams, %d memberships",
		len(model.Directs), len(model.Teams), len(model.Memberships))
	return nil
}

// Apply applies one account event, persisting the mutation before
// updating the in-memory index. Events must be applied in delivery
// order.
func (s *Service) Apply(ctx context.Context, event subscription.AccountEvent) error {
	if event.Subscriber == "" {
		return errors.NotValidf("account event without subscriber")
	}
	for _, kw := range event.Keywords {
		if !keyword.Valid(kw) {
			return errors.Annotatef(subscriptionerrors.UnknownKeyword, "%q", kw)
		}
	}

	switch event.Kind {
	case subscription.Subscribe:
		return errors.Trace(s.applySubscribe(ctx, event))
	case subscription.Unsubscribe:
		return errors.Trace(s.applyUnsubscribe(ctx, event))
	case subscription.SetKeywords:
		return errors.Trace(s.applySetKeywords(ctx, event))
	case subscription.Mute:
		return errors.Trace(s.applyMuted(ctx, event, true))
	case subscription.Unmute:
		return errors.Trace(s.applyMuted(ctx, event, false))
	default:
		return errors.NotValidf("account event kind %d", event.Kind)
	}
}

func (s *Service) applySubscribe(ctx context.Context, event subscription.AccountEvent) error {
	switch event.Target.Kind {
	case subscription.TargetPackage:
		pkg := event.Target.Name
		if err := s.st.Subscribe(ctx, event.Subscriber, pkg); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.directs[event.Subscriber] == nil {
			s.directs[event.Subscriber] = make(map[string]*subscription.Direct)
		}
		if _, ok := s.directs[event.Subscriber][pkg]; !ok {
			s.directs[event.Subscriber][pkg] = &subscription.Direct{
				Subscriber: event.Subscriber,
				Package:    pkg,
				Keywords:   set.NewStrings(),
			}
		}
		s.indexDirect(s.directs[event.Subscriber][pkg])
		return nil
	case subscription.TargetTeam:
		slug := event.Target.Name
		if err := s.st.Join(ctx, slug, event.Subscriber); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.members[slug] == nil {
			s.members[slug] = make(map[subscription.Subscriber]*subscription.Membership)
		}
		if _, ok := s.members[slug][event.Subscriber]; !ok {
			s.members[slug][event.Subscriber] = &subscription.Membership{
				Team:       slug,
				Subscriber: event.Subscriber,
				Keywords:   set.NewStrings(),
				Packages:   make(map[string]subscription.PackageSpecifics),
			}
		}
		return nil
	default:
		return errors.NotValidf("subscribe to self")
	}
}

func (s *Service) applyUnsubscribe(ctx context.Context, event subscription.AccountEvent) error {
	switch event.Target.Kind {
	case subscription.TargetPackage:
		pkg := event.Target.Name
		if err := s.st.Unsubscribe(ctx, event.Subscriber, pkg); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.directs[event.Subscriber], pkg)
		s.unindexDirect(event.Subscriber, pkg)
		return nil
	case subscription.TargetTeam:
		slug := event.Target.Name
		if err := s.st.Leave(ctx, slug, event.Subscriber); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.members[slug], event.Subscriber)
		return nil
	default:
		return errors.NotValidf("unsubscribe from self")
	}
}

func (s *Service) applySetKeywords(ctx context.Context, event subscription.AccountEvent) error {
	keywords := make([]string, len(event.Keywords))
	for i, kw := range event.Keywords {
		keywords[i] = kw.String()
	}

	switch event.Target.Kind {
	case subscription.TargetPackage:
		pkg := event.Target.Name
		if err := s.st.SetSubscriptionKeywords(ctx, event.Subscriber, pkg, event.HasKeywords, keywords); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if d, ok := s.directs[event.Subscriber][pkg]; ok {
			d.HasKeywords = event.HasKeywords
			d.Keywords = set.NewStrings(keywords...)
		}
		return nil
	case subscription.TargetTeam:
		slug := event.Target.Name
		if event.Package == "" {
			if err := s.st.SetMembershipKeywords(ctx, slug, event.Subscriber, event.HasKeywords, keywords); err != nil {
				return errors.Trace(err)
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if m, ok := s.members[slug][event.Subscriber]; ok {
				m.HasKeywords = event.HasKeywords
				m.Keywords = set.NewStrings(keywords...)
			}
			return nil
		}
		if err := s.st.SetMembershipPackageKeywords(ctx, slug, event.Subscriber, event.Package, event.HasKeywords, keywords); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.members[slug][event.Subscriber]; ok {
			spec := m.Packages[event.Package]
			spec.HasKeywords = event.HasKeywords
			spec.Keywords = set.NewStrings(keywords...)
			m.Packages[event.Package] = spec
		}
		return nil
	case subscription.TargetSelf:
		if err := s.st.SetSubscriberKeywords(ctx, event.Subscriber, event.HasKeywords, keywords); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if event.HasKeywords {
			s.defaults[event.Subscriber] = set.NewStrings(keywords...)
		} else {
			delete(s.defaults, event.Subscriber)
		}
		return nil
	default:
		return errors.NotValidf("set keywords target %d", event.Target.Kind)
	}
}

func (s *Service) applyMuted(ctx context.Context, event subscription.AccountEvent, muted bool) error {
	switch event.Target.Kind {
	case subscription.TargetPackage:
		pkg := event.Target.Name
		if err := s.st.SetSubscriptionMuted(ctx, event.Subscriber, pkg, muted); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if d, ok := s.directs[event.Subscriber][pkg]; ok {
			d.Muted = muted
		}
		return nil
	case subscription.TargetTeam:
		slug := event.Target.Name
		if event.Package == "" {
			if err := s.st.SetMembershipMuted(ctx, slug, event.Subscriber, muted); err != nil {
				return errors.Trace(err)
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			if m, ok := s.members[slug][event.Subscriber]; ok {
				m.Muted = muted
			}
			return nil
		}
		if err := s.st.SetMembershipPackageMuted(ctx, slug, event.Subscriber, event.Package, muted); err != nil {
			return errors.Trace(err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if m, ok := s.members[slug][event.Subscriber]; ok {
			spec := m.Packages[event.Package]
			spec.Muted = muted
			m.Packages[event.Package] = spec
		}
		return nil
	default:
		return errors.NotValidf("mute target %d", event.Target.Kind)
	}
}

// EnsureTeam creates a team if it does not exist.
func (s *Service) EnsureTeam(ctx context.Context, slug string) error {
	if slug == "" {
		return errors.NotValidf("empty team slug")
	}
	if err := s.st.EnsureTeam(ctx, slug); err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teams[slug]; !ok {
		s.teams[slug] = &subscription.Team{
			Slug:     slug,
			Packages: set.NewStrings(),
		}
	}
	return nil
}

// AddTeamPackage subscribes a team to a package.
func (s *Service) AddTeamPackage(ctx context.Context, slug, pkg string) error {
	if err := s.st.AddTeamPackage(ctx, slug, pkg); err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.teams[slug]; ok {
		t.Packages.Add(pkg)
		s.indexTeamPackage(slug, pkg)
	}
	return nil
}

// RemoveTeamPackage removes a package from a team.
func (s *Service) RemoveTeamPackage(ctx context.Context, slug, pkg string) error {
	if err := s.st.RemoveTeamPackage(ctx, slug, pkg); err != nil {
		return errors.Trace(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.teams[slug]; ok {
		t.Packages.Remove(pkg)
		s.unindexTeamPackage(slug, pkg)
	}
	return nil
}

// Matching returns every route by which some subscriber receives
// events for the named package: direct subscriptions that are not
// muted, plus team memberships of teams carrying the package where
// neither the membership nor its per-package override is muted. A
// subscriber reachable both directly and through teams yields one
// match per route; the router deduplicates dispatch per recipient.
func (s *Service) Matching(pkg string) []subscription.Match {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []subscription.Match
	for _, d := range s.byPackage[pkg] {
		if d.Muted {
			continue
		}
		matches = append(matches, subscription.Match{
			Subscriber:  d.Subscriber,
			HasKeywords: d.HasKeywords,
			Keywords:    copySet(d.Keywords),
		})
	}

	for _, slug := range s.teamsByPackage[pkg].Values() {
		for _, m := range s.members[slug] {
			spec, hasSpec := m.Packages[pkg]
			if m.Muted || (hasSpec && spec.Muted) {
				continue
			}
			match := subscription.Match{
				Subscriber: m.Subscriber,
				Team:       slug,
			}
			// Membership-package keywords shadow membership keywords;
			// with neither set the subscriber's own defaults apply.
			switch {
			case hasSpec && spec.HasKeywords:
				match.HasKeywords = true
				match.Keywords = copySet(spec.Keywords)
			case m.HasKeywords:
				match.HasKeywords = true
				match.Keywords = copySet(m.Keywords)
			}
			matches = append(matches, match)
		}
	}
	return matches
}

// SubscriberDefaults returns the subscriber's personal default keyword
// set, if one is configured.
func (s *Service) SubscriberDefaults(sub subscription.Subscriber) (set.Strings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defaults, ok := s.defaults[sub]
	if !ok {
		return nil, false
	}
	return copySet(defaults), true
}

// Subscriptions returns the packages the subscriber is directly
// subscribed to, muted ones included.
func (s *Service) Subscriptions(sub subscription.Subscriber) set.Strings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	packages := set.NewStrings()
	for pkg := range s.directs[sub] {
		packages.Add(pkg)
	}
	return packages
}

// indexDirect and its peers keep the package-keyed maps in step with
// the subscriber-keyed model. Callers hold mu.
func (s *Service) indexDirect(d *subscription.Direct) {
	subs := s.byPackage[d.Package]
	if subs == nil {
		subs = make(map[subscription.Subscriber]*subscription.Direct)
		s.byPackage[d.Package] = subs
	}
	subs[d.Subscriber] = d
}

func (s *Service) unindexDirect(sub subscription.Subscriber, pkg string) {
	subs := s.byPackage[pkg]
	delete(subs, sub)
	if len(subs) == 0 {
		delete(s.byPackage, pkg)
	}
}

func (s *Service) indexTeamPackage(slug, pkg string) {
	teams := s.teamsByPackage[pkg]
	if teams == nil {
		teams = set.NewStrings()
		s.teamsByPackage[pkg] = teams
	}
	teams.Add(slug)
}

func (s *Service) unindexTeamPackage(slug, pkg string) {
	teams := s.teamsByPackage[pkg]
	teams.Remove(slug)
	if teams.IsEmpty() {
		delete(s.teamsByPackage, pkg)
	}
}

func copySet(src set.Strings) set.Strings {
	if src == nil {
		return set.NewStrings()
	}
	return set.NewStrings(src.Values()...)
}
