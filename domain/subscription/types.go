// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package subscription models who is interested in which packages:
// direct subscriptions, teams, team memberships and their keyword and
// mute preferences.
package subscription

import (
	"github.com/juju/collections/set"

	"github.com/distro-tracker/tracker/core/keyword"
)

// Subscriber identifies a subscriber by email address.
type Subscriber string

// String implements fmt.Stringer.
func (s Subscriber) String() string {
	return string(s)
}

// TargetKind discriminates what an account event addresses.
type TargetKind int

const (
	// TargetPackage addresses a direct package subscription.
	TargetPackage TargetKind = iota
	// TargetTeam addresses a team membership.
	TargetTeam
	// TargetSelf addresses the subscriber's own settings.
	TargetSelf
)

// Target names the package, team or subscriber settings an account
// event applies to.
type Target struct {
	Kind TargetKind
	Name string
}

// PackageTarget returns a target addressing a package subscription.
func PackageTarget(name string) Target {
	return Target{Kind: TargetPackage, Name: name}
}

// TeamTarget returns a target addressing a team membership.
func TeamTarget(slug string) Target {
	return Target{Kind: TargetTeam, Name: slug}
}

// SelfTarget returns a target addressing subscriber settings.
func SelfTarget() Target {
	return Target{Kind: TargetSelf}
}

// Kind enumerates the account event kinds delivered by the external
// account system.
type Kind int

const (
	// Subscribe adds a direct subscription or joins a team.
	Subscribe Kind = iota
	// Unsubscribe removes a direct subscription or leaves a team.
	Unsubscribe
	// SetKeywords replaces a keyword preference set. A nil keyword
	// slice reverts to "use defaults"; an empty non-nil slice is an
	// explicit "no notifications".
	SetKeywords
	// Mute disables email without dropping the subscription.
	Mute
	// Unmute re-enables email.
	Unmute
)

// AccountEvent is one mutation from the external account system,
// applied in delivery order. Package qualifies team targets when the
// mutation addresses membership-package specifics.
type AccountEvent struct {
	Kind       Kind
	Subscriber Subscriber
	Target     Target
	Package    string
	Keywords   []keyword.Keyword
	// HasKeywords distinguishes an explicit empty keyword set from
	// "revert to defaults" on SetKeywords events.
	HasKeywords bool
}

// Direct is a direct subscription of a subscriber to a package.
type Direct struct {
	Subscriber  Subscriber
	Package     string
	Muted       bool
	HasKeywords bool
	Keywords    set.Strings
}

// PackageSpecifics holds per-package overrides within a membership.
type PackageSpecifics struct {
	Muted       bool
	HasKeywords bool
	Keywords    set.Strings
}

// Membership is one subscriber's membership of a team.
type Membership struct {
	Team        string
	Subscriber  Subscriber
	Muted       bool
	HasKeywords bool
	Keywords    set.Strings
	Packages    map[string]PackageSpecifics
}

// Team is a named group subscribing its members to a package set.
type Team struct {
	Slug     string
	Packages set.Strings
}

// Match is one route by which a subscriber receives events for a
// package. For team routes the explicit keyword layer has already been
// collapsed from membership and membership-package preferences.
type Match struct {
	Subscriber  Subscriber
	Team        string
	HasKeywords bool
	Keywords    set.Strings
}
