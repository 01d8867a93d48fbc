// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

// subscriptionRow is the subscription table row.
type subscriptionRow struct {
	Subscriber  string `db:"subscriber"`
	Package     string `db:"package"`
	Muted       bool   `db:"muted"`
	HasKeywords bool   `db:"has_keywords"`
}

// subscriptionKeywordRow is the subscription_keyword table row.
type subscriptionKeywordRow struct {
	Subscriber string `db:"subscriber"`
	Package    string `db:"package"`
	Keyword    string `db:"keyword"`
}

// subscriberKeywordRow is the subscriber_keyword table row.
type subscriberKeywordRow struct {
	Email   string `db:"email"`
	Keyword string `db:"keyword"`
}

// teamRow is the team table row.
type teamRow struct {
	Slug string `db:"slug"`
}

// teamPackageRow is the team_package table row.
type teamPackageRow struct {
	Team    string `db:"team"`
	Package string `db:"package"`
}

// membershipRow is the team_membership table row.
type membershipRow struct {
	Team        string `db:"team"`
	Subscriber  string `db:"subscriber"`
	Muted       bool   `db:"muted"`
	HasKeywords bool   `db:"has_keywords"`
}

// membershipKeywordRow is the membership_keyword table row.
type membershipKeywordRow struct {
	Team       string `db:"team"`
	Subscriber string `db:"subscriber"`
	Keyword    string `db:"keyword"`
}

// membershipPackageRow is the membership_package table row.
type membershipPackageRow struct {
	Team        string `db:"team"`
	Subscriber  string `db:"subscriber"`
	Package     string `db:"package"`
	Muted       bool   `db:"muted"`
	HasKeywords bool   `db:"has_keywords"`
}

// membershipPackageKeywordRow is the membership_package_keyword table
// row.
type membershipPackageKeywordRow struct {
	Team       string `db:"team"`
	Subscriber string `db:"subscriber"`
	Package    string `db:"package"`
	Keyword    string `db:"keyword"`
}
