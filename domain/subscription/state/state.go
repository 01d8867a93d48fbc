// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"
	"database/sql"

	"github.com/canonical/sqlair"
	"github.com/juju/collections/set"
	"github.com/juju/errors"

	coredatabase "github.com/distro-tracker/tracker/core/database"
	"github.com/distro-tracker/tracker/domain/subscription"
	subscriptionerrors "github.com/distro-tracker/tracker/domain/subscription/errors"
	"github.com/distro-tracker/tracker/internal/database"
)

// State provides persistence for subscriptions, teams and memberships.
type State struct {
	db coredatabase.TxnRunner
}

// NewState returns a new state reference.
func NewState(db coredatabase.TxnRunner) *State {
	return &State{db: db}
}

// Model is the full persisted subscription model, loaded once at
// startup to hydrate the in-memory index.
type Model struct {
	Directs     []subscription.Direct
	Teams       []subscription.Team
	Memberships []subscription.Membership
	Defaults    map[subscription.Subscriber]set.Strings
}

// Load reads the entire subscription model in one transaction.
func (s *State) Load(ctx context.Context) (*Model, error) {
	stmts, err := prepareLoadStatements()
	if err != nil {
		return nil, errors.Trace(err)
	}

	model := &Model{
		Defaults: make(map[subscription.Subscriber]set.Strings),
	}
	err = s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		if err := loadDirects(ctx, tx, stmts, model); err != nil {
			return errors.Annotate(err, "loading subscriptions")
		}
		if err := loadTeams(ctx, tx, stmts, model); err != nil {
			return errors.Annotate(err, "loading teams")
		}
		if err := loadMemberships(ctx, tx, stmts, model); err != nil {
			return errors.Annotate(err, "loading memberships")
		}
		if err := loadDefaults(ctx, tx, stmts, model); err != nil {
			return errors.Annotate(err, "loading subscriber defaults")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return model, nil
}

type loadStatements struct {
	directs            *sqlair.Statement
	directKeywords     *sqlair.Statement
	teams              *sqlair.Statement
	teamPackages       *sqlair.Statement
	memberships        *sqlair.Statement
	membershipKeywords *sqlair.Statement
	packageSpecifics   *sqlair.Statement
	packageKeywords    *sqlair.Statement
	defaults           *sqlair.Statement
}

func prepareLoadStatements() (*loadStatements, error) {
	stmts := &loadStatements{}
	for _, p := range []struct {
		dst   **sqlair.Statement
		query string
		types []any
	}{{
		&stmts.directs,
		`SELECT &subscriptionRow.* FROM subscription`,
		[]any{subscriptionRow{}},
	}, {
		&stmts.directKeywords,
		`SELECT &subscriptionKeywordRow.* FROM subscription_keyword`,
		[]any{subscriptionKeywordRow{}},
	}, {
		&stmts.teams,
		`SELECT &teamRow.* FROM team`,
		[]any{teamRow{}},
	}, {
		&stmts.teamPackages,
		`SELECT &teamPackageRow.* FROM team_package`,
		[]any{teamPackageRow{}},
	}, {
		&stmts.memberships,
		`SELECT &membershipRow.* FROM team_membership`,
		[]any{membershipRow{}},
	}, {
		&stmts.membershipKeywords,
		`SELECT &membershipKeywordRow.* FROM membership_keyword`,
		[]any{membershipKeywordRow{}},
	}, {
		&stmts.packageSpecifics,
		`SELECT &membershipPackageRow.* FROM membership_package`,
		[]any{membershipPackageRow{}},
	}, {
		&stmts.packageKeywords,
		`SELECT &membershipPackageKeywordRow.* FROM membership_package_keyword`,
		[]any{membershipPackageKeywordRow{}},
	}, {
		&stmts.defaults,
		`
SELECT (k.email, k.keyword) AS (&subscriberKeywordRow.*)
FROM   subscriber_keyword k
JOIN   subscriber s ON s.email = k.email
WHERE  s.has_keywords`,
		[]any{subscriberKeywordRow{}},
	}} {
		stmt, err := sqlair.Prepare(p.query, p.types...)
		if err != nil {
			return nil, errors.Trace(err)
		}
		*p.dst = stmt
	}
	return stmts, nil
}

func loadDirects(ctx context.Context, tx *sqlair.TX, stmts *loadStatements, model *Model) error {
	var rows []subscriptionRow
	if err := tx.Query(ctx, stmts.directs).GetAll(&rows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}

	index := make(map[string]int)
	for _, row := range rows {
		index[row.Subscriber+"\x00"+row.Package] = len(model.Directs)
		model.Directs = append(model.Directs, subscription.Direct{
			Subscriber:  subscription.Subscriber(row.Subscriber),
			Package:     row.Package,
			Muted:       row.Muted,
			HasKeywords: row.HasKeywords,
			Keywords:    set.NewStrings(),
		})
	}

	var kwRows []subscriptionKeywordRow
	if err := tx.Query(ctx, stmts.directKeywords).GetAll(&kwRows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}
	for _, row := range kwRows {
		if i, ok := index[row.Subscriber+"\x00"+row.Package]; ok {
			model.Directs[i].Keywords.Add(row.Keyword)
		}
	}
	return nil
}

func loadTeams(ctx context.Context, tx *sqlair.TX, stmts *loadStatements, model *Model) error {
	var rows []teamRow
	if err := tx.Query(ctx, stmts.teams).GetAll(&rows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}

	index := make(map[string]int)
	for _, row := range rows {
		index[row.Slug] = len(model.Teams)
		model.Teams = append(model.Teams, subscription.Team{
			Slug:     row.Slug,
			Packages: set.NewStrings(),
		})
	}

	var pkgRows []teamPackageRow
	if err := tx.Query(ctx, stmts.teamPackages).GetAll(&pkgRows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}
	for _, row := range pkgRows {
		if i, ok := index[row.Team]; ok {
			model.Teams[i].Packages.Add(row.Package)
		}
	}
	return nil
}

func loadMemberships(ctx context.Context, tx *sqlair.TX, stmts *loadStatements, model *Model) error {
	var rows []membershipRow
	if err := tx.Query(ctx, stmts.memberships).GetAll(&rows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}

	index := make(map[string]int)
	for _, row := range rows {
		index[row.Team+"\x00"+row.Subscriber] = len(model.Memberships)
		model.Memberships = append(model.Memberships, subscription.Membership{
			Team:        row.Team,
			Subscriber:  subscription.Subscriber(row.Subscriber),
			Muted:       row.Muted,
			HasKeywords: row.HasKeywords,
			Keywords:    set.NewStrings(),
			Packages:    make(map[string]subscription.PackageSpecifics),
		})
	}

	var kwRows []membershipKeywordRow
	if err := tx.Query(ctx, stmts.membershipKeywords).GetAll(&kwRows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}
	for _, row := range kwRows {
		if i, ok := index[row.Team+"\x00"+row.Subscriber]; ok {
			model.Memberships[i].Keywords.Add(row.Keyword)
		}
	}

	var pkgRows []membershipPackageRow
	if err := tx.Query(ctx, stmts.packageSpecifics).GetAll(&pkgRows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}
	for _, row := range pkgRows {
		if i, ok := index[row.Team+"\x00"+row.Subscriber]; ok {
			model.Memberships[i].Packages[row.Package] = subscription.PackageSpecifics{
				Muted:       row.Muted,
				HasKeywords: row.HasKeywords,
				Keywords:    set.NewStrings(),
			}
		}
	}

	var pkgKwRows []membershipPackageKeywordRow
	if err := tx.Query(ctx, stmts.packageKeywords).GetAll(&pkgKwRows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}
	for _, row := range pkgKwRows {
		i, ok := index[row.Team+"\x00"+row.Subscriber]
		if !ok {
			continue
		}
		if spec, ok := model.Memberships[i].Packages[row.Package]; ok {
			spec.Keywords.Add(row.Keyword)
			model.Memberships[i].Packages[row.Package] = spec
		}
	}
	return nil
}

func loadDefaults(ctx context.Context, tx *sqlair.TX, stmts *loadStatements, model *Model) error {
	var rows []subscriberKeywordRow
	if err := tx.Query(ctx, stmts.defaults).GetAll(&rows); err != nil && !errors.Is(err, sqlair.ErrNoRows) {
		return errors.Trace(err)
	}
	for _, row := range rows {
		sub := subscription.Subscriber(row.Email)
		if _, ok := model.Defaults[sub]; !ok {
			model.Defaults[sub] = set.NewStrings()
		}
		model.Defaults[sub].Add(row.Keyword)
	}
	return nil
}

func ensureSubscriber(ctx context.Context, tx *sql.Tx, email string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO subscriber (email) VALUES (?) ON CONFLICT (email) DO NOTHING`, email)
	return errors.Trace(err)
}

// Subscribe records a direct subscription of the subscriber to the
// package. Subscribing twice is a no-op.
func (s *State) Subscribe(ctx context.Context, sub subscription.Subscriber, pkg string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureSubscriber(ctx, tx, sub.String()); err != nil {
			return errors.Trace(err)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO subscription (subscriber, package)
VALUES (?, ?) ON CONFLICT (subscriber, package) DO NOTHING`, sub.String(), pkg)
		return errors.Trace(err)
	}))
}

// Unsubscribe removes a direct subscription and its keyword set.
func (s *State) Unsubscribe(ctx context.Context, sub subscription.Subscriber, pkg string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM subscription_keyword WHERE subscriber = ? AND package = ?`, sub.String(), pkg); err != nil {
			return errors.Trace(err)
		}
		result, err := tx.ExecContext(ctx, `
DELETE FROM subscription WHERE subscriber = ? AND package = ?`, sub.String(), pkg)
		if err != nil {
			return errors.Trace(err)
		}
		return checkFound(result, subscriptionerrors.SubscriptionNotFound)
	}))
}

// SetSubscriptionMuted flags a direct subscription as muted.
func (s *State) SetSubscriptionMuted(ctx context.Context, sub subscription.Subscriber, pkg string, muted bool) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE subscription SET muted = ? WHERE subscriber = ? AND package = ?`, muted, sub.String(), pkg)
		if err != nil {
			return errors.Trace(err)
		}
		return checkFound(result, subscriptionerrors.SubscriptionNotFound)
	}))
}

// SetSubscriptionKeywords replaces the keyword set of a direct
// subscription. has=false reverts the subscription to default keyword
// resolution.
func (s *State) SetSubscriptionKeywords(ctx context.Context, sub subscription.Subscriber, pkg string, has bool, keywords []string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE subscription SET has_keywords = ? WHERE subscriber = ? AND package = ?`, has, sub.String(), pkg)
		if err != nil {
			return errors.Trace(err)
		}
		if err := checkFound(result, subscriptionerrors.SubscriptionNotFound); err != nil {
			return err
		}
		return errors.Trace(replaceKeywords(ctx, tx,
			`DELETE FROM subscription_keyword WHERE subscriber = ? AND package = ?`,
			`INSERT INTO subscription_keyword (subscriber, package, keyword) VALUES (?, ?, ?)`,
			[]any{sub.String(), pkg}, has, keywords))
	}))
}

// SetSubscriberKeywords replaces a subscriber's personal default
// keyword set.
func (s *State) SetSubscriberKeywords(ctx context.Context, sub subscription.Subscriber, has bool, keywords []string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureSubscriber(ctx, tx, sub.String()); err != nil {
			return errors.Trace(err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE subscriber SET has_keywords = ? WHERE email = ?`, has, sub.String()); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(replaceKeywords(ctx, tx,
			`DELETE FROM subscriber_keyword WHERE email = ?`,
			`INSERT INTO subscriber_keyword (email, keyword) VALUES (?, ?)`,
			[]any{sub.String()}, has, keywords))
	}))
}

// EnsureTeam creates a team if it does not exist.
func (s *State) EnsureTeam(ctx context.Context, slug string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO team (slug) VALUES (?) ON CONFLICT (slug) DO NOTHING`, slug)
		return errors.Trace(err)
	}))
}

// AddTeamPackage subscribes a team to a package.
func (s *State) AddTeamPackage(ctx context.Context, slug, pkg string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO team_package (team, package)
VALUES (?, ?) ON CONFLICT (team, package) DO NOTHING`, slug, pkg)
		if database.IsErrConstraintForeignKey(err) {
			return errors.Annotatef(subscriptionerrors.TeamNotFound, "%q", slug)
		}
		return errors.Trace(err)
	}))
}

// RemoveTeamPackage removes a package from a team.
func (s *State) RemoveTeamPackage(ctx context.Context, slug, pkg string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
DELETE FROM team_package WHERE team = ? AND package = ?`, slug, pkg)
		return errors.Trace(err)
	}))
}

// Join adds a subscriber to a team. Joining twice is a no-op.
func (s *State) Join(ctx context.Context, slug string, sub subscription.Subscriber) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureSubscriber(ctx, tx, sub.String()); err != nil {
			return errors.Trace(err)
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO team_membership (team, subscriber)
VALUES (?, ?) ON CONFLICT (team, subscriber) DO NOTHING`, slug, sub.String())
		if database.IsErrConstraintForeignKey(err) {
			return errors.Annotatef(subscriptionerrors.TeamNotFound, "%q", slug)
		}
		return errors.Trace(err)
	}))
}

// Leave removes a subscriber from a team, along with all membership
// preferences.
func (s *State) Leave(ctx context.Context, slug string, sub subscription.Subscriber) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM membership_package_keyword WHERE team = ? AND subscriber = ?`,
			`DELETE FROM membership_package WHERE team = ? AND subscriber = ?`,
			`DELETE FROM membership_keyword WHERE team = ? AND subscriber = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, slug, sub.String()); err != nil {
				return errors.Trace(err)
			}
		}
		result, err := tx.ExecContext(ctx, `
DELETE FROM team_membership WHERE team = ? AND subscriber = ?`, slug, sub.String())
		if err != nil {
			return errors.Trace(err)
		}
		return checkFound(result, subscriptionerrors.MembershipNotFound)
	}))
}

// SetMembershipMuted mutes or unmutes a whole team membership.
func (s *State) SetMembershipMuted(ctx context.Context, slug string, sub subscription.Subscriber, muted bool) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE team_membership SET muted = ? WHERE team = ? AND subscriber = ?`, muted, slug, sub.String())
		if err != nil {
			return errors.Trace(err)
		}
		return checkFound(result, subscriptionerrors.MembershipNotFound)
	}))
}

// SetMembershipKeywords replaces the membership default keyword set.
func (s *State) SetMembershipKeywords(ctx context.Context, slug string, sub subscription.Subscriber, has bool, keywords []string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
UPDATE team_membership SET has_keywords = ? WHERE team = ? AND subscriber = ?`, has, slug, sub.String())
		if err != nil {
			return errors.Trace(err)
		}
		if err := checkFound(result, subscriptionerrors.MembershipNotFound); err != nil {
			return err
		}
		return errors.Trace(replaceKeywords(ctx, tx,
			`DELETE FROM membership_keyword WHERE team = ? AND subscriber = ?`,
			`INSERT INTO membership_keyword (team, subscriber, keyword) VALUES (?, ?, ?)`,
			[]any{slug, sub.String()}, has, keywords))
	}))
}

// SetMembershipPackageMuted mutes or unmutes a single package within a
// membership, creating the per-package override row on first use.
func (s *State) SetMembershipPackageMuted(ctx context.Context, slug string, sub subscription.Subscriber, pkg string, muted bool) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO membership_package (team, subscriber, package, muted)
VALUES (?, ?, ?, ?)
ON CONFLICT (team, subscriber, package) DO UPDATE SET muted = excluded.muted`,
			slug, sub.String(), pkg, muted)
		if database.IsErrConstraintForeignKey(err) {
			return errors.Annotatef(subscriptionerrors.MembershipNotFound, "%q of team %q", sub, slug)
		}
		return errors.Trace(err)
	}))
}

// SetMembershipPackageKeywords replaces the keyword set of a single
// package within a membership.
func (s *State) SetMembershipPackageKeywords(ctx context.Context, slug string, sub subscription.Subscriber, pkg string, has bool, keywords []string) error {
	return errors.Trace(s.db.StdTxn(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
INSERT INTO membership_package (team, subscriber, package, has_keywords)
VALUES (?, ?, ?, ?)
ON CONFLICT (team, subscriber, package) DO UPDATE SET has_keywords = excluded.has_keywords`,
			slug, sub.String(), pkg, has)
		if database.IsErrConstraintForeignKey(err) {
			return errors.Annotatef(subscriptionerrors.MembershipNotFound, "%q of team %q", sub, slug)
		}
		if err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(replaceKeywords(ctx, tx,
			`DELETE FROM membership_package_keyword WHERE team = ? AND subscriber = ? AND package = ?`,
			`INSERT INTO membership_package_keyword (team, subscriber, package, keyword) VALUES (?, ?, ?, ?)`,
			[]any{slug, sub.String(), pkg}, has, keywords))
	}))
}

// replaceKeywords clears a keyword list and, when has is set, writes
// the replacement rows. The insert query takes the key arguments
// followed by the keyword.
func replaceKeywords(ctx context.Context, tx *sql.Tx, deleteQ, insertQ string, key []any, has bool, keywords []string) error {
	if _, err := tx.ExecContext(ctx, deleteQ, key...); err != nil {
		return errors.Trace(err)
	}
	if !has {
		return nil
	}
	for _, kw := range keywords {
		args := append(append([]any{}, key...), kw)
		if _, err := tx.ExecContext(ctx, insertQ, args...); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func checkFound(result sql.Result, notFound error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Trace(err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
