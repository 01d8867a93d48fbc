// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package database

// schemaDDL is applied on open. Statements must be idempotent; there is
// no migration machinery, columns are only ever added by appending new
// statements.
var schemaDDL = []string{
	`
CREATE TABLE IF NOT EXISTS package (
    name       TEXT PRIMARY KEY,
    active     BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL
);`,
	`
CREATE TABLE IF NOT EXISTS package_field (
    package    TEXT NOT NULL REFERENCES package(name),
    field      TEXT NOT NULL,
    kind       TEXT NOT NULL,
    payload    TEXT NOT NULL,
    version    INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (package, field)
);`,
	`
CREATE TABLE IF NOT EXISTS subscriber (
    email        TEXT PRIMARY KEY,
    active       BOOLEAN NOT NULL DEFAULT TRUE,
    has_keywords BOOLEAN NOT NULL DEFAULT FALSE
);`,
	`
CREATE TABLE IF NOT EXISTS subscriber_keyword (
    email   TEXT NOT NULL REFERENCES subscriber(email),
    keyword TEXT NOT NULL,
    PRIMARY KEY (email, keyword)
);`,
	`
CREATE TABLE IF NOT EXISTS subscription (
    subscriber   TEXT NOT NULL REFERENCES subscriber(email),
    package      TEXT NOT NULL,
    muted        BOOLEAN NOT NULL DEFAULT FALSE,
    has_keywords BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (subscriber, package)
);`,
	`
CREATE TABLE IF NOT EXISTS subscription_keyword (
    subscriber TEXT NOT NULL,
    package    TEXT NOT NULL,
    keyword    TEXT NOT NULL,
    PRIMARY KEY (subscriber, package, keyword),
    FOREIGN KEY (subscriber, package) REFERENCES subscription(subscriber, package)
);`,
	`
CREATE TABLE IF NOT EXISTS team (
    slug TEXT PRIMARY KEY
);`,
	`
CREATE TABLE IF NOT EXISTS team_package (
    team    TEXT NOT NULL REFERENCES team(slug),
    package TEXT NOT NULL,
    PRIMARY KEY (team, package)
);`,
	`
CREATE TABLE IF NOT EXISTS team_membership (
    team         TEXT NOT NULL REFERENCES team(slug),
    subscriber   TEXT NOT NULL REFERENCES subscriber(email),
    muted        BOOLEAN NOT NULL DEFAULT FALSE,
    has_keywords BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (team, subscriber)
);`,
	`
CREATE TABLE IF NOT EXISTS membership_keyword (
    team       TEXT NOT NULL,
    subscriber TEXT NOT NULL,
    keyword    TEXT NOT NULL,
    PRIMARY KEY (team, subscriber, keyword),
    FOREIGN KEY (team, subscriber) REFERENCES team_membership(team, subscriber)
);`,
	`
CREATE TABLE IF NOT EXISTS membership_package (
    team         TEXT NOT NULL,
    subscriber   TEXT NOT NULL,
    package      TEXT NOT NULL,
    muted        BOOLEAN NOT NULL DEFAULT FALSE,
    has_keywords BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (team, subscriber, package),
    FOREIGN KEY (team, subscriber) REFERENCES team_membership(team, subscriber)
);`,
	`
CREATE TABLE IF NOT EXISTS membership_package_keyword (
    team       TEXT NOT NULL,
    subscriber TEXT NOT NULL,
    package    TEXT NOT NULL,
    keyword    TEXT NOT NULL,
    PRIMARY KEY (team, subscriber, package, keyword),
    FOREIGN KEY (team, subscriber, package)
        REFERENCES membership_package(team, subscriber, package)
);`,
	`
CREATE TABLE IF NOT EXISTS dispatch_attempt (
    recipient  TEXT NOT NULL,
    package    TEXT NOT NULL,
    field      TEXT NOT NULL,
    version    INTEGER NOT NULL,
    keyword    TEXT NOT NULL DEFAULT '',
    kind       TEXT NOT NULL DEFAULT '',
    payload    TEXT NOT NULL DEFAULT '',
    state      TEXT NOT NULL,
    attempts   INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (recipient, package, field, version)
);`,
	`
CREATE TABLE IF NOT EXISTS recipient_bounce (
    email    TEXT PRIMARY KEY,
    bounces  INTEGER NOT NULL DEFAULT 0,
    inactive BOOLEAN NOT NULL DEFAULT FALSE
);`,
}
