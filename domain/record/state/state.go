// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state

import (
	"context"

	"github.com/canonical/sqlair"
	"github.com/juju/errors"

	coredatabase "github.com/distro-tracker/tracker/core/database"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/record"
	recorderrors "github.com/distro-tracker/tracker/domain/record/errors"
)

// State provides persistence for package records.
type State struct {
	db coredatabase.TxnRunner
}

// NewState returns a new state reference.
func NewState(db coredatabase.TxnRunner) *State {
	return &State{db: db}
}

// Fields returns the stored fields of the named package. A package
// with no record yet yields an empty map, not an error, so that the
// first task run can create it.
func (s *State) Fields(ctx context.Context, pkg string) (map[corerecord.Field]corerecord.FieldState, error) {
	stmt, err := sqlair.Prepare(`
SELECT &fieldRow.*
FROM   package_field
WHERE  package = $packageName.name`, fieldRow{}, packageName{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []fieldRow
	err = s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		err := tx.Query(ctx, stmt, packageName{Name: pkg}).GetAll(&rows)
		if errors.Is(err, sqlair.ErrNoRows) {
			return nil
		}
		return errors.Trace(err)
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	result := make(map[corerecord.Field]corerecord.FieldState, len(rows))
	for _, row := range rows {
		value, err := corerecord.DecodeValue(row.Kind, row.Payload)
		if err != nil {
			return nil, errors.Annotatef(err, "field %q of package %q", row.Field, pkg)
		}
		result[corerecord.Field(row.Field)] = corerecord.FieldState{
			Value:   value,
			Version: row.Version,
			Updated: row.UpdatedAt,
		}
	}
	return result, nil
}

// Apply atomically persists the given field updates, creating the
// package row on first write.
func (s *State) Apply(ctx context.Context, pkg string, updates []record.FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	insertPackage, err := sqlair.Prepare(`
INSERT INTO package (name, active, created_at)
VALUES ($packageRow.name, $packageRow.active, $packageRow.created_at)
ON CONFLICT (name) DO NOTHING`, packageRow{})
	if err != nil {
		return errors.Trace(err)
	}

	upsertField, err := sqlair.Prepare(`
INSERT INTO package_field (package, field, kind, payload, version, updated_at)
VALUES ($fieldRow.package, $fieldRow.field, $fieldRow.kind, $fieldRow.payload,
        $fieldRow.version, $fieldRow.updated_at)
ON CONFLICT (package, field) DO UPDATE SET
    kind = excluded.kind,
    payload = excluded.payload,
    version = excluded.version,
    updated_at = excluded.updated_at
WHERE excluded.version > package_field.version`, fieldRow{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		pkgRow := packageRow{Name: pkg, Active: true, CreatedAt: updates[0].Updated}
		if err := tx.Query(ctx, insertPackage, pkgRow).Run(); err != nil {
			return errors.Annotatef(err, "creating package %q", pkg)
		}
		for _, update := range updates {
			payload, err := update.Value.Encode()
			if err != nil {
				return errors.Annotatef(err, "encoding field %q", update.Field)
			}
			row := fieldRow{
				Package:   pkg,
				Field:     update.Field.String(),
				Kind:      update.Value.Kind.String(),
				Payload:   payload,
				Version:   update.Version,
				UpdatedAt: update.Updated,
			}
			if err := tx.Query(ctx, upsertField, row).Run(); err != nil {
				return errors.Annotatef(err, "writing field %q of package %q", update.Field, pkg)
			}
		}
		return nil
	}))
}

// Packages returns the names of all active packages, sorted.
func (s *State) Packages(ctx context.Context) ([]string, error) {
	stmt, err := sqlair.Prepare(`
SELECT &packageName.*
FROM   package
WHERE  active
ORDER BY name`, packageName{})
	if err != nil {
		return nil, errors.Trace(err)
	}

	var rows []packageName
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

	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = row.Name
	}
	return names, nil
}

// SetActive flags a package as active or inactive. Inactive packages
// keep their record but drop out of task cycles.
func (s *State) SetActive(ctx context.Context, pkg string, active bool) error {
	stmt, err := sqlair.Prepare(`
UPDATE package
SET    active = $packageRow.active
WHERE  name = $packageRow.name`, packageRow{})
	if err != nil {
		return errors.Trace(err)
	}

	return errors.Trace(s.db.Txn(ctx, func(ctx context.Context, tx *sqlair.TX) error {
		var outcome sqlair.Outcome
		row := packageRow{Name: pkg, Active: active}
		if err := tx.Query(ctx, stmt, row).Get(&outcome); err != nil {
			return errors.Trace(err)
		}
		affected, err := outcome.Result().RowsAffected()
		if err != nil {
			return errors.Trace(err)
		}
		if affected == 0 {
			return errors.Annotatef(recorderrors.PackageNotFound, "%q", pkg)
		}
		return nil
	}))
}
