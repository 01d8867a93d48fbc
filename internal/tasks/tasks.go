// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package tasks defines the update task machinery: descriptors
// declaring what a task reads, writes and depends on, a registry that
// validates the dependency graph once at startup, and a runner that
// executes one task for one package with retry and failure isolation.
package tasks

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/distro-tracker/tracker/core/keyword"
	corerecord "github.com/distro-tracker/tracker/core/record"
)

// Source fetches raw data for one package from an external system.
// Implementations wrap retryable failures with ErrTransient and
// unrecoverable ones with ErrPermanent.
type Source interface {
	// Kind names the concurrency bucket of the source, such as "vcs"
	// or "bts". Fetch concurrency is limited per kind.
	Kind() string

	// Fetch returns the raw data blob for the package.
	Fetch(ctx context.Context, pkg string) ([]byte, error)
}

// ParseFunc turns a raw source blob into field writes, reading prior
// field values through the restricted view.
type ParseFunc func(view *RecordView, raw []byte) ([]corerecord.Write, error)

// FieldSpec declares one field a task writes and the keyword its
// change events carry.
type FieldSpec struct {
	Name    corerecord.Field
	Keyword keyword.Keyword
}

// Descriptor declares one update task. Descriptors are registered once
// at startup and treated as immutable configuration afterwards.
type Descriptor struct {
	// Name uniquely identifies the task.
	Name string

	// Reads lists the fields the task may read from the record.
	Reads []corerecord.Field

	// Writes lists the fields the task produces.
	Writes []FieldSpec

	// DependsOn names tasks that must run earlier in the same cycle.
	DependsOn []string

	// Source fetches the task's external data.
	Source Source

	// Parse turns the fetched blob into field writes.
	Parse ParseFunc
}

// Validate checks the descriptor is well formed.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return errors.NotValidf("task without name")
	}
	if d.Source == nil {
		return errors.NotValidf("task %q without source", d.Name)
	}
	if d.Parse == nil {
		return errors.NotValidf("task %q without parse function", d.Name)
	}
	if len(d.Writes) == 0 {
		return errors.NotValidf("task %q writes no fields", d.Name)
	}
	seen := set.NewStrings()
	for _, w := range d.Writes {
		if w.Name == "" {
			return errors.NotValidf("task %q writes unnamed field", d.Name)
		}
		if !keyword.Valid(w.Keyword) {
			return errors.NotValidf("task %q field %q keyword %q", d.Name, w.Name, w.Keyword)
		}
		if seen.Contains(w.Name.String()) {
			return errors.NotValidf("task %q writes field %q twice", d.Name, w.Name)
		}
		seen.Add(w.Name.String())
	}
	return nil
}

// RecordView is a read-only snapshot of a package record, restricted
// to the fields its task declared as inputs.
type RecordView struct {
	pkg     string
	allowed set.Strings
	fields  map[corerecord.Field]corerecord.FieldState
}

// NewRecordView returns a view of the given fields restricted to the
// declared reads.
func NewRecordView(pkg string, reads []corerecord.Field, fields map[corerecord.Field]corerecord.FieldState) *RecordView {
	allowed := set.NewStrings()
	for _, f := range reads {
		allowed.Add(f.String())
	}
	return &RecordView{pkg: pkg, allowed: allowed, fields: fields}
}

// Package returns the name of the viewed package.
func (v *RecordView) Package() string {
	return v.pkg
}

// Get returns the current value of a declared field. An absent field
// yields a zero value, distinct from any present value.
func (v *RecordView) Get(f corerecord.Field) (corerecord.Value, error) {
	if !v.allowed.Contains(f.String()) {
		return corerecord.Value{}, errors.Annotatef(ErrUndeclaredDependency, "field %q", f)
	}
	return v.fields[f].Value, nil
}

// Has reports whether a declared field is present in the record.
func (v *RecordView) Has(f corerecord.Field) (bool, error) {
	if !v.allowed.Contains(f.String()) {
		return false, errors.Annotatef(ErrUndeclaredDependency, "field %q", f)
	}
	_, ok := v.fields[f]
	return ok, nil
}
