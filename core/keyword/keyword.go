// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package keyword holds the vocabulary of notification keywords.
// Every tracked field maps to exactly one keyword, and subscribers
// filter the mail they receive by keyword.
package keyword

import (
	"github.com/juju/collections/set"
)

// Keyword is a category tag attached to change events, used for
// subscriber filtering.
type Keyword string

const (
	// BTS tags bug reports and associated discussions.
	BTS Keyword = "bts"
	// BTSControl tags status changes of bug reports.
	BTSControl Keyword = "bts-control"
	// VCS tags commit notices of the VCS repository associated to the
	// package.
	VCS Keyword = "vcs"
	// UploadSource tags notifications of sourceful uploads.
	UploadSource Keyword = "upload-source"
	// UploadBinary tags notifications of binary-only uploads.
	UploadBinary Keyword = "upload-binary"
	// Summary tags news about the status of the package.
	Summary Keyword = "summary"
	// Contact tags mail from people contacting the maintainers.
	Contact Keyword = "contact"
	// Default tags anything that cannot be better classified.
	Default Keyword = "default"
	// Build tags notifications of build failures from build daemons.
	Build Keyword = "build"
	// Derivatives tags changes made to the package by derivatives.
	Derivatives Keyword = "derivatives"
	// DerivativesBugs tags bug traffic in derivative distributions.
	DerivativesBugs Keyword = "derivatives-bugs"
	// Archive tags notifications sent by the archive management tool.
	Archive Keyword = "archive"
	// Translation tags notifications about translations of the package.
	Translation Keyword = "translation"
)

// String is the keyword as stored and rendered in mail headers.
func (k Keyword) String() string {
	return string(k)
}

var known = set.NewStrings(
	BTS.String(),
	BTSControl.String(),
	VCS.String(),
	UploadSource.String(),
	UploadBinary.String(),
	Summary.String(),
	Contact.String(),
	Default.String(),
	Build.String(),
	Derivatives.String(),
	DerivativesBugs.String(),
	Archive.String(),
	Translation.String(),
)

// Subscribers without any keyword preference of their own receive mail
// tagged with these keywords.
var defaults = set.NewStrings(
	Default.String(),
	BTS.String(),
	BTSControl.String(),
	UploadSource.String(),
	Archive.String(),
	Contact.String(),
	Summary.String(),
)

// Known returns the full keyword vocabulary.
func Known() set.Strings {
	return set.NewStrings(known.Values()...)
}

// Defaults returns the global default keyword set.
func Defaults() set.Strings {
	return set.NewStrings(defaults.Values()...)
}

// Valid reports whether k is part of the known vocabulary.
func Valid(k Keyword) bool {
	return known.Contains(k.String())
}

// NewSet builds a keyword set from the given keywords.
func NewSet(keywords ...Keyword) set.Strings {
	s := set.NewStrings()
	for _, k := range keywords {
		s.Add(k.String())
	}
	return s
}
