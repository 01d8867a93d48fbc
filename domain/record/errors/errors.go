// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import (
	"github.com/juju/errors"
)

const (
	// PackageNotFound describes an error that occurs when the package
	// being operated on does not exist.
	PackageNotFound = errors.ConstError("package not found")
)
