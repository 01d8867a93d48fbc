// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tasks

import (
	"github.com/juju/errors"
)

const (
	// ErrCyclicDependency is returned when registering a task would
	// close a dependency cycle.
	ErrCyclicDependency = errors.ConstError("cyclic task dependency")

	// ErrDuplicateFieldWriter is returned when two tasks write the
	// same field without an ordering between them.
	ErrDuplicateFieldWriter = errors.ConstError("duplicate field writer")

	// ErrUndeclaredDependency is returned when a task reads a field it
	// did not declare. This is a programming error in the task.
	ErrUndeclaredDependency = errors.ConstError("undeclared field dependency")

	// ErrTransient marks a retryable data source failure, a timeout or
	// rate limit. Sources wrap their errors with it.
	ErrTransient = errors.ConstError("transient source failure")

	// ErrPermanent marks a non-retryable data source failure, an
	// unreachable or misconfigured source.
	ErrPermanent = errors.ConstError("permanent source failure")
)
