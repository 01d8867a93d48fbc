// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package testing provides a gocheck suite wrapping an in-memory
// tracker database for state layer tests.
package testing

import (
	"github.com/juju/clock"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/internal/database"
)

// DBSuite opens a fresh in-memory database with the full schema for
// every test.
type DBSuite struct {
	jujutesting.IsolationSuite

	runner *database.TxnRunner
}

// SetUpTest opens the database.
func (s *DBSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	runner, err := database.Open(":memory:", clock.WallClock)
	c.Assert(err, jc.ErrorIsNil)
	s.runner = runner
	s.AddCleanup(func(c *gc.C) {
		c.Assert(s.runner.Close(), jc.ErrorIsNil)
	})
}

// TxnRunner returns the runner for the test database.
func (s *DBSuite) TxnRunner() *database.TxnRunner {
	return s.runner
}
