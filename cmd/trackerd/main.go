// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// trackerd is the package tracker daemon. It runs the periodic task
// cycle that refreshes package records and routes the resulting change
// events to subscribed recipients.
package main

import (
	"fmt"
	"os"

	"github.com/juju/cmd/v3"

	"github.com/distro-tracker/tracker/internal/tasks"
)

var trackerdDoc = `
trackerd tracks the state of every source package in the distribution
and notifies subscribers when that state changes. Package data is
refreshed by a registry of tasks running in dependency order; changes
are matched against subscriptions and delivered as batched emails.
`[1:]

// Main runs the trackerd command line with the given task registry.
// The registry is built and validated once at process start; task
// descriptors and their data sources are registered by the wiring that
// builds the binary.
func Main(args []string, registry *tasks.Registry) int {
	ctx, err := cmd.DefaultContext()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 2
	}

	super := cmd.NewSuperCommand(cmd.SuperCommandParams{
		Name:    "trackerd",
		Doc:     trackerdDoc,
		Purpose: "track package state and notify subscribers",
		Log:     &cmd.Log{},
	})
	super.Register(newRunCommand(registry))
	super.Register(newRunAllTasksCommand(registry))
	super.Register(newRunTaskCommand(registry))
	super.Register(newDispatchPendingCommand())

	return cmd.Main(super, ctx, args[1:])
}

func main() {
	os.Exit(Main(os.Args, tasks.NewRegistry()))
}
