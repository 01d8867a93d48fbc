// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"

	"github.com/distro-tracker/tracker/internal/tasks"
	"github.com/distro-tracker/tracker/internal/worker/cycle"
)

type runAllTasksCommand struct {
	trackerCommand

	registry *tasks.Registry
}

func newRunAllTasksCommand(registry *tasks.Registry) cmd.Command {
	return &runAllTasksCommand{registry: registry}
}

// Info implements cmd.Command.
func (c *runAllTasksCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "run-all-tasks",
		Purpose: "run one full task cycle and exit",
		Doc: `
Runs every registered task for every active package once, in
dependency order, and exits. Individual task failures are logged; the
command only fails when every package was aborted by a hard failure.
`[1:],
	}
}

// Init implements cmd.Command.
func (c *runAllTasksCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *runAllTasksCommand) Run(cmdCtx *cmd.Context) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	b, err := openBackend(cfg, c.registry)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := b.hydrate(ctx); err != nil {
		return errors.Trace(err)
	}
	engine, err := b.newEngine(cfg, c.registry)
	if err != nil {
		return errors.Trace(err)
	}

	// Change events produced by the cycle are routed and dispatched
	// before the command returns; stopping the workers flushes any
	// batch still inside its window.
	dispatchWorker, err := b.newDispatchWorker(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	routerWorker, err := b.newRouterWorker(dispatchWorker)
	if err != nil {
		_ = worker.Stop(dispatchWorker)
		return errors.Trace(err)
	}

	summary, runErr := engine.RunCycle(ctx)
	if err := worker.Stop(routerWorker); err != nil {
		b.logger.Errorf(ctx, "stopping router: %v", err)
	}
	if err := worker.Stop(dispatchWorker); err != nil {
		b.logger.Errorf(ctx, "stopping dispatcher: %v", err)
	}
	if runErr != nil {
		return errors.Trace(runErr)
	}
	printSummary(cmdCtx, summary)
	if summary.AllPackagesFailed() {
		return errors.Errorf("all %d packages hard-failed", summary.Packages)
	}
	return nil
}

type runTaskCommand struct {
	trackerCommand

	registry *tasks.Registry
	taskName string
}

func newRunTaskCommand(registry *tasks.Registry) cmd.Command {
	return &runTaskCommand{registry: registry}
}

// Info implements cmd.Command.
func (c *runTaskCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "run-task",
		Args:    "<task>",
		Purpose: "run a single task for every active package",
		Doc: `
Runs one registered task for every active package, without running its
dependencies first. Fields the task reads reflect whatever the last
full cycle left behind.
`[1:],
	}
}

// Init implements cmd.Command.
func (c *runTaskCommand) Init(args []string) error {
	if len(args) < 1 {
		return errors.New("no task name specified")
	}
	c.taskName = args[0]
	return cmd.CheckEmpty(args[1:])
}

// Run implements cmd.Command.
func (c *runTaskCommand) Run(cmdCtx *cmd.Context) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	d, err := c.registry.Task(c.taskName)
	if err != nil {
		return errors.Trace(err)
	}
	b, err := openBackend(cfg, c.registry)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner, err := b.newRunner(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	packages, err := b.records.Packages(ctx)
	if err != nil {
		return errors.Trace(err)
	}

	var summary cycle.Summary
	summary.Packages = len(packages)
	for _, pkg := range packages {
		if ctx.Err() != nil {
			break
		}
		result := runner.Run(ctx, pkg, d)
		switch result.Outcome {
		case tasks.Success:
			summary.Succeeded++
		case tasks.SoftFailure:
			summary.SoftFailed++
		case tasks.HardFailure:
			summary.HardFailed++
			summary.AbortedPackages++
		}
	}
	printSummary(cmdCtx, summary)
	if summary.AllPackagesFailed() {
		return errors.Errorf("all %d packages hard-failed", summary.Packages)
	}
	return nil
}

func printSummary(cmdCtx *cmd.Context, summary cycle.Summary) {
	fmt.Fprintf(cmdCtx.Stdout, "%d packages: %d succeeded, %d soft-failed, %d hard-failed, %d aborted\n",
		summary.Packages, summary.Succeeded, summary.SoftFailed,
		summary.HardFailed, summary.AbortedPackages)
}
