// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"

	"github.com/distro-tracker/tracker/internal/tasks"
	"github.com/distro-tracker/tracker/internal/worker/cycle"
)

type runCommand struct {
	trackerCommand

	registry *tasks.Registry
}

func newRunCommand(registry *tasks.Registry) cmd.Command {
	return &runCommand{registry: registry}
}

// Info implements cmd.Command.
func (c *runCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "run",
		Purpose: "run the tracker daemon",
		Doc: `
Runs the periodic task cycle, the change event router and the mail
dispatcher until interrupted.
`[1:],
	}
}

// Init implements cmd.Command.
func (c *runCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *runCommand) Run(cmdCtx *cmd.Context) error {
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
	dispatchWorker, err := b.newDispatchWorker(cfg)
	if err != nil {
		return errors.Trace(err)
	}
	routerWorker, err := b.newRouterWorker(dispatchWorker)
	if err != nil {
		_ = worker.Stop(dispatchWorker)
		return errors.Trace(err)
	}
	cycleWorker, err := cycle.NewWorker(cycle.WorkerConfig{
		Engine:   engine,
		Clock:    clock.WallClock,
		Logger:   b.logger.Child("cycle"),
		Interval: cfg.CycleInterval.Duration(),
	})
	if err != nil {
		_ = worker.Stop(routerWorker)
		_ = worker.Stop(dispatchWorker)
		return errors.Trace(err)
	}

	b.logger.Infof(ctx, "trackerd started")

	// Stop on the first dead worker or on a shutdown signal. The
	// cycle worker stops first so no new events are produced while
	// the router and dispatcher drain.
	died := make(chan error, 3)
	for _, w := range []worker.Worker{cycleWorker, routerWorker, dispatchWorker} {
		w := w
		go func() { died <- w.Wait() }()
	}
	select {
	case <-ctx.Done():
		b.logger.Infof(ctx, "trackerd stopping")
	case err = <-died:
	}

	for _, w := range []worker.Worker{cycleWorker, routerWorker, dispatchWorker} {
		if stopErr := worker.Stop(w); stopErr != nil && err == nil {
			err = stopErr
		}
	}
	return errors.Trace(err)
}
