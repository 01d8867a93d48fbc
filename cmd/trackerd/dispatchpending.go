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

	"github.com/distro-tracker/tracker/domain/notification"
	"github.com/distro-tracker/tracker/domain/subscription"
	"github.com/distro-tracker/tracker/internal/tasks"
)

type dispatchPendingCommand struct {
	trackerCommand
}

func newDispatchPendingCommand() cmd.Command {
	return &dispatchPendingCommand{}
}

// Info implements cmd.Command.
func (c *dispatchPendingCommand) Info() *cmd.Info {
	return &cmd.Info{
		Name:    "dispatch-pending",
		Purpose: "retry notifications left unfinished by an interrupted run",
		Doc: `
Drains the dispatch ledger of claims that were begun but never
confirmed sent or failed, typically after a crash or an unclean
shutdown, and attempts delivery again. Already-confirmed sends are
never repeated.
`[1:],
	}
}

// Init implements cmd.Command.
func (c *dispatchPendingCommand) Init(args []string) error {
	return cmd.CheckEmpty(args)
}

// Run implements cmd.Command.
func (c *dispatchPendingCommand) Run(cmdCtx *cmd.Context) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return errors.Trace(err)
	}
	b, err := openBackend(cfg, tasks.NewRegistry())
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = b.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pending, err := b.notifications.Pending(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(cmdCtx.Stdout, "nothing pending")
		return nil
	}

	sender, err := b.newSender(cfg)
	if err != nil {
		return errors.Trace(err)
	}

	batches := make(map[subscription.Subscriber][]notification.Request)
	for _, req := range pending {
		batches[req.Recipient] = append(batches[req.Recipient], req)
	}
	for recipient, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		if err := sender.SendBatch(ctx, recipient, batch); err != nil {
			return errors.Trace(err)
		}
	}
	fmt.Fprintf(cmdCtx.Stdout, "dispatched %d pending requests to %d recipients\n",
		len(pending), len(batches))
	return nil
}
