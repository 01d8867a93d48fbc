// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package dispatcher delivers routed notification requests to the
// external mail transport, batching per recipient and guaranteeing
// effectively-once delivery through the dispatch ledger.
package dispatcher

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/distro-tracker/tracker/core/logger"
	"github.com/distro-tracker/tracker/domain/notification"
	"github.com/distro-tracker/tracker/domain/subscription"
)

// enqueueBuffer bounds the queue between the router and the dispatch
// loop.
const enqueueBuffer = 256

// WorkerConfig holds the dependencies of the dispatcher worker.
type WorkerConfig struct {
	Sender *Sender
	Clock  clock.Clock
	Logger logger.Logger

	// Window is how long requests for one recipient are held back to
	// coalesce into a digest.
	Window time.Duration
}

// Validate checks the configuration is complete.
func (c WorkerConfig) Validate() error {
	if c.Sender == nil {
		return errors.NotValidf("nil Sender")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Window <= 0 {
		return errors.NotValidf("non-positive Window")
	}
	return nil
}

// Worker batches requests per recipient over the window and hands them
// to the sender.
type Worker struct {
	catacomb catacomb.Catacomb
	config   WorkerConfig
	incoming chan notification.Request
}

// NewWorker returns a started dispatcher worker.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config:   config,
		incoming: make(chan notification.Request, enqueueBuffer),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "dispatcher",
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
}

// Enqueue queues a request for dispatch. It never blocks the caller
// for longer than the worker's lifetime.
func (w *Worker) Enqueue(req notification.Request) {
	select {
	case w.incoming <- req:
	case <-w.catacomb.Dying():
	}
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.catacomb.Wait()
}

func (w *Worker) loop() error {
	ctx := w.catacomb.Context(context.Background())

	pending := make(map[subscription.Subscriber][]notification.Request)
	timer := w.config.Clock.NewTimer(w.config.Window)
	defer timer.Stop()

	for {
		select {
		case <-w.catacomb.Dying():
			// Flush what is already queued, including requests still
			// sitting in the buffer. The catacomb context is already
			// cancelled here, so the flush runs on its own context;
			// claims opened by an interrupted flush are retried on
			// restart.
			w.drain(pending)
			w.flush(context.Background(), pending)
			return w.catacomb.ErrDying()

		case req := <-w.incoming:
			pending[req.Recipient] = append(pending[req.Recipient], req)

		case <-timer.Chan():
			w.flush(ctx, pending)
			pending = make(map[subscription.Subscriber][]notification.Request)
			timer.Reset(w.config.Window)
		}
	}
}

func (w *Worker) drain(pending map[subscription.Subscriber][]notification.Request) {
	for {
		select {
		case req := <-w.incoming:
			pending[req.Recipient] = append(pending[req.Recipient], req)
		default:
			return
		}
	}
}

func (w *Worker) flush(ctx context.Context, pending map[subscription.Subscriber][]notification.Request) {
	for recipient, batch := range pending {
		if err := w.config.Sender.SendBatch(ctx, recipient, batch); err != nil {
			w.config.Logger.Errorf(ctx, "dispatching to %q: %v", recipient, err)
		}
	}
}
