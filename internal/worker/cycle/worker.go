// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cycle

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/distro-tracker/tracker/core/logger"
)

// WorkerConfig holds the dependencies of the periodic cycle worker.
type WorkerConfig struct {
	Engine   *Engine
	Clock    clock.Clock
	Logger   logger.Logger
	Interval time.Duration
}

// Validate checks the configuration is complete.
func (c WorkerConfig) Validate() error {
	if c.Engine == nil {
		return errors.NotValidf("nil Engine")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Interval <= 0 {
		return errors.NotValidf("non-positive Interval")
	}
	return nil
}

// Worker runs a cycle every interval until killed. An interrupted
// cycle finishes its in-flight tasks before the worker dies.
type Worker struct {
	catacomb catacomb.Catacomb
	config   WorkerConfig
}

// NewWorker returns a started cycle worker.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Name: "cycle",
		Site: &w.catacomb,
		Work: w.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return w, nil
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
	timer := w.config.Clock.NewTimer(w.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-w.catacomb.Dying():
			return w.catacomb.ErrDying()

		case <-timer.Chan():
			ctx := w.catacomb.Context(context.Background())
			summary, err := w.config.Engine.RunCycle(ctx)
			if err != nil {
				return errors.Trace(err)
			}
			if summary.AllPackagesFailed() {
				w.config.Logger.Errorf(ctx, "every package hard-failed this cycle")
			}
			timer.Reset(w.config.Interval)
		}
	}
}
