// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"

	"github.com/juju/clock"
	"github.com/juju/cmd/v3"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"
	"github.com/juju/pubsub/v2"
	"github.com/prometheus/client_golang/prometheus"

	corelogger "github.com/distro-tracker/tracker/core/logger"
	notificationservice "github.com/distro-tracker/tracker/domain/notification/service"
	notificationstate "github.com/distro-tracker/tracker/domain/notification/state"
	recordservice "github.com/distro-tracker/tracker/domain/record/service"
	recordstate "github.com/distro-tracker/tracker/domain/record/state"
	subscriptionservice "github.com/distro-tracker/tracker/domain/subscription/service"
	subscriptionstate "github.com/distro-tracker/tracker/domain/subscription/state"
	"github.com/distro-tracker/tracker/internal/config"
	"github.com/distro-tracker/tracker/internal/database"
	internallogger "github.com/distro-tracker/tracker/internal/logger"
	"github.com/distro-tracker/tracker/internal/tasks"
	"github.com/distro-tracker/tracker/internal/worker/cycle"
	"github.com/distro-tracker/tracker/internal/worker/dispatcher"
	"github.com/distro-tracker/tracker/internal/worker/router"
)

// trackerCommand is the base of all trackerd subcommands: it carries
// the --config flag and opens the shared backend.
type trackerCommand struct {
	cmd.CommandBase

	configPath string
}

// SetFlags implements cmd.Command.
func (c *trackerCommand) SetFlags(f *gnuflag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to the trackerd configuration file")
}

func (c *trackerCommand) loadConfig() (config.Config, error) {
	if c.configPath == "" {
		return config.DefaultConfig(), nil
	}
	cfg, err := config.Read(c.configPath)
	return cfg, errors.Trace(err)
}

// backend bundles the database and the domain services every
// subcommand works against.
type backend struct {
	db     *database.TxnRunner
	hub    *pubsub.SimpleHub
	logger corelogger.Logger

	records       *recordservice.Service
	subscriptions *subscriptionservice.Service
	notifications *notificationservice.Service
}

// openBackend opens the database and constructs the domain services.
// The caller owns the returned backend and must Close it.
func openBackend(cfg config.Config, registry *tasks.Registry) (*backend, error) {
	logger := internallogger.GetLogger("tracker")

	db, err := database.Open(cfg.DatabasePath, clock.WallClock)
	if err != nil {
		return nil, errors.Trace(err)
	}

	hub := pubsub.NewSimpleHub(nil)
	return &backend{
		db:     db,
		hub:    hub,
		logger: logger,
		records: recordservice.NewService(
			recordstate.NewState(db), hub, registry.FieldKeywords(),
			clock.WallClock, logger.Child("record"),
		),
		subscriptions: subscriptionservice.NewService(
			subscriptionstate.NewState(db), logger.Child("subscription"),
		),
		notifications: notificationservice.NewService(
			notificationstate.NewState(db), cfg.BounceLimit,
			clock.WallClock, logger.Child("notification"),
		),
	}, nil
}

// hydrate loads the subscription index into memory. Required before
// any matching.
func (b *backend) hydrate(ctx context.Context) error {
	return errors.Trace(b.subscriptions.Hydrate(ctx))
}

// Close releases the backend's database.
func (b *backend) Close() error {
	return errors.Trace(b.db.Close())
}

// newRunner builds the task runner from the configuration.
func (b *backend) newRunner(cfg config.Config) (*tasks.Runner, error) {
	return tasks.NewRunner(tasks.RunnerConfig{
		Store:         b.records,
		Clock:         clock.WallClock,
		Logger:        b.logger.Child("tasks"),
		FetchTimeout:  cfg.FetchTimeout.Duration(),
		FetchRetries:  cfg.FetchRetries,
		RetryDelay:    cfg.FetchRetryDelay.Duration(),
		RetryMaxDelay: cfg.FetchRetryMaxDelay.Duration(),
	})
}

// newEngine builds the cycle engine from the configuration.
func (b *backend) newEngine(cfg config.Config, registry *tasks.Registry) (*cycle.Engine, error) {
	runner, err := b.newRunner(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	metrics := cycle.NewMetrics()
	if err := prometheus.Register(metrics); err != nil {
		b.logger.Warningf(context.Background(), "registering cycle metrics: %v", err)
	}
	return cycle.NewEngine(cycle.EngineConfig{
		Registry:    registry,
		Runner:      runner,
		Packages:    b.records,
		Logger:      b.logger.Child("cycle"),
		Metrics:     metrics,
		Workers:     cfg.CycleWorkers,
		SourceSlots: cfg.SourceSlots,
	})
}

// newSender builds the digest sender. Until the process is wired to
// the external mail relay the transport logs outbound messages.
func (b *backend) newSender(cfg config.Config) (*dispatcher.Sender, error) {
	metrics := dispatcher.NewMetrics()
	if err := prometheus.Register(metrics); err != nil {
		b.logger.Warningf(context.Background(), "registering dispatch metrics: %v", err)
	}
	return dispatcher.NewSender(dispatcher.SenderConfig{
		Ledger:        b.notifications,
		Transport:     newLogTransport(b.logger.Child("mail")),
		Clock:         clock.WallClock,
		Logger:        b.logger.Child("dispatcher"),
		Metrics:       metrics,
		SendRetries:   cfg.SendRetries,
		RetryDelay:    cfg.SendRetryDelay.Duration(),
		RetryMaxDelay: cfg.SendRetryMaxDelay.Duration(),
	})
}

// newDispatchWorker builds and starts the batching dispatcher.
func (b *backend) newDispatchWorker(cfg config.Config) (*dispatcher.Worker, error) {
	sender, err := b.newSender(cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return dispatcher.NewWorker(dispatcher.WorkerConfig{
		Sender: sender,
		Clock:  clock.WallClock,
		Logger: b.logger.Child("dispatcher"),
		Window: cfg.DispatchWindow.Duration(),
	})
}

// newRouterWorker builds and starts the event router feeding the given
// dispatcher.
func (b *backend) newRouterWorker(dispatch *dispatcher.Worker) (*router.Worker, error) {
	return router.NewWorker(router.Config{
		Hub:           b.hub,
		Subscriptions: b.subscriptions,
		Notifications: b.notifications,
		Dispatcher:    dispatch,
		Logger:        b.logger.Child("router"),
	})
}
