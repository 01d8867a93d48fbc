// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package router consumes change events from the hub and turns them
// into dispatch requests for the recipients whose subscriptions and
// keyword preferences match.
package router

import (
	"context"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"gopkg.in/tomb.v2"

	"github.com/distro-tracker/tracker/core/logger"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/notification"
	notificationservice "github.com/distro-tracker/tracker/domain/notification/service"
	"github.com/distro-tracker/tracker/domain/subscription"
)

// eventBuffer bounds the queue between the hub callback and the
// routing loop. Routing is in-memory and fast; the buffer only absorbs
// bursts within one cycle.
const eventBuffer = 256

// Hub is the change event bus. It is satisfied by *pubsub.SimpleHub.
type Hub interface {
	Subscribe(topic string, handler func(string, interface{})) func()
}

// Subscriptions answers match queries. It is satisfied by the
// subscription service.
type Subscriptions interface {
	Matching(pkg string) []subscription.Match
	SubscriberDefaults(sub subscription.Subscriber) (set.Strings, bool)
}

// Notifications resolves events to dispatch requests. It is satisfied
// by the notification service.
type Notifications interface {
	Route(event corerecord.ChangeEvent, matches []subscription.Match, defaults notificationservice.DefaultsFunc) []notification.Request
	IsActive(ctx context.Context, recipient subscription.Subscriber) (bool, error)
}

// Dispatcher accepts routed requests for delivery.
type Dispatcher interface {
	Enqueue(req notification.Request)
}

// Config holds the dependencies of the router worker.
type Config struct {
	Hub           Hub
	Subscriptions Subscriptions
	Notifications Notifications
	Dispatcher    Dispatcher
	Logger        logger.Logger
}

// Validate checks the configuration is complete.
func (c Config) Validate() error {
	if c.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if c.Subscriptions == nil {
		return errors.NotValidf("nil Subscriptions")
	}
	if c.Notifications == nil {
		return errors.NotValidf("nil Notifications")
	}
	if c.Dispatcher == nil {
		return errors.NotValidf("nil Dispatcher")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Worker routes change events to the dispatcher. Events for one
// package arrive in store emission order and are routed in that order.
type Worker struct {
	tomb   tomb.Tomb
	config Config
	events chan corerecord.ChangeEvent
}

// NewWorker returns a started router worker subscribed to the change
// topic.
func NewWorker(config Config) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	w := &Worker{
		config: config,
		events: make(chan corerecord.ChangeEvent, eventBuffer),
	}
	unsub := config.Hub.Subscribe(corerecord.ChangedTopic, w.onEvent)
	w.tomb.Go(func() error {
		defer unsub()
		return w.loop()
	})
	return w, nil
}

// Kill is part of the worker.Worker interface.
func (w *Worker) Kill() {
	w.tomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (w *Worker) Wait() error {
	return w.tomb.Wait()
}

func (w *Worker) onEvent(topic string, data interface{}) {
	event, ok := data.(corerecord.ChangeEvent)
	if !ok {
		ctx := w.tomb.Context(context.Background())
		w.config.Logger.Errorf(ctx, "unexpected payload on %q: %T", topic, data)
		return
	}
	select {
	case w.events <- event:
	case <-w.tomb.Dying():
	}
}

func (w *Worker) loop() error {
	ctx := w.tomb.Context(context.Background())
	for {
		select {
		case <-w.tomb.Dying():
			// Route what is already buffered so events published just
			// before shutdown still reach the dispatcher. The tomb
			// context is cancelled by now, so drain on a fresh one.
			w.drain(context.Background())
			return tomb.ErrDying

		case event := <-w.events:
			w.route(ctx, event)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case event := <-w.events:
			w.route(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) route(ctx context.Context, event corerecord.ChangeEvent) {
	matches := w.config.Subscriptions.Matching(event.Package)
	if len(matches) == 0 {
		return
	}
	requests := w.config.Notifications.Route(event, matches, w.config.Subscriptions.SubscriberDefaults)
	for _, req := range requests {
		active, err := w.config.Notifications.IsActive(ctx, req.Recipient)
		if err != nil {
			w.config.Logger.Errorf(ctx, "checking recipient %q: %v", req.Recipient, err)
			continue
		}
		if !active {
			w.config.Logger.Debugf(ctx, "skipping deactivated recipient %q", req.Recipient)
			continue
		}
		w.config.Dispatcher.Enqueue(req)
	}
	if w.config.Logger.IsLevelEnabled(logger.DEBUG) {
		w.config.Logger.Debugf(ctx, "routed %q field %q to %d of %d matches",
			event.Package, event.Field, len(requests), len(matches))
	}
}
