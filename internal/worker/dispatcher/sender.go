// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/retry"

	"github.com/distro-tracker/tracker/core/logger"
	"github.com/distro-tracker/tracker/domain/notification"
	"github.com/distro-tracker/tracker/domain/subscription"
)

// Message is one rendered outbound email.
type Message struct {
	Recipient string
	Subject   string
	Body      string

	// Keywords and Reasons are rendered into headers so recipients can
	// filter and see why they were selected.
	Keywords []string
	Reasons  []string
}

// Transport is the external mail system. Implementations wrap
// retryable failures with notification.ErrTransientDelivery and
// rejections with notification.ErrPermanentDelivery.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// Ledger is the dispatch ledger. It is satisfied by the notification
// service.
type Ledger interface {
	Begin(ctx context.Context, req notification.Request) (bool, error)
	Complete(ctx context.Context, req notification.Request) error
	FailPermanent(ctx context.Context, req notification.Request) error
	RecordBounce(ctx context.Context, recipient subscription.Subscriber) (bool, error)
}

// SenderConfig holds the dependencies and tuning of a Sender.
type SenderConfig struct {
	Ledger        Ledger
	Transport     Transport
	Clock         clock.Clock
	Logger        logger.Logger
	Metrics       *Metrics
	SendRetries   int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
}

// Validate checks the configuration is complete.
func (c SenderConfig) Validate() error {
	if c.Ledger == nil {
		return errors.NotValidf("nil Ledger")
	}
	if c.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if c.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if c.Metrics == nil {
		return errors.NotValidf("nil Metrics")
	}
	if c.SendRetries < 1 {
		return errors.NotValidf("SendRetries below 1")
	}
	if c.RetryDelay <= 0 {
		return errors.NotValidf("non-positive RetryDelay")
	}
	if c.RetryMaxDelay < c.RetryDelay {
		return errors.NotValidf("RetryMaxDelay below RetryDelay")
	}
	return nil
}

// Sender delivers batches of requests to one recipient as a single
// digest message, guarded by the idempotency ledger.
type Sender struct {
	config SenderConfig
}

// NewSender returns a sender with the given configuration.
func NewSender(config SenderConfig) (*Sender, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &Sender{config: config}, nil
}

// SendBatch dispatches the given requests, all for one recipient, as
// one message. Requests whose ledger entry is already terminal are
// suppressed. A transient transport failure after exhausted retries
// leaves the claims open, so the batch is retried on the next run; a
// permanent failure closes them as failed and accounts a bounce.
func (s *Sender) SendBatch(ctx context.Context, recipient subscription.Subscriber, batch []notification.Request) error {
	var claimed []notification.Request
	for _, req := range batch {
		done, err := s.config.Ledger.Begin(ctx, req)
		if err != nil {
			return errors.Trace(err)
		}
		if done {
			s.config.Metrics.suppressed.Inc()
			s.config.Logger.Debugf(ctx, "suppressing duplicate dispatch %s to %q", req.ID, recipient)
			continue
		}
		claimed = append(claimed, req)
	}
	if len(claimed) == 0 {
		return nil
	}

	msg := renderDigest(recipient, claimed)
	err := s.send(ctx, msg)
	switch {
	case err == nil:
		for _, req := range claimed {
			if err := s.config.Ledger.Complete(ctx, req); err != nil {
				return errors.Trace(err)
			}
		}
		s.config.Metrics.sent.Inc()
		s.config.Metrics.batches.Observe(float64(len(claimed)))
		return nil

	case errors.Is(err, notification.ErrPermanentDelivery):
		for _, req := range claimed {
			if err := s.config.Ledger.FailPermanent(ctx, req); err != nil {
				return errors.Trace(err)
			}
		}
		s.config.Metrics.failed.Inc()
		deactivated, err := s.config.Ledger.RecordBounce(ctx, recipient)
		if err != nil {
			return errors.Trace(err)
		}
		if deactivated {
			s.config.Logger.Infof(ctx, "recipient %q deactivated", recipient)
		}
		return nil

	default:
		// Transient exhaustion or cancellation; the open claims are
		// retried later.
		s.config.Logger.Warningf(ctx, "dispatch to %q postponed: %v", recipient, err)
		return nil
	}
}

func (s *Sender) send(ctx context.Context, msg Message) error {
	return retry.Call(retry.CallArgs{
		Func: func() error {
			return s.config.Transport.Send(ctx, msg)
		},
		IsFatalError: func(err error) bool {
			return !errors.Is(err, notification.ErrTransientDelivery)
		},
		NotifyFunc: func(lastError error, attempt int) {
			s.config.Metrics.retried.Inc()
			s.config.Logger.Debugf(ctx, "send to %q attempt %d failed: %v", msg.Recipient, attempt, lastError)
		},
		Attempts:    s.config.SendRetries,
		Delay:       s.config.RetryDelay,
		MaxDelay:    s.config.RetryMaxDelay,
		BackoffFunc: retry.ExpBackoff(s.config.RetryDelay, s.config.RetryMaxDelay, 2.0, true),
		Clock:       s.config.Clock,
		Stop:        ctx.Done(),
	})
}

// renderDigest coalesces a recipient's batch into one message, one
// line per change.
func renderDigest(recipient subscription.Subscriber, batch []notification.Request) Message {
	packages := set.NewStrings()
	keywords := set.NewStrings()
	reasons := set.NewStrings()
	var lines []string
	for _, req := range batch {
		packages.Add(req.Event.Package)
		if req.Event.Keyword != "" {
			keywords.Add(req.Event.Keyword.String())
		}
		reasons = reasons.Union(set.NewStrings(req.Reasons...))
		lines = append(lines, fmt.Sprintf("%s: %s changed to %s (version %d)",
			req.Event.Package, req.Event.Field, req.Event.New.String(), req.Event.Version))
	}

	subject := fmt.Sprintf("%s updated", strings.Join(packages.SortedValues(), ", "))
	return Message{
		Recipient: recipient.String(),
		Subject:   subject,
		Body:      strings.Join(lines, "\n"),
		Keywords:  keywords.SortedValues(),
		Reasons:   reasons.SortedValues(),
	}
}
