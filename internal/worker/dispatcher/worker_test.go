// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package dispatcher_test

import (
	"context"
	"strings"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"github.com/juju/worker/v4/workertest"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/domain/notification"
	loggertesting "github.com/distro-tracker/tracker/internal/logger/testing"
	"github.com/distro-tracker/tracker/internal/worker/dispatcher"
)

type workerSuite struct {
	jujutesting.IsolationSuite

	clock     *testclock.Clock
	ledger    *fakeLedger
	transport *chanTransport
}

var _ = gc.Suite(&workerSuite{})

// chanTransport hands sent messages to the test goroutine.
type chanTransport struct {
	ch chan dispatcher.Message
}

func (t *chanTransport) Send(ctx context.Context, msg dispatcher.Message) error {
	t.ch <- msg
	return nil
}

func (s *workerSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.clock = testclock.NewClock(time.Time{})
	s.ledger = newFakeLedger()
	s.transport = &chanTransport{ch: make(chan dispatcher.Message, 16)}
}

func (s *workerSuite) newWorker(c *gc.C, window time.Duration) *dispatcher.Worker {
	sender, err := dispatcher.NewSender(dispatcher.SenderConfig{
		Ledger:        s.ledger,
		Transport:     s.transport,
		Clock:         s.clock,
		Logger:        loggertesting.WrapCheckLog(c),
		Metrics:       dispatcher.NewMetrics(),
		SendRetries:   1,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: time.Millisecond,
	})
	c.Assert(err, jc.ErrorIsNil)

	w, err := dispatcher.NewWorker(dispatcher.WorkerConfig{
		Sender: sender,
		Clock:  s.clock,
		Logger: loggertesting.WrapCheckLog(c),
		Window: window,
	})
	c.Assert(err, jc.ErrorIsNil)
	s.AddCleanup(func(c *gc.C) { workertest.CleanKill(c, w) })
	return w
}

func (s *workerSuite) TestWindowCoalescesPerRecipient(c *gc.C) {
	w := s.newWorker(c, time.Minute)

	w.Enqueue(request("r1", "foo", "upload_version"))
	w.Enqueue(request("r2", "bar", "bug_count"))

	// The worker may fire an empty window before it has drained the
	// queue, so advance until both events have gone out.
	events := 0
	for i := 0; i < 10 && events < 2; i++ {
		err := s.clock.WaitAdvance(time.Minute, jujutesting.LongWait, 1)
		c.Assert(err, jc.ErrorIsNil)
		select {
		case msg := <-s.transport.ch:
			c.Check(msg.Recipient, gc.Equals, "alice@example.com")
			events += len(strings.Split(msg.Body, "\n"))
		case <-time.After(jujutesting.ShortWait):
		}
	}
	c.Assert(events, gc.Equals, 2)

	workertest.CleanKill(c, w)
	c.Check(s.ledger.states[ledgerKey(request("r1", "foo", "upload_version"))], gc.Equals, notification.DispatchSent)
	c.Check(s.ledger.states[ledgerKey(request("r2", "bar", "bug_count"))], gc.Equals, notification.DispatchSent)
}

func (s *workerSuite) TestDyingFlushesPending(c *gc.C) {
	w := s.newWorker(c, time.Hour)

	req := request("r1", "foo", "upload_version")
	w.Enqueue(req)
	workertest.CleanKill(c, w)

	select {
	case msg := <-s.transport.ch:
		c.Check(msg.Recipient, gc.Equals, "alice@example.com")
	default:
		c.Fatal("pending request not flushed on shutdown")
	}
	c.Check(s.ledger.states[ledgerKey(req)], gc.Equals, notification.DispatchSent)
}

func (s *workerSuite) TestDistinctRecipientsDistinctMessages(c *gc.C) {
	w := s.newWorker(c, time.Hour)

	alice := request("r1", "foo", "upload_version")
	bob := request("r2", "foo", "upload_version")
	bob.Recipient = "bob@example.com"
	w.Enqueue(alice)
	w.Enqueue(bob)
	workertest.CleanKill(c, w)

	recipients := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case msg := <-s.transport.ch:
			recipients[msg.Recipient] = true
		default:
			c.Fatal("missing flushed message")
		}
	}
	c.Check(recipients, gc.DeepEquals, map[string]bool{
		"alice@example.com": true,
		"bob@example.com":   true,
	})
}

func (s *workerSuite) TestWorkerConfigValidate(c *gc.C) {
	_, err := dispatcher.NewWorker(dispatcher.WorkerConfig{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}
