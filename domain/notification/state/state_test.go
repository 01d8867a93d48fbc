// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package state_test

import (
	"context"
	stdtesting "testing"
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/core/keyword"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/notification/state"
	databasetesting "github.com/distro-tracker/tracker/internal/database/testing"
)

func TestPackage(t *stdtesting.T) {
	gc.TestingT(t)
}

type stateSuite struct {
	databasetesting.DBSuite
}

var _ = gc.Suite(&stateSuite{})

func (s *stateSuite) now() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func (s *stateSuite) event() corerecord.ChangeEvent {
	return corerecord.ChangeEvent{
		Package: "zsh",
		Field:   "bug_count",
		Old:     corerecord.IntValue(3),
		New:     corerecord.IntValue(7),
		Version: 4,
		Keyword: keyword.BTS,
	}
}

func (s *stateSuite) TestBeginFirstClaim(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	done, err := st.Begin(context.Background(), "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(done, jc.IsFalse)
}

func (s *stateSuite) TestBeginAfterCompleteIsDone(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	_, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Complete(ctx, "alice@example.com", s.event(), s.now()), jc.ErrorIsNil)

	done, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(done, jc.IsTrue)
}

func (s *stateSuite) TestBeginAfterFailIsDone(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	_, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.FailPermanent(ctx, "alice@example.com", s.event(), s.now()), jc.ErrorIsNil)

	done, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(done, jc.IsTrue)
}

func (s *stateSuite) TestBeginInterruptedClaimRetries(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	// Begin without Complete models a crash mid-dispatch; the claim
	// must stay open so a restart can retry it.
	_, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)

	done, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(done, jc.IsFalse)
}

func (s *stateSuite) TestBeginDistinctRecipients(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	_, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Complete(ctx, "alice@example.com", s.event(), s.now()), jc.ErrorIsNil)

	done, err := st.Begin(ctx, "bob@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(done, jc.IsFalse)
}

func (s *stateSuite) TestBeginNewVersionIsNewAttempt(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	_, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Complete(ctx, "alice@example.com", s.event(), s.now()), jc.ErrorIsNil)

	next := s.event()
	next.Version = 5
	done, err := st.Begin(ctx, "alice@example.com", next, s.now())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(done, jc.IsFalse)
}

func (s *stateSuite) TestPending(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	_, err := st.Begin(ctx, "alice@example.com", s.event(), s.now())
	c.Assert(err, jc.ErrorIsNil)
	_, err = st.Begin(ctx, "bob@example.com", s.event(), s.now().Add(time.Minute))
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(st.Complete(ctx, "bob@example.com", s.event(), s.now()), jc.ErrorIsNil)

	pending, err := st.Pending(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(pending, gc.HasLen, 1)
	c.Check(pending[0].Recipient.String(), gc.Equals, "alice@example.com")
	c.Check(pending[0].Event.Package, gc.Equals, "zsh")
	c.Check(pending[0].Event.Field, gc.Equals, corerecord.Field("bug_count"))
	c.Check(pending[0].Event.Version, gc.Equals, int64(4))

	// A retried dispatch renders the same digest content as the
	// original, so the claim carries the event's keyword and value.
	c.Check(pending[0].Event.Keyword, gc.Equals, keyword.BTS)
	c.Check(pending[0].Event.New, jc.DeepEquals, corerecord.IntValue(7))
}

func (s *stateSuite) TestPendingValueKinds(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	event := s.event()
	event.Field = "description"
	event.New = corerecord.TextValue("A shell")
	_, err := st.Begin(ctx, "alice@example.com", event, s.now())
	c.Assert(err, jc.ErrorIsNil)

	stamp := time.Date(2025, 5, 30, 8, 0, 0, 0, time.UTC)
	event = s.event()
	event.Field = "last_upload"
	event.New = corerecord.TimeValue(stamp)
	_, err = st.Begin(ctx, "alice@example.com", event, s.now().Add(time.Minute))
	c.Assert(err, jc.ErrorIsNil)

	pending, err := st.Pending(ctx)
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(pending, gc.HasLen, 2)
	c.Check(pending[0].Event.New, jc.DeepEquals, corerecord.TextValue("A shell"))
	c.Check(pending[1].Event.New.Kind, gc.Equals, corerecord.KindTime)
	c.Check(pending[1].Event.New.Time.Equal(stamp), jc.IsTrue)
}

func (s *stateSuite) TestPendingEmpty(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	pending, err := st.Pending(context.Background())
	c.Assert(err, jc.ErrorIsNil)
	c.Check(pending, gc.HasLen, 0)
}

func (s *stateSuite) TestBounceAccounting(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	count, err := st.RecordBounce(ctx, "alice@example.com")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(count, gc.Equals, int64(1))
	count, err = st.RecordBounce(ctx, "alice@example.com")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(count, gc.Equals, int64(2))

	c.Assert(st.ResetBounces(ctx, "alice@example.com"), jc.ErrorIsNil)
	count, err = st.RecordBounce(ctx, "alice@example.com")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(count, gc.Equals, int64(1))
}

func (s *stateSuite) TestMarkInactive(c *gc.C) {
	st := state.NewState(s.TxnRunner())
	ctx := context.Background()

	active, err := st.IsActive(ctx, "alice@example.com")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(active, jc.IsTrue)

	c.Assert(st.MarkInactive(ctx, "alice@example.com"), jc.ErrorIsNil)
	active, err = st.IsActive(ctx, "alice@example.com")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(active, jc.IsFalse)
}
