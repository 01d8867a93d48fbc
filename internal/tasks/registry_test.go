// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tasks_test

import (
	"context"

	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/core/keyword"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/internal/tasks"
)

type registrySuite struct{}

var _ = gc.Suite(&registrySuite{})

type staticSource struct {
	kind string
}

func (s staticSource) Kind() string {
	return s.kind
}

func (s staticSource) Fetch(ctx context.Context, pkg string) ([]byte, error) {
	return nil, nil
}

func noParse(view *tasks.RecordView, raw []byte) ([]corerecord.Write, error) {
	return nil, nil
}

func descriptor(name string, writes []string, deps ...string) tasks.Descriptor {
	d := tasks.Descriptor{
		Name:      name,
		DependsOn: deps,
		Source:    staticSource{kind: "archive"},
		Parse:     noParse,
	}
	for _, f := range writes {
		d.Writes = append(d.Writes, tasks.FieldSpec{
			Name:    corerecord.Field(f),
			Keyword: keyword.Default,
		})
	}
	return d
}

func (s *registrySuite) TestPlanHonoursDependencies(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("uploads", []string{"upload_version"})), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("bugs", []string{"bug_count"}, "uploads")), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("summary", []string{"summary"}, "bugs")), jc.ErrorIsNil)

	plan, err := r.Plan()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(plan, gc.DeepEquals, []string{"uploads", "bugs", "summary"})
}

func (s *registrySuite) TestPlanBreaksTiesByRegistrationOrder(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("charlie", []string{"c"})), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("alpha", []string{"a"})), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("bravo", []string{"b"})), jc.ErrorIsNil)

	plan, err := r.Plan()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(plan, gc.DeepEquals, []string{"charlie", "alpha", "bravo"})
}

func (s *registrySuite) TestRegisterRejectsCycle(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"fa"}, "b")), jc.ErrorIsNil)
	err := r.Register(descriptor("b", []string{"fb"}, "a"))
	c.Assert(err, jc.ErrorIs, tasks.ErrCyclicDependency)

	// The rejected task leaves no trace.
	_, err = r.Task("b")
	c.Check(err, jc.ErrorIs, errors.NotFound)
}

func (s *registrySuite) TestRegisterRejectsSelfCycle(c *gc.C) {
	r := tasks.NewRegistry()
	err := r.Register(descriptor("a", []string{"fa"}, "a"))
	c.Assert(err, jc.ErrorIs, tasks.ErrCyclicDependency)
}

func (s *registrySuite) TestRegisterRejectsLongCycle(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"fa"}, "c")), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("b", []string{"fb"}, "a")), jc.ErrorIsNil)
	err := r.Register(descriptor("c", []string{"fc"}, "b"))
	c.Assert(err, jc.ErrorIs, tasks.ErrCyclicDependency)
}

func (s *registrySuite) TestRegisterRejectsDuplicateWriter(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"shared"})), jc.ErrorIsNil)
	err := r.Register(descriptor("b", []string{"shared"}))
	c.Assert(err, jc.ErrorIs, tasks.ErrDuplicateFieldWriter)
}

func (s *registrySuite) TestRegisterAllowsOrderedWriters(c *gc.C) {
	// Two writers of one field are fine when the dependency graph
	// orders them.
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"shared"})), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("b", []string{"shared"}, "a")), jc.ErrorIsNil)

	plan, err := r.Plan()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(plan, gc.DeepEquals, []string{"a", "b"})
}

func (s *registrySuite) TestRegisterAllowsTransitivelyOrderedWriters(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"shared"})), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("b", []string{"fb"}, "a")), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("c", []string{"shared"}, "b")), jc.ErrorIsNil)
}

func (s *registrySuite) TestRegisterAllowsWritersOrderedThroughLaterTask(c *gc.C) {
	// The ordering path between the two writers of "shared" runs
	// through "mid", which is still unregistered when "b" arrives.
	// Registration must not reject the pair; Plan settles it once
	// every name resolves.
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"shared"}, "mid")), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("b", []string{"shared"})), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("mid", []string{"fm"}, "b")), jc.ErrorIsNil)

	plan, err := r.Plan()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(plan, gc.DeepEquals, []string{"b", "mid", "a"})
}

func (s *registrySuite) TestPlanRejectsUnorderedDuplicateWriters(c *gc.C) {
	// As above, but "mid" never supplies the path, so the conflict
	// surfaces at plan time.
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"shared"}, "mid")), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("b", []string{"shared"})), jc.ErrorIsNil)
	c.Assert(r.Register(descriptor("mid", []string{"fm"})), jc.ErrorIsNil)

	_, err := r.Plan()
	c.Assert(err, jc.ErrorIs, tasks.ErrDuplicateFieldWriter)
}

func (s *registrySuite) TestRegisterRejectsDuplicateName(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"fa"})), jc.ErrorIsNil)
	err := r.Register(descriptor("a", []string{"fb"}))
	c.Assert(err, jc.ErrorIs, errors.AlreadyExists)
}

func (s *registrySuite) TestRegisterValidatesDescriptor(c *gc.C) {
	r := tasks.NewRegistry()
	c.Check(r.Register(tasks.Descriptor{}), jc.ErrorIs, errors.NotValid)

	d := descriptor("a", []string{"fa"})
	d.Writes[0].Keyword = "no-such"
	c.Check(r.Register(d), jc.ErrorIs, errors.NotValid)

	d = descriptor("b", nil)
	c.Check(r.Register(d), jc.ErrorIs, errors.NotValid)
}

func (s *registrySuite) TestPlanRejectsUnknownDependency(c *gc.C) {
	r := tasks.NewRegistry()
	c.Assert(r.Register(descriptor("a", []string{"fa"}, "never-registered")), jc.ErrorIsNil)
	_, err := r.Plan()
	c.Assert(err, jc.ErrorIs, errors.NotFound)
}

func (s *registrySuite) TestFieldKeywords(c *gc.C) {
	r := tasks.NewRegistry()
	d := descriptor("uploads", nil)
	d.Writes = []tasks.FieldSpec{{
		Name:    "upload_version",
		Keyword: keyword.UploadSource,
	}}
	c.Assert(r.Register(d), jc.ErrorIsNil)
	d = descriptor("bugs", nil)
	d.Writes = []tasks.FieldSpec{{
		Name:    "bug_count",
		Keyword: keyword.BTS,
	}}
	c.Assert(r.Register(d), jc.ErrorIsNil)

	m := r.FieldKeywords()
	c.Check(m.Keyword("upload_version"), gc.Equals, keyword.UploadSource)
	c.Check(m.Keyword("bug_count"), gc.Equals, keyword.BTS)
	c.Check(m.Keyword("unmapped"), gc.Equals, keyword.Default)
}

func (s *registrySuite) TestSourceKinds(c *gc.C) {
	r := tasks.NewRegistry()
	d := descriptor("a", []string{"fa"})
	d.Source = staticSource{kind: "vcs"}
	c.Assert(r.Register(d), jc.ErrorIsNil)
	d = descriptor("b", []string{"fb"})
	d.Source = staticSource{kind: "bts"}
	c.Assert(r.Register(d), jc.ErrorIsNil)

	c.Check(r.SourceKinds().SortedValues(), gc.DeepEquals, []string{"bts", "vcs"})
}
