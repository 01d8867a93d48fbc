// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package service

import (
	"context"
	stdtesting "testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"
	jujutesting "github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/core/keyword"
	corerecord "github.com/distro-tracker/tracker/core/record"
	"github.com/distro-tracker/tracker/domain/record"
	loggertesting "github.com/distro-tracker/tracker/internal/logger/testing"
)

func TestPackage(t *stdtesting.T) {
	gc.TestingT(t)
}

type serviceSuite struct {
	jujutesting.IsolationSuite

	state *fakeState
	hub   *fakeHub
	clock *testclock.Clock
}

var _ = gc.Suite(&serviceSuite{})

func (s *serviceSuite) SetUpTest(c *gc.C) {
	s.IsolationSuite.SetUpTest(c)
	s.state = &fakeState{fields: make(map[string]map[corerecord.Field]corerecord.FieldState)}
	s.hub = &fakeHub{}
	s.clock = testclock.NewClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
}

func (s *serviceSuite) service(c *gc.C) *Service {
	keywords := corerecord.KeywordMap{
		"upload_version": keyword.UploadSource,
		"bug_count":      keyword.BTS,
		"vcs_head":       keyword.VCS,
	}
	return NewService(s.state, s.hub, keywords, s.clock, loggertesting.WrapCheckLog(c))
}

func (s *serviceSuite) TestApplyCreatesRecord(c *gc.C) {
	svc := s.service(c)
	diffs, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(diffs, gc.HasLen, 1)
	c.Check(diffs[0].Old.IsZero(), jc.IsTrue)
	c.Check(diffs[0].New, gc.DeepEquals, corerecord.TextValue("1.0"))
	c.Check(diffs[0].Version, gc.Equals, int64(1))

	c.Assert(s.hub.events, gc.HasLen, 1)
	c.Check(s.hub.events[0].Keyword, gc.Equals, keyword.UploadSource)
	c.Check(s.hub.events[0].Package, gc.Equals, "zsh")
}

func (s *serviceSuite) TestApplyNoOpWriteEmitsNothing(c *gc.C) {
	svc := s.service(c)
	_, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
	})
	c.Assert(err, jc.ErrorIsNil)

	// Second identical write: no diff, no event, no version bump.
	diffs, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(diffs, gc.HasLen, 0)
	c.Check(s.hub.events, gc.HasLen, 1)
	c.Check(s.state.fields["zsh"]["upload_version"].Version, gc.Equals, int64(1))
}

func (s *serviceSuite) TestApplyChangedValueBumpsVersion(c *gc.C) {
	svc := s.service(c)
	_, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
	})
	c.Assert(err, jc.ErrorIsNil)

	diffs, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.1")},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(diffs, gc.HasLen, 1)
	c.Check(diffs[0].Old, gc.DeepEquals, corerecord.TextValue("1.0"))
	c.Check(diffs[0].Version, gc.Equals, int64(2))

	c.Assert(s.hub.events, gc.HasLen, 2)
	c.Check(s.hub.events[1].Version, gc.Equals, int64(2))
}

func (s *serviceSuite) TestApplyMixedWritesOnlyChangedPublished(c *gc.C) {
	svc := s.service(c)
	_, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
		{Field: "bug_count", Value: corerecord.IntValue(3)},
	})
	c.Assert(err, jc.ErrorIsNil)

	diffs, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
		{Field: "bug_count", Value: corerecord.IntValue(4)},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Assert(diffs, gc.HasLen, 1)
	c.Check(diffs[0].Field, gc.Equals, corerecord.Field("bug_count"))
	c.Assert(s.hub.events, gc.HasLen, 3)
	c.Check(s.hub.events[2].Keyword, gc.Equals, keyword.BTS)
}

func (s *serviceSuite) TestApplyBlobEquivalentRepresentation(c *gc.C) {
	svc := s.service(c)
	_, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "bug_count", Value: corerecord.BlobValue([]byte(`{"rc": 1, "normal": 2}`))},
	})
	c.Assert(err, jc.ErrorIsNil)

	diffs, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "bug_count", Value: corerecord.BlobValue([]byte(`{"normal":2,"rc":1}`))},
	})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(diffs, gc.HasLen, 0)
	c.Check(s.hub.events, gc.HasLen, 1)
}

func (s *serviceSuite) TestApplyRejectsAbsentValue(c *gc.C) {
	svc := s.service(c)
	_, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version"},
	})
	c.Assert(err, gc.ErrorMatches, `write of absent value to field "upload_version" not valid`)
}

func (s *serviceSuite) TestApplyRejectsDuplicateWrites(c *gc.C) {
	svc := s.service(c)
	_, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
		{Field: "upload_version", Value: corerecord.TextValue("1.1")},
	})
	c.Assert(err, gc.ErrorMatches, `duplicate write to field "upload_version" not valid`)
}

func (s *serviceSuite) TestApplyStateErrorPublishesNothing(c *gc.C) {
	s.state.applyErr = errors.New("boom")
	svc := s.service(c)
	_, err := svc.Apply(context.Background(), "zsh", []corerecord.Write{
		{Field: "upload_version", Value: corerecord.TextValue("1.0")},
	})
	c.Assert(err, gc.NotNil)
	c.Check(s.hub.events, gc.HasLen, 0)
}

type fakeState struct {
	fields   map[string]map[corerecord.Field]corerecord.FieldState
	applyErr error
}

func (f *fakeState) Fields(_ context.Context, pkg string) (map[corerecord.Field]corerecord.FieldState, error) {
	result := make(map[corerecord.Field]corerecord.FieldState)
	for k, v := range f.fields[pkg] {
		result[k] = v
	}
	return result, nil
}

func (f *fakeState) Apply(_ context.Context, pkg string, updates []record.FieldUpdate) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	if f.fields[pkg] == nil {
		f.fields[pkg] = make(map[corerecord.Field]corerecord.FieldState)
	}
	for _, u := range updates {
		f.fields[pkg][u.Field] = corerecord.FieldState{
			Value:   u.Value,
			Version: u.Version,
			Updated: u.Updated,
		}
	}
	return nil
}

func (f *fakeState) Packages(context.Context) ([]string, error) {
	var names []string
	for name := range f.fields {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeState) SetActive(context.Context, string, bool) error {
	return nil
}

type fakeHub struct {
	events []corerecord.ChangeEvent
}

func (f *fakeHub) Publish(topic string, data interface{}) func() {
	f.events = append(f.events, data.(corerecord.ChangeEvent))
	return func() {}
}
