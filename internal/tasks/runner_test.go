// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package tasks_test

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/core/keyword"
	corerecord "github.com/distro-tracker/tracker/core/record"
	loggertesting "github.com/distro-tracker/tracker/internal/logger/testing"
	"github.com/distro-tracker/tracker/internal/tasks"
)

type runnerSuite struct{}

var _ = gc.Suite(&runnerSuite{})

type fakeSource struct {
	kind  string
	fetch func(ctx context.Context, pkg string) ([]byte, error)
}

func (f *fakeSource) Kind() string {
	return f.kind
}

func (f *fakeSource) Fetch(ctx context.Context, pkg string) ([]byte, error) {
	return f.fetch(ctx, pkg)
}

type fakeStore struct {
	fields   map[corerecord.Field]corerecord.FieldState
	applied  [][]corerecord.Write
	applyErr error
}

func (f *fakeStore) Record(ctx context.Context, pkg string) (map[corerecord.Field]corerecord.FieldState, error) {
	return f.fields, nil
}

func (f *fakeStore) Apply(ctx context.Context, pkg string, writes []corerecord.Write) ([]corerecord.Diff, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	f.applied = append(f.applied, writes)
	diffs := make([]corerecord.Diff, len(writes))
	for i, w := range writes {
		diffs[i] = corerecord.Diff{Field: w.Field, New: w.Value, Version: 1}
	}
	return diffs, nil
}

func (s *runnerSuite) newRunner(c *gc.C, store tasks.Store) *tasks.Runner {
	runner, err := tasks.NewRunner(tasks.RunnerConfig{
		Store:         store,
		Clock:         clock.WallClock,
		Logger:        loggertesting.WrapCheckLog(c),
		FetchTimeout:  50 * time.Millisecond,
		FetchRetries:  3,
		RetryDelay:    time.Millisecond,
		RetryMaxDelay: 2 * time.Millisecond,
	})
	c.Assert(err, jc.ErrorIsNil)
	return runner
}

func (s *runnerSuite) descriptor(source *fakeSource, parse tasks.ParseFunc) tasks.Descriptor {
	return tasks.Descriptor{
		Name:  "bugs-count",
		Reads: []corerecord.Field{"bug_count"},
		Writes: []tasks.FieldSpec{{
			Name:    "bug_count",
			Keyword: keyword.BTS,
		}},
		Source: source,
		Parse:  parse,
	}
}

func (s *runnerSuite) TestRunSuccess(c *gc.C) {
	store := &fakeStore{}
	runner := s.newRunner(c, store)

	source := &fakeSource{kind: "bts", fetch: func(ctx context.Context, pkg string) ([]byte, error) {
		return []byte("7"), nil
	}}
	d := s.descriptor(source, func(view *tasks.RecordView, raw []byte) ([]corerecord.Write, error) {
		return []corerecord.Write{{Field: "bug_count", Value: corerecord.IntValue(7)}}, nil
	})

	result := runner.Run(context.Background(), "bar", d)
	c.Check(result.Outcome, gc.Equals, tasks.Success)
	c.Check(result.Err, jc.ErrorIsNil)
	c.Assert(result.Diffs, gc.HasLen, 1)
	c.Check(store.applied, gc.HasLen, 1)
}

func (s *runnerSuite) TestRunRetriesTransientThenSucceeds(c *gc.C) {
	store := &fakeStore{}
	runner := s.newRunner(c, store)

	attempts := 0
	source := &fakeSource{kind: "bts", fetch: func(ctx context.Context, pkg string) ([]byte, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.Annotate(tasks.ErrTransient, "rate limited")
		}
		return []byte("7"), nil
	}}
	d := s.descriptor(source, func(view *tasks.RecordView, raw []byte) ([]corerecord.Write, error) {
		return []corerecord.Write{{Field: "bug_count", Value: corerecord.IntValue(7)}}, nil
	})

	result := runner.Run(context.Background(), "bar", d)
	c.Check(result.Outcome, gc.Equals, tasks.Success)
	c.Check(attempts, gc.Equals, 3)
}

func (s *runnerSuite) TestRunExhaustedRetriesSoftFails(c *gc.C) {
	store := &fakeStore{
		fields: map[corerecord.Field]corerecord.FieldState{
			"bug_count": {Value: corerecord.IntValue(5), Version: 2},
		},
	}
	runner := s.newRunner(c, store)

	attempts := 0
	source := &fakeSource{kind: "bts", fetch: func(ctx context.Context, pkg string) ([]byte, error) {
		attempts++
		return nil, errors.Annotate(tasks.ErrTransient, "timeout")
	}}
	d := s.descriptor(source, func(view *tasks.RecordView, raw []byte) ([]corerecord.Write, error) {
		c.Fatal("parse must not run")
		return nil, nil
	})

	result := runner.Run(context.Background(), "bar", d)
	c.Check(result.Outcome, gc.Equals, tasks.SoftFailure)
	c.Check(attempts, gc.Equals, 3)
	// Prior value untouched; nothing applied, no events.
	c.Check(store.applied, gc.HasLen, 0)
}

func (s *runnerSuite) TestRunPermanentFetchHardFails(c *gc.C) {
	store := &fakeStore{}
	runner := s.newRunner(c, store)

	attempts := 0
	source := &fakeSource{kind: "bts", fetch: func(ctx context.Context, pkg string) ([]byte, error) {
		attempts++
		return nil, errors.Annotate(tasks.ErrPermanent, "misconfigured source")
	}}
	d := s.descriptor(source, noParse)

	result := runner.Run(context.Background(), "bar", d)
	c.Check(result.Outcome, gc.Equals, tasks.HardFailure)
	c.Check(result.Err, jc.ErrorIs, tasks.ErrPermanent)
	// Permanent failures are not retried.
	c.Check(attempts, gc.Equals, 1)
}

func (s *runnerSuite) TestRunParseFailureSoftFails(c *gc.C) {
	store := &fakeStore{}
	runner := s.newRunner(c, store)

	source := &fakeSource{kind: "bts", fetch: func(ctx context.Context, pkg string) ([]byte, error) {
		return []byte("garbage"), nil
	}}
	d := s.descriptor(source, func(view *tasks.RecordView, raw []byte) ([]corerecord.Write, error) {
		return nil, errors.New("unparseable")
	})

	result := runner.Run(context.Background(), "bar", d)
	c.Check(result.Outcome, gc.Equals, tasks.SoftFailure)
	c.Check(store.applied, gc.HasLen, 0)
}

func (s *runnerSuite) TestRunUndeclaredWriteSoftFails(c *gc.C) {
	store := &fakeStore{}
	runner := s.newRunner(c, store)

	source := &fakeSource{kind: "bts", fetch: func(ctx context.Context, pkg string) ([]byte, error) {
		return []byte("7"), nil
	}}
	d := s.descriptor(source, func(view *tasks.RecordView, raw []byte) ([]corerecord.Write, error) {
		return []corerecord.Write{{Field: "not_declared", Value: corerecord.IntValue(7)}}, nil
	})

	result := runner.Run(context.Background(), "bar", d)
	c.Check(result.Outcome, gc.Equals, tasks.SoftFailure)
	c.Check(result.Err, jc.ErrorIs, errors.NotValid)
	c.Check(store.applied, gc.HasLen, 0)
}

func (s *runnerSuite) TestRunStoreApplyErrorHardFails(c *gc.C) {
	store := &fakeStore{applyErr: errors.New("database gone")}
	runner := s.newRunner(c, store)

	source := &fakeSource{kind: "bts", fetch: func(ctx context.Context, pkg string) ([]byte, error) {
		return []byte("7"), nil
	}}
	d := s.descriptor(source, func(view *tasks.RecordView, raw []byte) ([]corerecord.Write, error) {
		return []corerecord.Write{{Field: "bug_count", Value: corerecord.IntValue(7)}}, nil
	})

	result := runner.Run(context.Background(), "bar", d)
	c.Check(result.Outcome, gc.Equals, tasks.HardFailure)
}

func (s *runnerSuite) TestRecordViewRestrictsReads(c *gc.C) {
	view := tasks.NewRecordView("bar", []corerecord.Field{"bug_count"},
		map[corerecord.Field]corerecord.FieldState{
			"bug_count":      {Value: corerecord.IntValue(5)},
			"upload_version": {Value: corerecord.TextValue("1.0")},
		})

	value, err := view.Get("bug_count")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(value.Equal(corerecord.IntValue(5)), jc.IsTrue)

	_, err = view.Get("upload_version")
	c.Assert(err, jc.ErrorIs, tasks.ErrUndeclaredDependency)
	_, err = view.Has("upload_version")
	c.Assert(err, jc.ErrorIs, tasks.ErrUndeclaredDependency)
}

func (s *runnerSuite) TestRecordViewAbsentField(c *gc.C) {
	view := tasks.NewRecordView("bar", []corerecord.Field{"bug_count"}, nil)

	ok, err := view.Has("bug_count")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(ok, jc.IsFalse)

	value, err := view.Get("bug_count")
	c.Assert(err, jc.ErrorIsNil)
	c.Check(value.IsZero(), jc.IsTrue)
}

func (s *runnerSuite) TestRunnerConfigValidate(c *gc.C) {
	_, err := tasks.NewRunner(tasks.RunnerConfig{})
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}
