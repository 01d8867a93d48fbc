// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package keyword_test

import (
	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/core/keyword"
)

type keywordSuite struct{}

var _ = gc.Suite(&keywordSuite{})

func (s *keywordSuite) TestDefaultsAreKnown(c *gc.C) {
	known := keyword.Known()
	for _, k := range keyword.Defaults().Values() {
		c.Check(known.Contains(k), jc.IsTrue, gc.Commentf("keyword %q", k))
	}
}

func (s *keywordSuite) TestValid(c *gc.C) {
	c.Check(keyword.Valid(keyword.VCS), jc.IsTrue)
	c.Check(keyword.Valid(keyword.Keyword("carrier-pigeon")), jc.IsFalse)
}

func (s *keywordSuite) TestDefaultsExcludeNoisyKeywords(c *gc.C) {
	defaults := keyword.Defaults()
	c.Check(defaults.Contains(keyword.VCS.String()), jc.IsFalse)
	c.Check(defaults.Contains(keyword.UploadBinary.String()), jc.IsFalse)
	c.Check(defaults.Contains(keyword.Build.String()), jc.IsFalse)
}

func (s *keywordSuite) TestNewSet(c *gc.C) {
	s1 := keyword.NewSet(keyword.VCS, keyword.BTS)
	c.Check(s1.SortedValues(), jc.DeepEquals, []string{"bts", "vcs"})
}

func (s *keywordSuite) TestKnownIsACopy(c *gc.C) {
	known := keyword.Known()
	known.Add("scratch")
	c.Check(keyword.Known().Contains("scratch"), jc.IsFalse)
}
