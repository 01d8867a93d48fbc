// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package record_test

import (
	"time"

	jc "github.com/juju/testing/checkers"
	gc "gopkg.in/check.v1"

	"github.com/distro-tracker/tracker/core/keyword"
	"github.com/distro-tracker/tracker/core/record"
)

type valueSuite struct{}

var _ = gc.Suite(&valueSuite{})

func (s *valueSuite) TestZeroValueIsAbsent(c *gc.C) {
	var v record.Value
	c.Check(v.IsZero(), jc.IsTrue)
	c.Check(record.TextValue("").IsZero(), jc.IsFalse)
}

func (s *valueSuite) TestEqualDifferentKinds(c *gc.C) {
	c.Check(record.TextValue("1").Equal(record.IntValue(1)), jc.IsFalse)
}

func (s *valueSuite) TestTextEquality(c *gc.C) {
	c.Check(record.TextValue("1.0").Equal(record.TextValue("1.0")), jc.IsTrue)
	c.Check(record.TextValue("1.0").Equal(record.TextValue("1.1")), jc.IsFalse)
}

func (s *valueSuite) TestTimeEqualityIgnoresLocation(c *gc.C) {
	t := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	local := record.TimeValue(t.In(time.FixedZone("X", 3600)))
	c.Check(record.TimeValue(t).Equal(local), jc.IsTrue)
}

func (s *valueSuite) TestBlobEqualityIsStructural(c *gc.C) {
	a := record.BlobValue([]byte(`{"bugs": 3, "patch": 1}`))
	b := record.BlobValue([]byte(`{"patch":1,"bugs":3}`))
	diff := record.BlobValue([]byte(`{"bugs": 4, "patch": 1}`))
	c.Check(a.Equal(b), jc.IsTrue)
	c.Check(a.Equal(diff), jc.IsFalse)
}

func (s *valueSuite) TestEncodeDecodeRoundTrip(c *gc.C) {
	values := []record.Value{
		record.TextValue("experimental"),
		record.IntValue(42),
		record.TimeValue(time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)),
		record.BlobValue([]byte(`{"a":[1,2]}`)),
	}
	for _, v := range values {
		payload, err := v.Encode()
		c.Assert(err, jc.ErrorIsNil)
		got, err := record.DecodeValue(v.Kind.String(), payload)
		c.Assert(err, jc.ErrorIsNil)
		c.Check(got.Equal(v), jc.IsTrue, gc.Commentf("kind %s", v.Kind))
	}
}

func (s *valueSuite) TestEncodeNormalisesBlob(c *gc.C) {
	payload, err := record.BlobValue([]byte("{\"b\": 1,\n \"a\": 2}")).Encode()
	c.Assert(err, jc.ErrorIsNil)
	c.Check(payload, gc.Equals, `{"a":2,"b":1}`)
}

func (s *valueSuite) TestEncodeRejectsInvalidBlob(c *gc.C) {
	_, err := record.BlobValue([]byte("{not json")).Encode()
	c.Assert(err, gc.ErrorMatches, "invalid blob value: .*")
}

func (s *valueSuite) TestDecodeUnknownKind(c *gc.C) {
	_, err := record.DecodeValue("hologram", "")
	c.Assert(err, gc.ErrorMatches, `unknown value kind "hologram"`)
}

type keywordMapSuite struct{}

var _ = gc.Suite(&keywordMapSuite{})

func (s *keywordMapSuite) TestKeywordLookup(c *gc.C) {
	m := record.KeywordMap{"vcs_url": keyword.VCS}
	c.Check(m.Keyword("vcs_url"), gc.Equals, keyword.VCS)
}

func (s *keywordMapSuite) TestKeywordFallsBackToDefault(c *gc.C) {
	m := record.KeywordMap{"vcs_url": keyword.VCS}
	c.Check(m.Keyword("unmapped"), gc.Equals, keyword.Default)
}
