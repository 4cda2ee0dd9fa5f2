// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"errors"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type loadSuite struct{}

var _ = check.Suite(&loadSuite{})

func (s *loadSuite) TestParseLociTable(c *check.C) {
	rows, err := parseLociTable("loci", strings.NewReader("locus_id\tprefix\tpopu\tcohort\tsample_size\n"+
		"chr1_100_200\t/data/EUR.UKB\tEUR\tUKB\t10000\n"+
		"\n"+
		"chr1_100_200\t/data/EAS.BBJ\tEAS\tBBJ\t5000\r\n"+
		"chr2_5_9\t/data/EUR.FG\tEUR\tFG\t2e3\n"))
	c.Assert(err, check.IsNil)
	c.Assert(rows, check.HasLen, 3)
	c.Check(rows[1], check.DeepEquals, lociTableRow{LocusID: "chr1_100_200", Prefix: "/data/EAS.BBJ", Popu: "EAS", Cohort: "BBJ", SampleSize: 5000})
	c.Check(rows[2].SampleSize, check.Equals, 2000)

	groups := groupLoci(rows)
	c.Assert(groups, check.HasLen, 2)
	c.Check(groups[0], check.HasLen, 2)
	c.Check(groups[1][0].LocusID, check.Equals, "chr2_5_9")
}

func (s *loadSuite) TestMalformedLociTable(c *check.C) {
	for _, input := range []string{
		"",
		"locus_id\tprefix\tpopu\tcohort\n" + "a\tb\tc\td\n",
		"locus_id\tprefix\tpopu\tcohort\tsample_size\n" + "a\tb\tc\td\tmany\n",
		"locus_id\tprefix\tpopu\tcohort\tsample_size\n" + "a\t\tc\td\t100\n",
	} {
		_, err := parseLociTable("loci", strings.NewReader(input))
		c.Check(errors.Is(err, errMalformedTable), check.Equals, true, check.Commentf("%q => %v", input, err))
	}
}

func (s *loadSuite) TestParseSumstats(c *check.C) {
	rows, err := parseSumstats("ss", strings.NewReader("SNPID\tBETA\tSE\tP\tEAF\n"+
		"rs1\t0.1\t0.05\t0.04\t0.9\n"+
		"rs2\tNA\t0.05\t\t0.2\n"))
	c.Assert(err, check.IsNil)
	c.Assert(rows, check.HasLen, 2)
	c.Check(math.Abs(rows[0].MAF-0.1) < 1e-12, check.Equals, true, check.Commentf("MAF %v", rows[0].MAF))
	c.Check(math.IsNaN(rows[1].Beta), check.Equals, true)
	c.Check(math.IsNaN(rows[1].P), check.Equals, true)

	_, err = parseSumstats("ss", strings.NewReader("SNPID\tBETA\tP\n"))
	c.Check(errors.Is(err, errMalformedTable), check.Equals, true)
	_, err = parseSumstats("ss", strings.NewReader("SNPID\tBETA\tSE\tP\nrs1\tx\t1\t1\n"))
	c.Check(errors.Is(err, errMalformedTable), check.Equals, true)
}

func (s *loadSuite) TestParseLDText(c *check.C) {
	r, err := parseLDText("ld", strings.NewReader("1 0.5\n0.5 1\n"))
	c.Assert(err, check.IsNil)
	c.Check(r.At(1, 0), check.Equals, 0.5)

	for _, input := range []string{"", "1 0.5\n", "1 0.5\n0.5\n", "1 x\nx 1\n"} {
		_, err = parseLDText("ld", strings.NewReader(input))
		c.Check(errors.Is(err, errMalformedTable), check.Equals, true, check.Commentf("%q", input))
	}
}

func (s *loadSuite) TestLoadLocus(c *check.C) {
	dir := c.MkDir()
	for _, format := range []struct {
		name    string
		gz, npy bool
	}{
		{"text", false, false},
		{"gz", true, false},
		{"npy", false, true},
		{"gznpy", true, true},
	} {
		f := newFixture(dir+"/"+format.name, 12, 0.6)
		f.write(c, format.gz, format.npy)
		l, err := loadLocus(lociTableRow{LocusID: "L1", Prefix: f.prefix, Popu: "EUR", Cohort: "UKB", SampleSize: 1000})
		c.Assert(err, check.IsNil, check.Commentf("%s", format.name))
		c.Check(l.label(), check.Equals, "EUR_UKB")
		c.Check(l.Sumstats, check.HasLen, 12)
		c.Check(l.LDMap, check.HasLen, 12)
		c.Check(l.HasAF2, check.Equals, true)
		c.Check(mat.EqualApprox(l.R, f.r, 1e-12), check.Equals, true, check.Commentf("%s", format.name))
	}

	_, err := loadLocus(lociTableRow{LocusID: "L1", Prefix: dir + "/missing", SampleSize: 1000})
	c.Check(err, check.ErrorMatches, `none of .* could be opened: .*`)
}

func (s *loadSuite) TestLoadLocusSizeMismatch(c *check.C) {
	dir := c.MkDir()
	f := newFixture(dir+"/x", 5, 0.5)
	f.write(c, false, false)
	writeFile(c, f.prefix+".ld", "1 0\n0 1\n", false)
	_, err := loadLocus(lociTableRow{LocusID: "L1", Prefix: f.prefix, SampleSize: 1000})
	c.Check(err, check.ErrorMatches, `.*LD matrix is 2x2 but LD map has 5 rows`)
}

func (s *loadSuite) TestIntersect(c *check.C) {
	l := &locus{
		ID: "L1",
		Sumstats: []sumstatRow{
			{SNPID: "rs3", Beta: 3},
			{SNPID: "rs9", Beta: 9},
			{SNPID: "rs1", Beta: 1},
		},
		LDMap: []ldmapRow{{SNPID: "rs1"}, {SNPID: "rs2"}, {SNPID: "rs3"}},
		R: mat.NewSymDense(3, []float64{
			1, 0.2, 0.3,
			0.2, 1, 0.4,
			0.3, 0.4, 1,
		}),
	}
	aligned, err := l.intersect()
	c.Assert(err, check.IsNil)
	c.Assert(aligned.Sumstats, check.HasLen, 2)
	c.Check(aligned.Sumstats[0].SNPID, check.Equals, "rs1")
	c.Check(aligned.Sumstats[1].SNPID, check.Equals, "rs3")
	c.Check(aligned.LDMap[1].SNPID, check.Equals, "rs3")
	c.Check(aligned.R.Symmetric(), check.Equals, 2)
	c.Check(aligned.R.At(0, 1), check.Equals, 0.3)
	c.Check(aligned.R.At(1, 1), check.Equals, 1.0)
	// original is unchanged
	c.Check(l.Sumstats[0].SNPID, check.Equals, "rs3")
	c.Check(l.R.Symmetric(), check.Equals, 3)

	rl := aligned.rssLocus()
	c.Check(rl.Variants[1].Beta, check.Equals, 3.0)

	l.Sumstats = []sumstatRow{{SNPID: "rs7"}}
	_, err = l.intersect()
	c.Check(errors.Is(err, errNoOverlap), check.Equals, true)
}
