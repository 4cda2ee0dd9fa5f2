// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"fmt"
	"math"
	"strconv"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/check.v1"
)

type metricsSuite struct{}

var _ = check.Suite(&metricsSuite{})

func parseColumn(c *check.C, t *resultTable, col string) []float64 {
	var out []float64
	for _, s := range t.Column(col) {
		f, err := strconv.ParseFloat(s, 64)
		c.Assert(err, check.IsNil)
		out = append(out, f)
	}
	return out
}

func (s *metricsSuite) TestCochranQIdentical(c *check.C) {
	f := newFixture("x", 8, 0.5)
	a := fixtureLocus(c, f, "L1", "EUR", "A", 1000)
	b := fixtureLocus(c, f, "L1", "EUR", "B", 1000)
	t := cochranQ([]*locus{a, b})
	c.Assert(t.Rows, check.HasLen, 8)
	for _, q := range parseColumn(c, t, "Q") {
		c.Check(q < 1e-20, check.Equals, true, check.Commentf("Q=%g", q))
	}
	for _, p := range parseColumn(c, t, "Q_pvalue") {
		c.Check(p > 1-1e-9, check.Equals, true, check.Commentf("p=%g", p))
	}
	for _, isq := range parseColumn(c, t, "I_squared") {
		c.Check(isq, check.Equals, 0.0)
	}
}

func (s *metricsSuite) TestCochranQ(c *check.C) {
	a := &locus{Sumstats: []sumstatRow{{SNPID: "rs1", Beta: 0, SE: 1}, {SNPID: "rs2", Beta: 1, SE: 1}}}
	b := &locus{Sumstats: []sumstatRow{{SNPID: "rs3", Beta: 0, SE: 1}, {SNPID: "rs1", Beta: 4, SE: 1}}}
	t := cochranQ([]*locus{a, b})
	c.Assert(t.Rows, check.HasLen, 1)
	c.Check(t.Rows[0][0], check.Equals, "rs1")
	q := parseColumn(c, t, "Q")[0]
	c.Check(q, check.Equals, 8.0)
	c.Check(parseColumn(c, t, "Q_pvalue")[0], check.Equals, distuv.ChiSquared{K: 1}.Survival(8))
	c.Check(parseColumn(c, t, "I_squared")[0], check.Equals, (8.0-1)/8*100)
}

func (s *metricsSuite) TestSNPMissingness(c *check.C) {
	a := &locus{Popu: "EUR", Cohort: "A", Sumstats: []sumstatRow{{SNPID: "rs1"}, {SNPID: "rs2"}}}
	b := &locus{Popu: "EAS", Cohort: "B", Sumstats: []sumstatRow{{SNPID: "rs2"}, {SNPID: "rs3"}}}
	t := snpMissingness("L1", []*locus{a, b})
	c.Check(t.Columns, check.DeepEquals, []string{"SNPID", "EUR_A", "EAS_B"})
	c.Check(t.Rows, check.DeepEquals, [][]string{
		{"rs1", "1", "0"},
		{"rs2", "1", "1"},
		{"rs3", "0", "1"},
	})
}

func (s *metricsSuite) TestCompareMAF(c *check.C) {
	f := newFixture("x", 6, 0.5)
	l, err := fixtureLocus(c, f, "L1", "EUR", "A", 1000).intersect()
	c.Assert(err, check.IsNil)
	t := compareMAF(l)
	c.Assert(t.Rows, check.HasLen, 6)
	mafld := parseColumn(c, t, "MAF_ld")
	for i, af := range f.af2 {
		c.Check(mafld[i], check.Equals, math.Min(af, 1-af))
	}
	c.Check(t.Column("cohort")[0], check.Equals, "EUR_A")

	f.af2 = nil
	l, err = fixtureLocus(c, f, "L1", "EUR", "A", 1000).intersect()
	c.Assert(err, check.IsNil)
	t = compareMAF(l)
	c.Check(t.Rows, check.HasLen, 0)
	c.Check(t.Columns, check.HasLen, 4)
}

func (s *metricsSuite) TestLDFourthMoment(c *check.C) {
	fa := newFixture("a", 5, 0)
	fb := newFixture("b", 7, 0.5)
	set := &locusSet{ID: "L1", Loci: []*locus{
		fixtureLocus(c, fa, "L1", "EUR", "A", 1000),
		fixtureLocus(c, fb, "L1", "EUR", "B", 1000),
	}}
	t, err := ldFourthMoment(set)
	c.Assert(err, check.IsNil)
	c.Check(t.Columns, check.DeepEquals, []string{"SNPID", "EUR_A", "EUR_B"})
	// only the 5 variants present in both cohorts
	c.Assert(t.Rows, check.HasLen, 5)
	for _, v := range parseColumn(c, t, "EUR_A") {
		c.Check(v, check.Equals, 0.0)
	}
	// first variant of b restricted to rs1..rs5: 0.5^4 + 0.25^4 + ...
	want := 0.0
	for k := 1; k < 5; k++ {
		want += math.Pow(0.5, 4*float64(k))
	}
	c.Check(math.Abs(parseColumn(c, t, "EUR_B")[0]-want) < 1e-12, check.Equals, true)
}

func (s *metricsSuite) TestLDFourthMomentDisjoint(c *check.C) {
	fa := newFixture("a", 5, 0.5)
	fb := newFixture("b", 5, 0.5)
	for i := range fb.ids {
		fb.ids[i] = fmt.Sprintf("b%d", i)
	}
	set := &locusSet{ID: "L1", Loci: []*locus{
		fixtureLocus(c, fa, "L1", "EUR", "A", 1000),
		fixtureLocus(c, fb, "L1", "EUR", "B", 1000),
	}}
	t, err := ldFourthMoment(set)
	c.Assert(err, check.IsNil)
	c.Check(t.Columns, check.DeepEquals, []string{"SNPID", "EUR_A", "EUR_B"})
	c.Check(t.Rows, check.HasLen, 0)
}

func (s *metricsSuite) TestDecayBins(c *check.C) {
	l := &locus{
		LDMap: []ldmapRow{{BP: 100}, {BP: 600}, {BP: 1600}, {BP: 3100}},
		R: mat.NewSymDense(4, []float64{
			1, 0.9, 0.5, 0.1,
			0.9, 1, 0.6, 0.2,
			0.5, 0.6, 1, 0.3,
			0.1, 0.2, 0.3, 1,
		}),
	}
	dist, r2 := decayBins(l)
	c.Check(dist, check.DeepEquals, []float64{1, 2, 3})
	// distances: 500 (0.9), 1500 (0.5), 1000 (0.6), 3000 (0.1, last
	// bin includes its upper edge), 2500 (0.2), 1500 (0.3)
	c.Check(math.Abs(r2[0]-0.81) < 1e-12, check.Equals, true)
	c.Check(math.Abs(r2[1]-(0.25+0.36+0.09)/3) < 1e-12, check.Equals, true)
	c.Check(math.Abs(r2[2]-(0.01+0.04)/2) < 1e-12, check.Equals, true)

	l.LDMap = []ldmapRow{{BP: 5}}
	l.R = mat.NewSymDense(1, []float64{1})
	dist, _ = decayBins(l)
	c.Check(dist, check.HasLen, 0)
}

func (s *metricsSuite) TestFitDecay(c *check.C) {
	var x, y []float64
	for d := 1; d <= 20; d++ {
		x = append(x, float64(d))
		y = append(y, 0.8*math.Exp(-0.3*float64(d)))
	}
	a, b := fitDecay(x, y)
	c.Check(math.Abs(a-0.8) < 1e-3, check.Equals, true, check.Commentf("a=%g", a))
	c.Check(math.Abs(b-0.3) < 1e-3, check.Equals, true, check.Commentf("b=%g", b))

	a, b = fitDecay([]float64{1}, []float64{0})
	c.Check(math.IsNaN(a) && math.IsNaN(b), check.Equals, true)
}
