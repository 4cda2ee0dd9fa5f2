// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	"math"
	mrand "math/rand"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/check.v1"
)

type mixtureSuite struct{}

var _ = check.Suite(&mixtureSuite{})

func (s *mixtureSuite) TestScaleGrid(c *check.C) {
	// max squared diff below 1: a_max = 2
	grid := scaleGrid([]float64{0.5, -0.2, 0.1, 0.9, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	c.Check(grid[len(grid)-1], check.Equals, 2.0)
	c.Check(grid, check.HasLen, 20)
	for i := 1; i < len(grid); i++ {
		c.Check(math.Abs(grid[i]/grid[i-1]-1.05) < 1e-12, check.Equals, true)
	}
	c.Check(grid[0] > 0.8/1.05 && grid[0] <= 0.8, check.Equals, true, check.Commentf("%v", grid[0]))

	// large diff: a_max = 2·sqrt(max²); plenty of variants
	diffs := make([]float64, 1000)
	diffs[3] = -10
	grid = scaleGrid(diffs)
	c.Check(grid[len(grid)-1], check.Equals, 20.0)
	c.Check(grid, check.HasLen, int(math.Ceil(math.Log2(20/0.8)/math.Log2(1.05)))+1)
	c.Check(grid[0] < 0.8*1.05, check.Equals, true)

	// one variant: a single grid point
	c.Check(scaleGrid([]float64{3}), check.DeepEquals, []float64{6})
	// NaN is ignored
	c.Check(scaleGrid([]float64{math.NaN(), 0}), check.DeepEquals, []float64{2 / 1.05, 2})
}

func (s *mixtureSuite) TestGridLogLik(c *check.C) {
	llik, lf := gridLogLik([]float64{0, 3}, []float64{1, 4}, []float64{1, 2})
	c.Check(llik.At(0, 0), check.Equals, 0.0)
	c.Check(llik.At(0, 1) < 0, check.Equals, true)
	c.Check(math.Abs(lf[0]-normLogPDF(0, 0, 1)) < 1e-15, check.Equals, true)
	// resid 3 fits sd 4 better than sd 2
	c.Check(llik.At(1, 1), check.Equals, 0.0)
	c.Check(llik.At(1, 0) < 0, check.Equals, true)

	llik, lf = gridLogLik([]float64{1}, []float64{math.Inf(1)}, []float64{1, 2})
	c.Check(llik.RawRowView(0), check.DeepEquals, []float64{0, 0})
	c.Check(math.IsInf(lf[0], -1), check.Equals, true)
}

func (s *mixtureSuite) TestDiagGMM(c *check.C) {
	rnd := mrand.New(mrand.NewSource(1))
	n := 400
	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		center := -5.0
		if i%4 == 0 {
			center = 5
		}
		x.Set(i, 0, center+rnd.NormFloat64()*0.5)
		x.Set(i, 1, -center+rnd.NormFloat64()*0.5)
	}
	g := &diagGMM{Components: 2, MaxIter: 1000, Tol: 1e-3, RegCovar: 1e-6, Rand: rand.New(rand.NewSource(9))}
	c.Assert(g.Fit(x), check.IsNil)
	c.Check(g.Iterations > 0, check.Equals, true)
	w := append([]float64(nil), g.Weights...)
	if w[0] > w[1] {
		w[0], w[1] = w[1], w[0]
	}
	c.Check(math.Abs(w[0]-0.25) < 0.01, check.Equals, true, check.Commentf("weights %v", g.Weights))
	c.Check(math.Abs(w[0]+w[1]-1) < 1e-9, check.Equals, true)
	for k := range g.Variances {
		for _, v := range g.Variances[k] {
			c.Check(v > 0.1 && v < 0.5, check.Equals, true, check.Commentf("variances %v", g.Variances))
		}
	}
}

func (s *mixtureSuite) TestDiagGMMNotConverged(c *check.C) {
	rnd := mrand.New(mrand.NewSource(2))
	x := mat.NewDense(50, 3, nil)
	for i := 0; i < 50; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, rnd.NormFloat64())
		}
	}
	g := &diagGMM{Components: 5, MaxIter: 1, Tol: 1e-12, RegCovar: 1e-6, Rand: rand.New(rand.NewSource(1))}
	c.Check(g.Fit(x), check.Equals, ErrMixtureNotConverged)
	c.Check(g.Weights, check.HasLen, 5)
	c.Check(g.Iterations, check.Equals, 1)

	g = &diagGMM{Components: 60, MaxIter: 10, Tol: 1e-3, RegCovar: 1e-6, Rand: rand.New(rand.NewSource(1))}
	c.Check(g.Fit(x), check.NotNil)
}

func (s *mixtureSuite) TestMixtureNotConvergedIsWarning(c *check.C) {
	rnd := mrand.New(mrand.NewSource(6))
	r := ar1(30, 0.9)
	sp, err := Eigen(r)
	c.Assert(err, check.IsNil)
	z := consistentZ(rnd, sp)
	res, err := Kriging(locusFromZ(z, r, 10000), KrigingConfig{
		RTol:     1e-8,
		Spectrum: sp,
		Mixture:  MixtureConfig{MaxIter: 1, Tol: 1e-300, Seed: 3},
	})
	c.Assert(err, check.IsNil)
	c.Check(res.MixtureConverged, check.Equals, false)
	c.Check(res.Rows, check.HasLen, 30)
	for _, row := range res.Rows {
		c.Check(math.IsNaN(row.LogLR), check.Equals, false)
	}
}

func (s *mixtureSuite) TestSeed(c *check.C) {
	cfg := MixtureConfig{}.withDefaults()
	c.Check(cfg.Seed, check.Not(check.Equals), uint64(0))
	c.Check(cfg.MaxIter, check.Equals, 1000)
	cfg = MixtureConfig{Seed: 5}.withDefaults()
	c.Check(cfg.Seed, check.Equals, uint64(5))

	// must not come from the fixed-seed global source, which would
	// give the same value in every process
	fixed := rand.New(rand.NewSource(1)).Uint64() | 1
	a, b := MixtureConfig{}.withDefaults().Seed, MixtureConfig{}.withDefaults().Seed
	c.Check(a, check.Not(check.Equals), fixed)
	c.Check(a, check.Not(check.Equals), b)
	c.Check(a&1, check.Equals, uint64(1))
}
