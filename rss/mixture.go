// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const (
	gridMin   = 0.8
	gridRatio = 1.05

	// Added to mixture weights before taking logs.
	weightEpsilon = 1e-15
)

// MixtureConfig controls the Gaussian mixture fit used by Kriging.
//
// The fit is initialized with k-means++, which is random. With Seed==0
// a new seed is drawn from crypto/rand for every call, so LogLR values
// can differ slightly between runs; the seed actually used is reported
// in KrigingResult.MixtureSeed.
type MixtureConfig struct {
	MaxIter  int     // default 1000
	Tol      float64 // lower bound change, default 1e-3
	RegCovar float64 // default 1e-6
	Seed     uint64
}

// DefaultMixtureConfig returns the settings used when a MixtureConfig
// field is zero.
func DefaultMixtureConfig() MixtureConfig {
	return MixtureConfig{MaxIter: 1000, Tol: 1e-3, RegCovar: 1e-6}
}

func (cfg MixtureConfig) withDefaults() MixtureConfig {
	def := DefaultMixtureConfig()
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = def.MaxIter
	}
	if cfg.Tol <= 0 {
		cfg.Tol = def.Tol
	}
	if cfg.RegCovar <= 0 {
		cfg.RegCovar = def.RegCovar
	}
	if cfg.Seed == 0 {
		cfg.Seed = freshSeed()
	}
	return cfg
}

// freshSeed returns a non-zero seed that differs between processes.
func freshSeed() uint64 {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano()) | 1
	}
	return binary.LittleEndian.Uint64(buf[:]) | 1
}

// scaleGrid returns the geometric grid of standard deviation
// multipliers, a_max·1.05^k for k = -npoint..0. npoint is capped at
// p-1 so the mixture has no more components than observations.
func scaleGrid(stddiff []float64) []float64 {
	maxsq := 0.0
	for _, d := range stddiff {
		if sq := d * d; !math.IsNaN(sq) && !math.IsInf(sq, 0) && sq > maxsq {
			maxsq = sq
		}
	}
	amax := 2.0
	if maxsq >= 1 {
		amax = 2 * math.Sqrt(maxsq)
	}
	npoint := int(math.Ceil(math.Log2(amax/gridMin) / math.Log2(gridRatio)))
	if npoint > len(stddiff)-1 {
		npoint = len(stddiff) - 1
	}
	if npoint < 0 {
		npoint = 0
	}
	grid := make([]float64, npoint+1)
	for k := -npoint; k <= 0; k++ {
		grid[k+npoint] = math.Pow(gridRatio, float64(k)) * amax
	}
	return grid
}

// gridLogLik returns, for each variant i and grid scale a, the
// log-density of resid[i] under N(0, condvar[i]·a²), with each row
// shifted by its maximum. The row maxima are returned separately.
func gridLogLik(resid, condvar, grid []float64) (*mat.Dense, []float64) {
	p, k := len(resid), len(grid)
	llik := mat.NewDense(p, k, nil)
	lfactors := make([]float64, p)
	for i, r := range resid {
		sd := math.Sqrt(condvar[i])
		row := llik.RawRowView(i)
		max := math.Inf(-1)
		for j, a := range grid {
			row[j] = normLogPDF(r, 0, sd*a)
			if row[j] > max {
				max = row[j]
			}
		}
		lfactors[i] = max
		if math.IsInf(max, 0) || math.IsNaN(max) {
			// no usable information in this row
			for j := range row {
				row[j] = 0
			}
			continue
		}
		for j := range row {
			row[j] -= max
		}
	}
	return llik, lfactors
}

// mixtureLogLik returns log(Σ exp(llik)·(w+ε)) + lfactor for each row.
func mixtureLogLik(llik *mat.Dense, lfactors, w []float64) []float64 {
	p, _ := llik.Dims()
	out := make([]float64, p)
	for i := 0; i < p; i++ {
		var sum float64
		for j, v := range llik.RawRowView(i) {
			sum += math.Exp(v) * (w[j] + weightEpsilon)
		}
		out[i] = math.Log(sum) + lfactors[i]
	}
	return out
}

type mixtureScore struct {
	logLR      []float64
	converged  bool
	iterations int
	seed       uint64
}

// scoreMixture fits mixture weights over the scale grid to the null
// (z - condmean) likelihood profile, then compares the allele-flip
// hypothesis (z + condmean) against it.
func scoreMixture(z, condmean, condvar, stddiff []float64, cfg MixtureConfig) (*mixtureScore, error) {
	cfg = cfg.withDefaults()
	p := len(z)
	grid := scaleGrid(stddiff)

	resid := make([]float64, p)
	for i := range z {
		resid[i] = z[i] - condmean[i]
	}
	llik0, lf0 := gridLogLik(resid, condvar, grid)

	gmm := &diagGMM{
		Components: len(grid),
		MaxIter:    cfg.MaxIter,
		Tol:        cfg.Tol,
		RegCovar:   cfg.RegCovar,
		Rand:       rand.New(rand.NewSource(cfg.Seed)),
	}
	err := gmm.Fit(llik0)
	converged := true
	if errors.Is(err, ErrMixtureNotConverged) {
		converged = false
	} else if err != nil {
		return nil, err
	}
	logl0 := mixtureLogLik(llik0, lf0, gmm.Weights)

	for i := range z {
		resid[i] = z[i] + condmean[i]
	}
	llik1, lf1 := gridLogLik(resid, condvar, grid)
	logl1 := mixtureLogLik(llik1, lf1, gmm.Weights)

	for i := range logl1 {
		logl1[i] -= logl0[i]
	}
	return &mixtureScore{
		logLR:      logl1,
		converged:  converged,
		iterations: gmm.Iterations,
		seed:       cfg.Seed,
	}, nil
}
