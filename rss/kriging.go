// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// ConditionalRow is the kriging result for one variant.
type ConditionalRow struct {
	ID       string
	Z        float64 // variance-stabilized z
	CondMean float64
	CondVar  float64
	StdDiff  float64
	LogLR    float64
}

// DefaultRTol is the eigenvalue clamp used by Kriging when
// KrigingConfig.RTol is zero.
const DefaultRTol = 1e-8

// KrigingConfig controls Kriging. The zero value estimates s with
// null-mle, clamps eigenvalues below DefaultRTol, and uses a freshly
// seeded mixture fit.
type KrigingConfig struct {
	RTol     float64 // eigenvalues below RTol are treated as zero
	S        *float64  // if nil, estimated with null-mle
	Spectrum *Spectrum // if nil, computed from the locus LD matrix
	Mixture  MixtureConfig
}

type KrigingResult struct {
	Rows []ConditionalRow
	S    float64

	// Mixture fit diagnostics. If MixtureConverged is false the
	// LogLR values were computed from the weights reached after
	// the last EM iteration.
	MixtureConverged  bool
	MixtureIterations int
	MixtureSeed       uint64
}

// Kriging computes, for each variant, the distribution of its z-score
// conditional on all other z-scores under the regularized RSS model,
// and a mixture-model log likelihood ratio for a flipped allele.
func Kriging(l *Locus, cfg KrigingConfig) (*KrigingResult, error) {
	if cfg.RTol == 0 {
		cfg.RTol = DefaultRTol
	}
	z, err := l.stabilizedZ()
	if err != nil {
		return nil, err
	}
	p := len(z)
	if p == 0 {
		return &KrigingResult{MixtureConverged: true}, nil
	}
	sp, err := l.spectrum(cfg.Spectrum)
	if err != nil {
		return nil, err
	}
	var s float64
	if cfg.S != nil {
		s = *cfg.S
	} else {
		s, err = EstimateS(l, NullMLE, cfg.RTol, sp)
		if err != nil {
			return nil, fmt.Errorf("estimate s: %w", err)
		}
	}
	sp = sp.Reversed().Clamped(cfg.RTol)

	dinv := make([]float64, p)
	for k, lambda := range sp.Values {
		dinv[k] = 1 / ((1-s)*lambda + s)
		if math.IsInf(dinv[k], 0) {
			dinv[k] = 0
		}
	}
	prec := sp.precision(dinv)

	res := &KrigingResult{Rows: make([]ConditionalRow, p), S: s}
	condmean := make([]float64, p)
	condvar := make([]float64, p)
	stddiff := make([]float64, p)
	for i := range z {
		row := prec.RawRowView(i)
		pii := row[i]
		if pii == 0 {
			condmean[i], condvar[i], stddiff[i] = 0, math.Inf(1), 0
			continue
		}
		condmean[i] = -(1/pii)*floats.Dot(row[:i], z[:i]) - (1/pii)*floats.Dot(row[i+1:], z[i+1:])
		condvar[i] = 1 / pii
		stddiff[i] = (z[i] - condmean[i]) / math.Sqrt(condvar[i])
	}

	mix, err := scoreMixture(z, condmean, condvar, stddiff, cfg.Mixture)
	if err != nil {
		return nil, err
	}
	res.MixtureConverged = mix.converged
	res.MixtureIterations = mix.iterations
	res.MixtureSeed = mix.seed
	for i, v := range l.Variants {
		res.Rows[i] = ConditionalRow{
			ID:       v.ID,
			Z:        z[i],
			CondMean: condmean[i],
			CondVar:  condvar[i],
			StdDiff:  stddiff[i],
			LogLR:    mix.logLR[i],
		}
	}
	return res, nil
}
