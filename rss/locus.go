// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

// Package rss implements consistency checks between GWAS summary
// statistics and an LD reference under the regularized RSS model
// z ~ N(0, (1-s)R + sI).
package rss

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidSampleSize   = errors.New("sample size must be greater than 1")
	ErrUnsupportedMethod   = errors.New("unsupported s estimation method")
	ErrEigenFailed         = errors.New("eigendecomposition did not converge")
	ErrMixtureNotConverged = errors.New("mixture fit did not converge")
)

// Variant is one row of aligned summary statistics.
type Variant struct {
	ID   string
	Beta float64
	SE   float64
	MAF  float64
	P    float64
}

// Locus pairs summary statistics with an LD matrix. Variants[i]
// corresponds to row/column i of R; callers are responsible for
// alignment.
type Locus struct {
	Variants   []Variant
	R          *mat.SymDense
	SampleSize int
}

// Z returns Beta/SE for each variant. NaN values are preserved.
func (l *Locus) Z() []float64 {
	z := make([]float64, len(l.Variants))
	for i, v := range l.Variants {
		z[i] = v.Beta / v.SE
	}
	return z
}

// stabilizedZ returns Z with NaN replaced by 0 and the
// variance-stabilizing transform sqrt((n-1)/(z²+n-2))·z applied.
func (l *Locus) stabilizedZ() ([]float64, error) {
	if l.SampleSize <= 1 {
		return nil, ErrInvalidSampleSize
	}
	n := float64(l.SampleSize)
	z := l.Z()
	for i, zi := range z {
		if math.IsNaN(zi) || zi == 0 {
			z[i] = 0
			continue
		}
		z[i] = math.Sqrt((n-1)/(zi*zi+n-2)) * zi
	}
	return z, nil
}

// spectrum returns sp, or the eigendecomposition of l.R if sp is nil.
func (l *Locus) spectrum(sp *Spectrum) (*Spectrum, error) {
	if sp != nil {
		return sp, nil
	}
	return Eigen(l.R)
}
