// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Method selects the likelihood used to estimate s.
type Method string

const (
	NullMLE        Method = "null-mle"
	NullPartialMLE Method = "null-partialmle"
	NullPseudoMLE  Method = "null-pseudomle"
)

// Methods lists the supported estimation methods.
var Methods = []Method{NullMLE, NullPartialMLE, NullPseudoMLE}

// ParseMethod returns the Method named by s.
func ParseMethod(s string) (Method, error) {
	for _, m := range Methods {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}

// flatTol is the relative difference below which the likelihood at
// s=0 is considered no worse than at the interior optimum.
const flatTol = 1e-10

// EstimateS estimates the RSS noise parameter s for locus l. If sp is
// nil, the eigendecomposition of l.R is computed. Eigenvalues below
// rtol are treated as zero; sp itself is not modified.
//
// When the likelihood is flat between the optimum and s=0 (e.g., R is
// the identity matrix), 0 is returned.
func EstimateS(l *Locus, method Method, rtol float64, sp *Spectrum) (float64, error) {
	z, err := l.stabilizedZ()
	if err != nil {
		return 0, err
	}
	switch method {
	case NullMLE, NullPartialMLE, NullPseudoMLE:
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	if len(z) == 0 {
		return 0, nil
	}
	sp, err = l.spectrum(sp)
	if err != nil {
		return 0, err
	}
	sp = sp.Clamped(rtol)

	switch method {
	case NullMLE:
		ztv := make([]float64, len(z))
		mat.NewVecDense(len(ztv), ztv).MulVec(sp.Vectors.T(), mat.NewVecDense(len(z), z))
		f := func(s float64) float64 {
			return nullNegLogLik(s, ztv, sp.Values)
		}
		return boundedWithFlatCheck(f, sqrtEps), nil
	case NullPartialMLE:
		return partialMLE(z, sp), nil
	default:
		f := func(s float64) float64 {
			return pseudoNegLogLik(s, z, sp)
		}
		return boundedWithFlatCheck(f, defaultXATol), nil
	}
}

func boundedWithFlatCheck(f func(float64) float64, xatol float64) float64 {
	res := minimizeBounded(f, 0, 1, xatol)
	if f0 := f(0); !math.IsNaN(f0) && !math.IsInf(f0, 0) && f0-res.F <= flatTol*math.Max(1, math.Abs(res.F)) {
		return 0
	}
	return res.X
}

// nullNegLogLik is ½Σlog(dᵢ) + ½Σ(zᵗvᵢ)²/dᵢ with dᵢ = (1-s)λᵢ+s.
func nullNegLogLik(s float64, ztv, lambda []float64) float64 {
	var logdet, quad float64
	for i, l := range lambda {
		d := (1-s)*l + s
		logdet += math.Log(d)
		quad += ztv[i] * ztv[i] / d
	}
	return 0.5*logdet + 0.5*quad
}

// partialMLE projects z onto the null space of R and returns the mean
// squared projection, or 0 if R has full rank. A degenerate spectrum
// (every eigenvalue zero) also yields 0.
func partialMLE(z []float64, sp *Spectrum) float64 {
	var null []int
	for k, v := range sp.Values {
		if v <= 0 {
			null = append(null, k)
		}
	}
	if len(null) == 0 || len(null) == len(z) {
		return 0
	}
	var sum float64
	col := make([]float64, len(z))
	for _, k := range null {
		mat.Col(col, k, sp.Vectors)
		proj := floats.Dot(col, z)
		sum += proj * proj
	}
	return sum / float64(len(null))
}

// pseudoNegLogLik is the negative log pseudo-likelihood of z: the sum
// over variants of the leave-one-out conditional Gaussian log density.
func pseudoNegLogLik(s float64, z []float64, sp *Spectrum) float64 {
	dinv := make([]float64, len(sp.Values))
	for k, l := range sp.Values {
		dinv[k] = 1 / ((1-s)*l + s)
	}
	prec := sp.precision(dinv)
	var ll float64
	for i := range z {
		pii := prec.At(i, i)
		mean := -floats.Dot(prec.RawRowView(i), z)/pii + z[i]
		ll += normLogPDF(z[i], mean, math.Sqrt(1/pii))
	}
	return -ll
}

const halfLog2Pi = 0.91893853320467274178032973640562

func normLogPDF(x, mean, sd float64) float64 {
	u := (x - mean) / sd
	return -halfLog2Pi - math.Log(sd) - 0.5*u*u
}
