// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	"gonum.org/v1/gonum/mat"
)

// Spectrum holds the eigenvalues of a symmetric matrix in ascending
// order, and the matching eigenvectors as the columns of Vectors.
//
// A Spectrum is read-only once constructed and can be shared between
// goroutines.
type Spectrum struct {
	Values  []float64
	Vectors *mat.Dense
}

// Eigen decomposes the symmetric matrix r. It does not check that r is
// positive semidefinite: small negative eigenvalues are returned as
// is, and are zeroed later by Clamped.
func Eigen(r mat.Symmetric) (*Spectrum, error) {
	var eig mat.EigenSym
	if !eig.Factorize(r, true) {
		return nil, ErrEigenFailed
	}
	sp := &Spectrum{
		Values:  eig.Values(nil),
		Vectors: &mat.Dense{},
	}
	eig.VectorsTo(sp.Vectors)
	return sp, nil
}

// Len returns the number of eigenvalues.
func (sp *Spectrum) Len() int {
	return len(sp.Values)
}

// Clamped returns a copy of sp with every eigenvalue below tol set to
// exactly zero. The eigenvector matrix is shared with sp.
func (sp *Spectrum) Clamped(tol float64) *Spectrum {
	vals := make([]float64, len(sp.Values))
	for i, v := range sp.Values {
		if v >= tol {
			vals[i] = v
		}
	}
	return &Spectrum{Values: vals, Vectors: sp.Vectors}
}

// Reversed returns a copy of sp with eigenvalues in descending order
// and eigenvector columns permuted to match.
func (sp *Spectrum) Reversed() *Spectrum {
	p := len(sp.Values)
	vals := make([]float64, p)
	vecs := mat.NewDense(p, p, nil)
	for k := 0; k < p; k++ {
		vals[k] = sp.Values[p-1-k]
		for i := 0; i < p; i++ {
			vecs.Set(i, k, sp.Vectors.At(i, p-1-k))
		}
	}
	return &Spectrum{Values: vals, Vectors: vecs}
}

// precision returns V diag(dinv) Vᵗ.
func (sp *Spectrum) precision(dinv []float64) *mat.Dense {
	p := len(sp.Values)
	scaled := mat.DenseCopyOf(sp.Vectors)
	for k := 0; k < p; k++ {
		for i := 0; i < p; i++ {
			scaled.Set(i, k, scaled.At(i, k)*dinv[k])
		}
	}
	prec := mat.NewDense(p, p, nil)
	prec.Mul(scaled, sp.Vectors.T())
	return prec
}
