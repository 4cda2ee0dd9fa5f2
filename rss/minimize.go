// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	"math"
)

const (
	defaultXATol   = 1e-5
	boundedMaxIter = 500
)

var (
	sqrtEps    = math.Sqrt(2.220446049250313e-16)
	goldenMean = 0.5 * (3 - math.Sqrt(5))
)

type boundedResult struct {
	X         float64
	F         float64
	Evals     int
	Converged bool
}

// minimizeBounded finds a local minimum of f in the open interval
// (lo, hi) using Brent's method (golden section search combined with
// successive parabolic interpolation). f is never evaluated at lo or
// hi.
func minimizeBounded(f func(float64) float64, lo, hi, xatol float64) boundedResult {
	a, b := lo, hi
	fulc := a + goldenMean*(b-a)
	nfc, xf := fulc, fulc
	var rat, e float64
	fx := f(xf)
	evals := 1
	fu := math.Inf(1)
	ffulc, fnfc := fx, fx
	xm := 0.5 * (a + b)
	tol1 := sqrtEps*math.Abs(xf) + xatol/3
	tol2 := 2 * tol1

	converged := true
	for math.Abs(xf-xm) > tol2-0.5*(b-a) {
		golden := true
		if math.Abs(e) > tol1 {
			golden = false
			r := (xf - nfc) * (fx - ffulc)
			q := (xf - fulc) * (fx - fnfc)
			p := (xf-fulc)*q - (xf-nfc)*r
			q = 2 * (q - r)
			if q > 0 {
				p = -p
			}
			q = math.Abs(q)
			r = e
			e = rat
			if math.Abs(p) < math.Abs(0.5*q*r) && p > q*(a-xf) && p < q*(b-xf) {
				rat = p / q
				x := xf + rat
				if x-a < tol2 || b-x < tol2 {
					rat = tol1 * signOrOne(xm-xf)
				}
			} else {
				golden = true
			}
		}
		if golden {
			if xf >= xm {
				e = a - xf
			} else {
				e = b - xf
			}
			rat = goldenMean * e
		}
		x := xf + signOrOne(rat)*math.Max(math.Abs(rat), tol1)
		fu = f(x)
		evals++

		if fu <= fx {
			if x >= xf {
				a = xf
			} else {
				b = xf
			}
			fulc, ffulc = nfc, fnfc
			nfc, fnfc = xf, fx
			xf, fx = x, fu
		} else {
			if x < xf {
				a = x
			} else {
				b = x
			}
			if fu <= fnfc || nfc == xf {
				fulc, ffulc = nfc, fnfc
				nfc, fnfc = x, fu
			} else if fu <= ffulc || fulc == xf || fulc == nfc {
				fulc, ffulc = x, fu
			}
		}
		xm = 0.5 * (a + b)
		tol1 = sqrtEps*math.Abs(xf) + xatol/3
		tol2 = 2 * tol1
		if evals >= boundedMaxIter {
			converged = false
			break
		}
	}
	if math.IsNaN(xf) || math.IsNaN(fx) || math.IsNaN(fu) {
		converged = false
	}
	return boundedResult{X: xf, F: fx, Evals: evals, Converged: converged}
}

// signOrOne returns the sign of x, treating 0 as positive.
func signOrOne(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}
