// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	kmeansMaxIter = 300
	log2Pi        = 1.8378770664093454835606594728112
	machEps       = 2.220446049250313e-16
)

// diagGMM is a Gaussian mixture model with diagonal covariances,
// fitted by expectation-maximization from a k-means initialization.
type diagGMM struct {
	Components int
	MaxIter    int
	Tol        float64
	RegCovar   float64
	Rand       *rand.Rand

	// Fitted parameters.
	Weights    []float64
	Means      [][]float64
	Variances  [][]float64
	LowerBound float64
	Iterations int
}

// Fit estimates the mixture parameters from the rows of x. If EM does
// not converge within MaxIter iterations the parameters from the last
// iteration are kept and ErrMixtureNotConverged is returned.
func (g *diagGMM) Fit(x *mat.Dense) error {
	n, _ := x.Dims()
	k := g.Components
	if k < 1 || n < k {
		return fmt.Errorf("cannot fit %d mixture components to %d observations", k, n)
	}
	resp := mat.NewDense(n, k, nil)
	for i, label := range g.kmeans(x) {
		resp.Set(i, label, 1)
	}
	g.mstep(x, resp)

	g.LowerBound = math.Inf(-1)
	for iter := 1; iter <= g.MaxIter; iter++ {
		prev := g.LowerBound
		g.LowerBound = g.estep(x, resp)
		g.mstep(x, resp)
		g.Iterations = iter
		if math.Abs(g.LowerBound-prev) < g.Tol {
			return nil
		}
	}
	return ErrMixtureNotConverged
}

// estep replaces resp with the posterior component probabilities and
// returns the mean per-observation log likelihood.
func (g *diagGMM) estep(x *mat.Dense, resp *mat.Dense) float64 {
	n, d := x.Dims()
	k := g.Components
	logw := make([]float64, k)
	lognorm := make([]float64, k)
	for c := 0; c < k; c++ {
		logw[c] = math.Log(g.Weights[c])
		var sumlog float64
		for _, v := range g.Variances[c] {
			sumlog += math.Log(v)
		}
		lognorm[c] = -0.5 * (float64(d)*log2Pi + sumlog)
	}
	var total float64
	for i := 0; i < n; i++ {
		xi := x.RawRowView(i)
		ri := resp.RawRowView(i)
		for c := 0; c < k; c++ {
			mu, v := g.Means[c], g.Variances[c]
			var q float64
			for j, xij := range xi {
				diff := xij - mu[j]
				q += diff * diff / v[j]
			}
			ri[c] = lognorm[c] - 0.5*q + logw[c]
		}
		lse := floats.LogSumExp(ri)
		for c := range ri {
			ri[c] = math.Exp(ri[c] - lse)
		}
		total += lse
	}
	return total / float64(n)
}

// mstep updates weights, means and variances from resp.
func (g *diagGMM) mstep(x *mat.Dense, resp *mat.Dense) {
	n, d := x.Dims()
	k := g.Components
	g.Weights = make([]float64, k)
	g.Means = make([][]float64, k)
	g.Variances = make([][]float64, k)
	for c := 0; c < k; c++ {
		nk := 10 * machEps
		mu := make([]float64, d)
		sq := make([]float64, d)
		for i := 0; i < n; i++ {
			r := resp.At(i, c)
			if r == 0 {
				continue
			}
			nk += r
			for j, xij := range x.RawRowView(i) {
				mu[j] += r * xij
				sq[j] += r * xij * xij
			}
		}
		v := make([]float64, d)
		for j := range mu {
			mu[j] /= nk
			v[j] = sq[j]/nk - mu[j]*mu[j] + g.RegCovar
			if v[j] < g.RegCovar {
				v[j] = g.RegCovar
			}
		}
		g.Weights[c] = nk / float64(n)
		g.Means[c] = mu
		g.Variances[c] = v
	}
}

// kmeans clusters the rows of x into g.Components groups using
// k-means++ seeding followed by Lloyd iterations, and returns the
// cluster label of each row.
func (g *diagGMM) kmeans(x *mat.Dense) []int {
	n, d := x.Dims()
	k := g.Components
	centers := make([][]float64, 0, k)
	centers = append(centers, append([]float64(nil), x.RawRowView(g.Rand.Intn(n))...))
	dist := make([]float64, n)
	for i := range dist {
		dist[i] = sqDist(x.RawRowView(i), centers[0])
	}
	for len(centers) < k {
		total := floats.Sum(dist)
		next := g.Rand.Intn(n)
		if total > 0 {
			target := g.Rand.Float64() * total
			for i, v := range dist {
				target -= v
				if target <= 0 {
					next = i
					break
				}
			}
		}
		centers = append(centers, append([]float64(nil), x.RawRowView(next)...))
		for i := range dist {
			if dd := sqDist(x.RawRowView(i), centers[len(centers)-1]); dd < dist[i] {
				dist[i] = dd
			}
		}
	}

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	counts := make([]int, k)
	sums := make([][]float64, k)
	for c := range sums {
		sums[c] = make([]float64, d)
	}
	for iter := 0; iter < kmeansMaxIter; iter++ {
		changed := false
		for i := 0; i < n; i++ {
			xi := x.RawRowView(i)
			best, bestd := 0, math.Inf(1)
			for c, ctr := range centers {
				if dd := sqDist(xi, ctr); dd < bestd {
					best, bestd = c, dd
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}
		for c := range sums {
			counts[c] = 0
			for j := range sums[c] {
				sums[c][j] = 0
			}
		}
		for i, c := range labels {
			counts[c]++
			floats.Add(sums[c], x.RawRowView(i))
		}
		for c, sum := range sums {
			// an empty cluster keeps its previous center
			if counts[c] > 0 {
				floats.ScaleTo(centers[c], 1/float64(counts[c]), sum)
			}
		}
	}
	return labels
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i, v := range a {
		diff := v - b[i]
		sum += diff * diff
	}
	return sum
}
