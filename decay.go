// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"io"
	"log"
	"math"

	"github.com/kshedden/statmodel/glm"
	"github.com/kshedden/statmodel/statmodel"
	"gonum.org/v1/gonum/stat"
)

var decayGLMConfig = &glm.Config{
	Family:    glm.NewFamily(glm.GaussianFamily),
	Link:      glm.NewLink(glm.LogLink),
	FitMethod: "IRLS",
	Log:       log.New(io.Discard, "", 0),
}

const decayBinWidth = 1000

// ldDecay bins pairwise r² by distance (1kb bins) and fits
// r² = a·exp(-b·d) to the bin means, for each locus in the set.
func ldDecay(set *locusSet) *resultTable {
	t := newResultTable("ld_decay", "distance_kb", "r2_avg", "decay_rate", "amplitude", "cohort")
	for _, l := range set.Loci {
		dist, r2avg := decayBins(l)
		if len(dist) == 0 {
			continue
		}
		a, b := fitDecay(dist, r2avg)
		for i := range dist {
			t.AddRow(dist[i], r2avg[i], b, a, l.label())
		}
	}
	return t
}

// decayBins returns the upper edge (in kb) of each distance bin and
// the mean r² of the variant pairs in that bin (0 if none).
func decayBins(l *locus) (distkb, r2avg []float64) {
	p := len(l.LDMap)
	if p < 2 {
		return nil, nil
	}
	minBP, maxBP := l.LDMap[0].BP, l.LDMap[0].BP
	for _, row := range l.LDMap {
		if row.BP < minBP {
			minBP = row.BP
		}
		if row.BP > maxBP {
			maxBP = row.BP
		}
	}
	span := maxBP - minBP
	nbins := int((span + decayBinWidth - 1) / decayBinWidth)
	if nbins < 1 {
		return nil, nil
	}
	sum := make([]float64, nbins)
	count := make([]int, nbins)
	for i := 1; i < p; i++ {
		for j := 0; j < i; j++ {
			d := l.LDMap[i].BP - l.LDMap[j].BP
			if d < 0 {
				d = -d
			}
			bin := int(d / decayBinWidth)
			if bin >= nbins {
				// the last bin includes its upper edge
				bin = nbins - 1
			}
			r := l.R.At(i, j)
			sum[bin] += r * r
			count[bin]++
		}
	}
	distkb = make([]float64, nbins)
	r2avg = make([]float64, nbins)
	for bin := range sum {
		distkb[bin] = float64(bin + 1)
		if count[bin] > 0 {
			r2avg[bin] = sum[bin] / float64(count[bin])
		}
	}
	return distkb, r2avg
}

// fitDecay fits y = a·exp(-b·x) with a Gaussian GLM and log link,
// falling back to least squares on log y if the GLM fails.
func fitDecay(x, y []float64) (a, b float64) {
	a, b, ok := fitDecayGLM(x, y)
	if ok {
		return a, b
	}
	var lx, ly []float64
	for i := range x {
		if y[i] > 0 {
			lx = append(lx, x[i])
			ly = append(ly, math.Log(y[i]))
		}
	}
	if len(lx) < 2 {
		return math.NaN(), math.NaN()
	}
	alpha, beta := stat.LinearRegression(lx, ly, nil, false)
	return math.Exp(alpha), -beta
}

func fitDecayGLM(x, y []float64) (a, b float64, ok bool) {
	if len(x) < 3 {
		return 0, 0, false
	}
	defer func() {
		if recover() != nil {
			// typically a singular design matrix
			ok = false
		}
	}()
	constants := make([]statmodel.Dtype, len(x))
	for i := range constants {
		constants[i] = 1
	}
	names := []string{"r2", "constants", "distance"}
	dataset := statmodel.NewDataset([][]statmodel.Dtype{y, constants, x}, names)
	model, err := glm.NewGLM(dataset, "r2", names[1:], decayGLMConfig)
	if err != nil {
		return 0, 0, false
	}
	params := model.Fit().Params()
	if len(params) != 2 || math.IsNaN(params[0]) || math.IsNaN(params[1]) || math.IsInf(params[0], 0) || math.IsInf(params[1], 0) {
		return 0, 0, false
	}
	return math.Exp(params[0]), -params[1], true
}
