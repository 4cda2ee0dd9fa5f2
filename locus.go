// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"errors"
	"fmt"

	"github.com/arvados/ldqc/rss"
	"gonum.org/v1/gonum/mat"
)

var errNoOverlap = errors.New("no variants in common between summary statistics and LD map")

type sumstatRow struct {
	SNPID string
	CHR   string
	BP    int64
	EA    string
	NEA   string
	EAF   float64
	MAF   float64
	Beta  float64
	SE    float64
	P     float64
}

type ldmapRow struct {
	SNPID string
	CHR   string
	BP    int64
	AF2   float64
}

// locus holds one cohort's summary statistics and LD reference for a
// genomic region. R has one row/column per LDMap entry.
type locus struct {
	ID         string
	Popu       string
	Cohort     string
	SampleSize int
	Sumstats   []sumstatRow
	LDMap      []ldmapRow
	HasAF2     bool
	R          *mat.SymDense
}

// label identifies the cohort in result tables.
func (l *locus) label() string {
	return l.Popu + "_" + l.Cohort
}

// intersect returns a copy of l restricted to the variants present in
// both the summary statistics and the LD map, with Sumstats, LDMap
// and R all in LD map order.
func (l *locus) intersect() (*locus, error) {
	if l.R == nil || l.R.Symmetric() != len(l.LDMap) {
		return nil, fmt.Errorf("%s %s: LD matrix size does not match LD map (%d rows)", l.ID, l.label(), len(l.LDMap))
	}
	ssidx := make(map[string]int, len(l.Sumstats))
	for i, row := range l.Sumstats {
		if _, dup := ssidx[row.SNPID]; !dup {
			ssidx[row.SNPID] = i
		}
	}
	var keep []int
	seen := make(map[string]bool, len(l.LDMap))
	for i, row := range l.LDMap {
		if _, ok := ssidx[row.SNPID]; ok && !seen[row.SNPID] {
			keep = append(keep, i)
			seen[row.SNPID] = true
		}
	}
	if len(keep) == 0 {
		return nil, fmt.Errorf("%s %s: %w", l.ID, l.label(), errNoOverlap)
	}
	out := *l
	out.Sumstats = make([]sumstatRow, len(keep))
	out.LDMap = make([]ldmapRow, len(keep))
	out.R = mat.NewSymDense(len(keep), nil)
	for a, i := range keep {
		out.LDMap[a] = l.LDMap[i]
		out.Sumstats[a] = l.Sumstats[ssidx[l.LDMap[i].SNPID]]
		for b := a; b < len(keep); b++ {
			out.R.SetSym(a, b, l.R.At(i, keep[b]))
		}
	}
	return &out, nil
}

// restrict returns a copy of l whose summary statistics include only
// the given variant IDs.
func (l *locus) restrict(ids map[string]bool) *locus {
	out := *l
	out.Sumstats = nil
	for _, row := range l.Sumstats {
		if ids[row.SNPID] {
			out.Sumstats = append(out.Sumstats, row)
		}
	}
	return &out
}

// rssLocus converts an aligned locus to the form used by package rss.
func (l *locus) rssLocus() *rss.Locus {
	rl := &rss.Locus{
		Variants:   make([]rss.Variant, len(l.Sumstats)),
		R:          l.R,
		SampleSize: l.SampleSize,
	}
	for i, row := range l.Sumstats {
		rl.Variants[i] = rss.Variant{
			ID:   row.SNPID,
			Beta: row.Beta,
			SE:   row.SE,
			MAF:  row.MAF,
			P:    row.P,
		}
	}
	return rl
}

// locusSet is all cohorts loaded for one locus ID.
type locusSet struct {
	ID   string
	Loci []*locus
}
