// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"math"

	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"
)

// compareMAF reports the summary statistic MAF next to the LD
// reference allele frequency, for an aligned locus.
func compareMAF(l *locus) *resultTable {
	t := newResultTable("compare_maf", "SNPID", "MAF_sumstats", "MAF_ld", "cohort")
	if !l.HasAF2 {
		log.WithFields(log.Fields{
			"locus":  l.ID,
			"cohort": l.label(),
		}).Warn("LD map has no AF2 column, skipping MAF comparison")
		return t
	}
	for i, row := range l.Sumstats {
		af := l.LDMap[i].AF2
		t.AddRow(row.SNPID, row.MAF, math.Min(af, 1-af), l.label())
	}
	return t
}

// snpMissingness reports, for each variant in any aligned locus,
// whether it is present in each cohort.
func snpMissingness(id string, loci []*locus) *resultTable {
	cols := []string{"SNPID"}
	present := make([]map[string]bool, len(loci))
	var union []string
	seen := map[string]bool{}
	for i, l := range loci {
		cols = append(cols, l.label())
		present[i] = map[string]bool{}
		for _, row := range l.Sumstats {
			present[i][row.SNPID] = true
			if !seen[row.SNPID] {
				seen[row.SNPID] = true
				union = append(union, row.SNPID)
			}
		}
	}
	t := newResultTable("snp_missingness", cols...)
	for _, snp := range union {
		row := []interface{}{snp}
		for i := range loci {
			if present[i][snp] {
				row = append(row, 1)
			} else {
				row = append(row, 0)
			}
		}
		t.AddRow(row...)
	}
	for i, l := range loci {
		rate := 1 - float64(len(present[i]))/float64(len(union))
		entry := log.WithFields(log.Fields{
			"locus":  id,
			"cohort": l.label(),
		})
		if rate > 0.1 {
			entry.Warnf("%.1f%% of variants missing", rate*100)
		} else {
			entry.Infof("%.1f%% of variants missing", rate*100)
		}
	}
	return t
}

// ldFourthMoment reports sum_j r_ij^4 - 1 for each variant present in
// every cohort. If the cohorts share no variants the table is empty.
func ldFourthMoment(set *locusSet) (*resultTable, error) {
	common := map[string]bool{}
	for _, row := range set.Loci[0].Sumstats {
		common[row.SNPID] = true
	}
	for _, l := range set.Loci[1:] {
		here := map[string]bool{}
		for _, row := range l.Sumstats {
			if common[row.SNPID] {
				here[row.SNPID] = true
			}
		}
		common = here
	}

	cols := []string{"SNPID"}
	for _, l := range set.Loci {
		cols = append(cols, l.label())
	}
	if len(common) == 0 {
		log.WithField("locus", set.ID).Warn("ld_4th_moment: no variants shared by all cohorts")
		return newResultTable("ld_4th_moment", cols...), nil
	}
	var order []string
	values := map[string][]float64{}
	for li, l := range set.Loci {
		aligned, err := l.restrict(common).intersect()
		if err != nil {
			return nil, err
		}
		p := aligned.R.Symmetric()
		for i := 0; i < p; i++ {
			var m4 float64
			for j := 0; j < p; j++ {
				r := aligned.R.At(i, j)
				m4 += r * r * r * r
			}
			snp := aligned.Sumstats[i].SNPID
			vals, ok := values[snp]
			if !ok {
				vals = make([]float64, len(set.Loci))
				floats.AddConst(math.NaN(), vals)
				values[snp] = vals
				order = append(order, snp)
			}
			vals[li] = m4 - 1
		}
	}
	t := newResultTable("ld_4th_moment", cols...)
	for _, snp := range order {
		row := []interface{}{snp}
		for _, v := range values[snp] {
			row = append(row, v)
		}
		t.AddRow(row...)
	}
	return t, nil
}

// cochranQ tests heterogeneity of effect sizes across the loci of a
// set, for each variant present in every locus.
func cochranQ(loci []*locus) *resultTable {
	t := newResultTable("cochran_q", "SNPID", "Q", "Q_pvalue", "I_squared")
	byID := make([]map[string]sumstatRow, len(loci))
	for i, l := range loci {
		byID[i] = map[string]sumstatRow{}
		for _, row := range l.Sumstats {
			if _, dup := byID[i][row.SNPID]; !dup {
				byID[i][row.SNPID] = row
			}
		}
	}
	df := float64(len(loci) - 1)
	chi2 := distuv.ChiSquared{K: df}
	beta := make([]float64, len(loci))
	w := make([]float64, len(loci))
	seen := map[string]bool{}
snp:
	for _, first := range loci[0].Sumstats {
		if seen[first.SNPID] {
			continue
		}
		seen[first.SNPID] = true
		for i := range loci {
			row, ok := byID[i][first.SNPID]
			if !ok {
				continue snp
			}
			beta[i] = row.Beta
			w[i] = 1 / (row.SE * row.SE)
		}
		pooled := floats.Dot(w, beta) / floats.Sum(w)
		var q float64
		for i := range beta {
			q += w[i] * (beta[i] - pooled) * (beta[i] - pooled)
		}
		isq := math.NaN()
		if !math.IsNaN(q) {
			isq = math.Max(0, (q-df)/q*100)
		}
		t.AddRow(first.SNPID, q, chi2.Survival(q), isq)
	}
	return t
}
