// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"fmt"
	"math"

	"github.com/arvados/ldqc/rss"
	"github.com/montanaflynn/stats"
	log "github.com/sirupsen/logrus"
)

const (
	// Dentist-S outliers: log p below this
	dentistOutlierLogP = -16.811242831518264 // log(5e-8)

	// Likely allele switch: logLR and |z| both above these
	alleleSwitchLogLR = 2
	alleleSwitchZ     = 2
)

var (
	expectedZColumns  = []string{"SNPID", "z", "condmean", "condvar", "z_std_diff", "logLR", "lambda_s", "cohort"}
	dentistSColumns   = []string{"SNPID", "t_dentist_s", "p_dentist_s", "cohort"}
	compareMAFColumns = []string{"SNPID", "MAF_sumstats", "MAF_ld", "cohort"}
	summaryColumns    = []string{"cohort", "n_variants", "lambda_s", "method", "median_abs_z_std_diff", "p95_logLR", "max_logLR", "n_dentist_outliers", "n_allele_switch", "mixture_converged", "mixture_seed"}
)

type singleLocusQC struct {
	expectedZ  *resultTable
	dentistS   *resultTable
	compareMAF *resultTable
	summary    []interface{}
}

// locusQC runs all QC metrics on a locus set and returns the result
// tables in output order. Cochran's Q and SNP missingness are only
// reported when the set has more than one locus.
func locusQC(set *locusSet, cfg qcConfig, cache *eigenCache) (qcResults, error) {
	if len(set.Loci) == 0 {
		return nil, fmt.Errorf("locus %s: no cohorts", set.ID)
	}
	method, err := rss.ParseMethod(cfg.Method)
	if err != nil {
		return nil, err
	}
	if cache == nil {
		cache = &eigenCache{}
	}
	var ez, ds, cm []*resultTable
	aligned := make([]*locus, len(set.Loci))
	summary := newResultTable("summary", summaryColumns...)
	for i, l := range set.Loci {
		aligned[i], err = l.intersect()
		if err != nil {
			return nil, err
		}
		res, err := singleLocus(aligned[i], method, cfg, cache)
		if err != nil {
			return nil, fmt.Errorf("locus %s cohort %s: %w", l.ID, l.label(), err)
		}
		ez = append(ez, res.expectedZ)
		ds = append(ds, res.dentistS)
		cm = append(cm, res.compareMAF)
		summary.AddRow(res.summary...)
	}
	results := qcResults{
		concatTables("expected_z", expectedZColumns, ez),
		concatTables("dentist_s", dentistSColumns, ds),
		concatTables("compare_maf", compareMAFColumns, cm),
	}
	m4, err := ldFourthMoment(set)
	if err != nil {
		return nil, err
	}
	results = append(results, m4, ldDecay(set))
	if len(set.Loci) > 1 {
		results = append(results, cochranQ(aligned), snpMissingness(set.ID, aligned))
	}
	return append(results, summary), nil
}

// singleLocus runs the per-cohort metrics on an aligned locus. The
// Dentist statistic is computed while s is estimated and the kriging
// predictor is fitted.
func singleLocus(l *locus, method rss.Method, cfg qcConfig, cache *eigenCache) (*singleLocusQC, error) {
	rl := l.rssLocus()
	label := l.label()

	var dentist []rss.DentistRow
	var wg WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dentist = rss.Dentist(rl)
	}()

	kriging, err := func() (*rss.KrigingResult, error) {
		sp, err := cache.Get(rl.R)
		if err != nil {
			return nil, err
		}
		s, err := rss.EstimateS(rl, method, cfg.RTol, sp)
		if err != nil {
			return nil, fmt.Errorf("estimate s: %w", err)
		}
		return rss.Kriging(rl, rss.KrigingConfig{
			RTol:     cfg.RTol,
			S:        &s,
			Spectrum: sp,
			Mixture:  cfg.mixture(),
		})
	}()
	wg.Wait()
	if err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{
		"locus":    l.ID,
		"cohort":   label,
		"lambda_s": kriging.S,
	})
	if !kriging.MixtureConverged {
		logger.WithField("iterations", kriging.MixtureIterations).Warn("mixture fit did not converge, using weights from last iteration")
	}

	res := &singleLocusQC{
		expectedZ:  newResultTable("expected_z", expectedZColumns...),
		dentistS:   newResultTable("dentist_s", dentistSColumns...),
		compareMAF: compareMAF(l),
	}
	var absdiff, loglr []float64
	nswitch := 0
	for _, row := range kriging.Rows {
		res.expectedZ.AddRow(row.ID, row.Z, row.CondMean, row.CondVar, row.StdDiff, row.LogLR, kriging.S, label)
		if !math.IsNaN(row.StdDiff) && !math.IsInf(row.StdDiff, 0) {
			absdiff = append(absdiff, math.Abs(row.StdDiff))
		}
		if !math.IsNaN(row.LogLR) && !math.IsInf(row.LogLR, 0) {
			loglr = append(loglr, row.LogLR)
		}
		if row.LogLR > alleleSwitchLogLR && math.Abs(row.Z) > alleleSwitchZ {
			nswitch++
		}
	}
	noutlier := 0
	for _, row := range dentist {
		res.dentistS.AddRow(row.ID, row.T, row.LogP, label)
		if row.LogP < dentistOutlierLogP {
			noutlier++
		}
	}
	res.summary = []interface{}{
		label,
		len(kriging.Rows),
		kriging.S,
		string(method),
		quantile(absdiff, 50),
		quantile(loglr, 95),
		quantile(loglr, 100),
		noutlier,
		nswitch,
		kriging.MixtureConverged,
		kriging.MixtureSeed,
	}
	logger.WithFields(log.Fields{
		"variants":        len(kriging.Rows),
		"dentistOutliers": noutlier,
		"alleleSwitches":  nswitch,
	}).Info("locus QC done")
	return res, nil
}

// quantile returns the given percentile of data, or NaN if data is
// empty.
func quantile(data []float64, percent float64) float64 {
	var q float64
	var err error
	switch percent {
	case 50:
		q, err = stats.Median(data)
	case 100:
		q, err = stats.Max(data)
	default:
		q, err = stats.Percentile(data, percent)
	}
	if err != nil {
		return math.NaN()
	}
	return q
}
