// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package rss

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// DentistRow is the Dentist-S result for one variant.
type DentistRow struct {
	ID   string
	T    float64
	LogP float64 // log of the chi-squared(1) survival function at T
}

// LeadVariant returns the index of the variant with the smallest
// p-value (first one wins ties), or -1 if no variant has a p-value.
func (l *Locus) LeadVariant() int {
	lead := -1
	for i, v := range l.Variants {
		if math.IsNaN(v.P) {
			continue
		}
		if lead < 0 || v.P < l.Variants[lead].P {
			lead = i
		}
	}
	return lead
}

// Dentist computes the Dentist-S statistic of each variant against the
// lead variant:
//
//	t = (z_j - r·z_lead)² / (1 - r²)
//
// The lead variant's own statistic is NaN. A non-positive denominator
// (|r| >= 1 after rounding) yields +Inf unless the numerator is zero.
func Dentist(l *Locus) []DentistRow {
	rows := make([]DentistRow, len(l.Variants))
	z := l.Z()
	lead := l.LeadVariant()
	for j, v := range l.Variants {
		rows[j].ID = v.ID
		if lead < 0 || j == lead {
			rows[j].T = math.NaN()
			rows[j].LogP = math.NaN()
			continue
		}
		r := l.R.At(j, lead)
		num := z[j] - r*z[lead]
		num *= num
		den := 1 - r*r
		var t float64
		switch {
		case num == 0:
			t = 0
		case den <= 0:
			t = math.Inf(1)
		default:
			t = num / den
		}
		if t < 0 {
			t = math.Inf(1)
		}
		rows[j].T = t
		rows[j].LogP = chi2LogSF1(t)
	}
	return rows
}

var chi2df1 = distuv.ChiSquared{K: 1}

// chi2LogSF1 returns the log survival function of the chi-squared
// distribution with one degree of freedom. The survival function is
// erfc(sqrt(t/2)); once it underflows, the asymptotic expansion of
// log erfc is used instead.
func chi2LogSF1(t float64) float64 {
	switch {
	case math.IsNaN(t):
		return math.NaN()
	case math.IsInf(t, 1):
		return math.Inf(-1)
	case t <= 0:
		return 0
	}
	if sf := chi2df1.Survival(t); sf > 1e-300 {
		return math.Log(sf)
	}
	x := math.Sqrt(t / 2)
	x2 := x * x
	return -x2 - math.Log(x) - 0.5*math.Log(math.Pi) + math.Log1p(-1/(2*x2)+3/(4*x2*x2))
}
