// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/kshedden/gonpy"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

var errMalformedTable = errors.New("malformed table")

// lociTableRow is one row of the loci-qc input table.
type lociTableRow struct {
	LocusID    string
	Prefix     string
	Popu       string
	Cohort     string
	SampleSize int
}

// tsvReader reads a tab-separated file with a header line.
type tsvReader struct {
	name    string
	scanner *bufio.Scanner
	columns map[string]int
	line    int
	fields  []string
}

func newTSVReader(name string, r io.Reader) (*tsvReader, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<28)
	tr := &tsvReader{name: name, scanner: scanner, columns: map[string]int{}}
	if !tr.next() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return nil, fmt.Errorf("%s: %w: no header", name, errMalformedTable)
	}
	for i, col := range tr.fields {
		tr.columns[strings.TrimSpace(col)] = i
	}
	return tr, nil
}

func (tr *tsvReader) next() bool {
	for tr.scanner.Scan() {
		tr.line++
		line := strings.TrimRight(tr.scanner.Text(), "\r")
		if line == "" {
			continue
		}
		tr.fields = strings.Split(line, "\t")
		return true
	}
	return false
}

func (tr *tsvReader) Err() error {
	if err := tr.scanner.Err(); err != nil {
		return fmt.Errorf("%s: %w", tr.name, err)
	}
	return nil
}

func (tr *tsvReader) has(col string) bool {
	_, ok := tr.columns[col]
	return ok
}

func (tr *tsvReader) require(cols ...string) error {
	var missing []string
	for _, col := range cols {
		if !tr.has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: %w: missing column(s) %s", tr.name, errMalformedTable, strings.Join(missing, ", "))
	}
	return nil
}

func (tr *tsvReader) str(col string) string {
	i, ok := tr.columns[col]
	if !ok || i >= len(tr.fields) {
		return ""
	}
	return strings.TrimSpace(tr.fields[i])
}

// float returns the value in the named column, or NaN if the column
// is absent, empty, or NA. Other unparseable values are errors.
func (tr *tsvReader) float(col string) (float64, error) {
	s := tr.str(col)
	switch strings.ToLower(s) {
	case "", "na", "nan", ".":
		return math.NaN(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s line %d: %w: column %s: %q", tr.name, tr.line, errMalformedTable, col, s)
	}
	return f, nil
}

func (tr *tsvReader) int(col string) (int64, error) {
	s := tr.str(col)
	if s == "" {
		return 0, nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) {
			return 0, fmt.Errorf("%s line %d: %w: column %s: %q", tr.name, tr.line, errMalformedTable, col, s)
		}
		i = int64(f)
	}
	return i, nil
}

func readLociTable(fnm string) ([]lociTableRow, error) {
	f, err := zopen(fnm)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseLociTable(fnm, f)
}

func parseLociTable(name string, r io.Reader) ([]lociTableRow, error) {
	tr, err := newTSVReader(name, r)
	if err != nil {
		return nil, err
	}
	err = tr.require("locus_id", "prefix", "popu", "cohort", "sample_size")
	if err != nil {
		return nil, err
	}
	var rows []lociTableRow
	for tr.next() {
		n, err := tr.int("sample_size")
		if err != nil {
			return nil, err
		}
		row := lociTableRow{
			LocusID:    tr.str("locus_id"),
			Prefix:     tr.str("prefix"),
			Popu:       tr.str("popu"),
			Cohort:     tr.str("cohort"),
			SampleSize: int(n),
		}
		if row.LocusID == "" || row.Prefix == "" {
			return nil, fmt.Errorf("%s line %d: %w: empty locus_id or prefix", name, tr.line, errMalformedTable)
		}
		rows = append(rows, row)
	}
	if err := tr.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// groupLoci groups table rows by locus ID, in order of first
// appearance.
func groupLoci(rows []lociTableRow) [][]lociTableRow {
	var groups [][]lociTableRow
	idx := map[string]int{}
	for _, row := range rows {
		i, ok := idx[row.LocusID]
		if !ok {
			i = len(groups)
			idx[row.LocusID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], row)
	}
	return groups
}

func loadLocusSet(rows []lociTableRow) (*locusSet, error) {
	set := &locusSet{ID: rows[0].LocusID}
	for _, row := range rows {
		l, err := loadLocus(row)
		if err != nil {
			return nil, err
		}
		set.Loci = append(set.Loci, l)
	}
	return set, nil
}

// loadLocus reads the summary statistics, LD map, and LD matrix for
// one input table row.
func loadLocus(row lociTableRow) (*locus, error) {
	l := &locus{
		ID:         row.LocusID,
		Popu:       row.Popu,
		Cohort:     row.Cohort,
		SampleSize: row.SampleSize,
	}
	var err error
	l.Sumstats, err = readSumstats(row.Prefix + ".sumstats")
	if err != nil {
		return nil, err
	}
	l.LDMap, l.HasAF2, err = readLDMap(row.Prefix + ".ldmap")
	if err != nil {
		return nil, err
	}
	l.R, err = readLD(row.Prefix + ".ld")
	if err != nil {
		return nil, err
	}
	if l.R.Symmetric() != len(l.LDMap) {
		return nil, fmt.Errorf("%s: LD matrix is %dx%d but LD map has %d rows", row.Prefix, l.R.Symmetric(), l.R.Symmetric(), len(l.LDMap))
	}
	log.WithFields(log.Fields{
		"locus":    l.ID,
		"cohort":   l.label(),
		"sumstats": len(l.Sumstats),
		"ld":       len(l.LDMap),
	}).Debug("loaded locus")
	return l, nil
}

func readSumstats(base string) ([]sumstatRow, error) {
	f, fnm, err := zopenFirst(base, base+".gz")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseSumstats(fnm, f)
}

func parseSumstats(name string, r io.Reader) ([]sumstatRow, error) {
	tr, err := newTSVReader(name, r)
	if err != nil {
		return nil, err
	}
	if err := tr.require("SNPID", "BETA", "SE", "P"); err != nil {
		return nil, err
	}
	var rows []sumstatRow
	for tr.next() {
		row := sumstatRow{
			SNPID: tr.str("SNPID"),
			CHR:   tr.str("CHR"),
			EA:    tr.str("EA"),
			NEA:   tr.str("NEA"),
		}
		if row.BP, err = tr.int("BP"); err != nil {
			return nil, err
		}
		for _, fld := range []struct {
			col string
			dst *float64
		}{
			{"EAF", &row.EAF},
			{"MAF", &row.MAF},
			{"BETA", &row.Beta},
			{"SE", &row.SE},
			{"P", &row.P},
		} {
			if *fld.dst, err = tr.float(fld.col); err != nil {
				return nil, err
			}
		}
		if math.IsNaN(row.MAF) && !math.IsNaN(row.EAF) {
			row.MAF = math.Min(row.EAF, 1-row.EAF)
		}
		rows = append(rows, row)
	}
	return rows, tr.Err()
}

func readLDMap(base string) ([]ldmapRow, bool, error) {
	f, fnm, err := zopenFirst(base, base+".gz")
	if err != nil {
		return nil, false, err
	}
	defer f.Close()
	return parseLDMap(fnm, f)
}

func parseLDMap(name string, r io.Reader) ([]ldmapRow, bool, error) {
	tr, err := newTSVReader(name, r)
	if err != nil {
		return nil, false, err
	}
	if err := tr.require("SNPID"); err != nil {
		return nil, false, err
	}
	hasAF2 := tr.has("AF2")
	var rows []ldmapRow
	for tr.next() {
		row := ldmapRow{
			SNPID: tr.str("SNPID"),
			CHR:   tr.str("CHR"),
			AF2:   math.NaN(),
		}
		if row.BP, err = tr.int("BP"); err != nil {
			return nil, false, err
		}
		if hasAF2 {
			if row.AF2, err = tr.float("AF2"); err != nil {
				return nil, false, err
			}
		}
		rows = append(rows, row)
	}
	return rows, hasAF2, tr.Err()
}

// readLD reads base+".npy" if it exists, otherwise a whitespace
// separated text matrix from base or base+".gz".
func readLD(base string) (*mat.SymDense, error) {
	f, fnm, err := zopenFirst(base+".npy", base, base+".gz")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if strings.HasSuffix(fnm, ".npy") {
		return parseLDNumpy(fnm, f)
	}
	return parseLDText(fnm, f)
}

func parseLDNumpy(name string, r io.Reader) (*mat.SymDense, error) {
	npy, err := gonpy.NewReader(bufio.NewReader(r))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(npy.Shape) != 2 || npy.Shape[0] != npy.Shape[1] {
		return nil, fmt.Errorf("%s: %w: shape %v is not square", name, errMalformedTable, npy.Shape)
	}
	var data []float64
	switch npy.Dtype {
	case "f8":
		data, err = npy.GetFloat64()
	case "f4":
		var f32 []float32
		f32, err = npy.GetFloat32()
		data = make([]float64, len(f32))
		for i, v := range f32 {
			data[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %q", name, npy.Dtype)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return symmetric(name, npy.Shape[0], data)
}

func parseLDText(name string, r io.Reader) (*mat.SymDense, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<30)
	var data []float64
	p := -1
	rows := 0
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if p < 0 {
			p = len(fields)
			data = make([]float64, 0, p*p)
		} else if len(fields) != p {
			return nil, fmt.Errorf("%s line %d: %w: %d fields, expected %d", name, rows+1, errMalformedTable, len(fields), p)
		}
		for _, s := range fields {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d: %w: %q", name, rows+1, errMalformedTable, s)
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if p < 0 {
		return nil, fmt.Errorf("%s: %w: empty LD matrix", name, errMalformedTable)
	}
	if rows != p {
		return nil, fmt.Errorf("%s: %w: %d rows, %d columns", name, errMalformedTable, rows, p)
	}
	return symmetric(name, p, data)
}

// symmetric returns the p×p row-major data as a SymDense, taking the
// upper triangle. Asymmetry beyond rounding error is logged.
func symmetric(name string, p int, data []float64) (*mat.SymDense, error) {
	if len(data) != p*p {
		return nil, fmt.Errorf("%s: %w: %d values for %dx%d matrix", name, errMalformedTable, len(data), p, p)
	}
	if p == 0 {
		return nil, fmt.Errorf("%s: %w: empty LD matrix", name, errMalformedTable)
	}
	var maxdiff float64
	for i := 0; i < p; i++ {
		for j := i + 1; j < p; j++ {
			if d := math.Abs(data[i*p+j] - data[j*p+i]); d > maxdiff {
				maxdiff = d
			}
		}
	}
	if maxdiff > 1e-6 {
		log.Warnf("%s: LD matrix is not symmetric (max difference %g), using upper triangle", name, maxdiff)
	}
	return mat.NewSymDense(p, data), nil
}
