// Copyright (C) The Lightning Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package ldqc

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

// resultTable is one named QC output table. Values are formatted when
// the row is added.
type resultTable struct {
	Name    string
	Columns []string
	Rows    [][]string
}

func newResultTable(name string, columns ...string) *resultTable {
	return &resultTable{Name: name, Columns: columns}
}

// AddRow appends a row. Each value must be a string, float64, int,
// int64, uint64, or bool.
func (t *resultTable) AddRow(values ...interface{}) {
	if len(values) != len(t.Columns) {
		panic(fmt.Sprintf("%s: row has %d values, table has %d columns", t.Name, len(values), len(t.Columns)))
	}
	row := make([]string, len(values))
	for i, v := range values {
		row[i] = formatValue(v)
	}
	t.Rows = append(t.Rows, row)
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return formatFloat(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		panic(fmt.Sprintf("unsupported value type %T", v))
	}
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Column returns the values in the named column, or nil if there is
// no such column.
func (t *resultTable) Column(name string) []string {
	for i, col := range t.Columns {
		if col == name {
			out := make([]string, len(t.Rows))
			for r, row := range t.Rows {
				out[r] = row[i]
			}
			return out
		}
	}
	return nil
}

func (t *resultTable) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, fields := range append([][]string{t.Columns}, t.Rows...) {
		nn, err := io.WriteString(w, strings.Join(fields, "\t")+"\n")
		n += int64(nn)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// concatTables returns a table with the rows of all given tables,
// which must have the same name and columns.
func concatTables(name string, columns []string, tables []*resultTable) *resultTable {
	out := newResultTable(name, columns...)
	for _, t := range tables {
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

type qcResults []*resultTable

// Table returns the named table, or nil.
func (res qcResults) Table(name string) *resultTable {
	for _, t := range res {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// WriteDir writes each table to dir/{name}.txt, or dir/{name}.txt.gz
// if gz is true.
func (res qcResults) WriteDir(dir string, gz bool) error {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return err
	}
	for _, t := range res {
		fnm := filepath.Join(dir, t.Name+".txt")
		if gz {
			fnm += ".gz"
		}
		err := writeTableFile(fnm, t, gz)
		if err != nil {
			return err
		}
	}
	return nil
}

func writeTableFile(fnm string, t *resultTable, gz bool) error {
	f, err := os.Create(fnm)
	if err != nil {
		return err
	}
	defer f.Close()
	bufw := bufio.NewWriterSize(f, 1<<20)
	var w io.Writer = bufw
	var gzw *pgzip.Writer
	if gz {
		gzw = pgzip.NewWriter(bufw)
		w = gzw
	}
	_, err = t.WriteTo(w)
	if err != nil {
		return err
	}
	if gzw != nil {
		err = gzw.Close()
		if err != nil {
			return err
		}
	}
	err = bufw.Flush()
	if err != nil {
		return err
	}
	return f.Close()
}
