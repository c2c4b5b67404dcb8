// Package refdata reads the tabular and XML reference files that feed the
// loss engine: country registries, GDP and growth workbooks, and model
// parameter documents.
package refdata

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Sheet is a header row plus data rows, all as strings.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// Col returns the index of a header column, matched case-insensitively
// after trimming. -1 when absent.
func (s *Sheet) Col(name string) int {
	for i, h := range s.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// MustCols resolves several column names at once, failing on the first one
// missing.
func (s *Sheet) MustCols(names ...string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		c := s.Col(n)
		if c < 0 {
			return nil, eris.Errorf("refdata: column %q not found", n)
		}
		idx[i] = c
	}
	return idx, nil
}

// Cell returns a trimmed cell, "" when the row is short.
func Cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// Float parses a cell as float64. ok is false for blanks and unparsable
// values.
func Float(row []string, col int) (float64, bool) {
	v := Cell(row, col)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Int parses a cell as int, accepting spreadsheet renderings like "840.0".
func Int(row []string, col int) (int, bool) {
	f, ok := Float(row, col)
	if !ok {
		return 0, false
	}
	return int(f), true
}
