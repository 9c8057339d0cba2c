// Package table holds the in-memory crawl table and the model-authored
// filter plans applied to it. A Table is never modified after it is built:
// every operation returns a new Table, so one loaded copy can be shared by
// concurrent requests.
package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Table is rectangular data with named, typed columns. Numeric columns hold
// float64 cells (NaN for blanks), every other column holds strings.
type Table struct {
	columns []string
	index   map[string]int
	numeric []bool
	rows    [][]any
}

// New builds a Table from raw header and string records. Headers are
// normalized with NormalizeColumn; short records are padded with blanks and
// long ones truncated. A column is numeric when every non-blank cell parses
// as a number and at least one cell is non-blank.
func New(header []string, records [][]string) *Table {
	t := &Table{
		columns: make([]string, len(header)),
		index:   make(map[string]int, len(header)),
		numeric: make([]bool, len(header)),
		rows:    make([][]any, len(records)),
	}
	for i, h := range header {
		name := NormalizeColumn(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i)
		}
		// Duplicate headers get a numeric suffix, first occurrence keeps the name.
		base := name
		for n := 1; t.hasColumn(name); n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		t.columns[i] = name
		t.index[name] = i
	}

	for c := range header {
		t.numeric[c] = numericColumn(records, c)
	}

	for r, rec := range records {
		row := make([]any, len(header))
		for c := range header {
			cell := ""
			if c < len(rec) {
				cell = strings.TrimSpace(rec[c])
			}
			if t.numeric[c] {
				row[c] = parseNumber(cell)
			} else {
				row[c] = cell
			}
		}
		t.rows[r] = row
	}
	return t
}

// NormalizeColumn turns a raw header into its canonical token: trimmed,
// lower-cased, spaces replaced by underscores, parentheses removed.
func NormalizeColumn(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "(", "")
	s = strings.ReplaceAll(s, ")", "")
	return s
}

func numericColumn(records [][]string, c int) bool {
	seen := false
	for _, rec := range records {
		if c >= len(rec) {
			continue
		}
		cell := strings.TrimSpace(rec[c])
		if cell == "" {
			continue
		}
		if _, ok := finite(cell); !ok {
			return false
		}
		seen = true
	}
	return seen
}

func parseNumber(cell string) float64 {
	if f, ok := finite(cell); ok {
		return f
	}
	return math.NaN()
}

// finite parses cell as a finite number. strconv also accepts inf and nan
// spellings, which stay text here.
func finite(cell string) (float64, bool) {
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func (t *Table) hasColumn(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Columns returns the normalized column names in source order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.columns...)
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) HasColumn(name string) bool { return t.hasColumn(name) }

// IsNumeric reports whether the named column holds numbers.
func (t *Table) IsNumeric(name string) bool {
	i, ok := t.index[name]
	return ok && t.numeric[i]
}

// derive returns a table sharing t's schema with the given rows.
func (t *Table) derive(rows [][]any) *Table {
	return &Table{columns: t.columns, index: t.index, numeric: t.numeric, rows: rows}
}

// Head returns the first n rows (all rows when n exceeds the length).
func (t *Table) Head(n int) *Table {
	if n < 0 {
		n = 0
	}
	if n > len(t.rows) {
		n = len(t.rows)
	}
	return t.derive(t.rows[:n:n])
}

// SortDesc returns the rows sorted descending by column. Blank numeric cells
// sort last; ties keep their source order. Unknown columns return t unchanged.
func (t *Table) SortDesc(column string) *Table {
	c, ok := t.index[column]
	if !ok {
		return t
	}
	rows := append([][]any(nil), t.rows...)
	if t.numeric[c] {
		sort.SliceStable(rows, func(i, j int) bool {
			a, b := rows[i][c].(float64), rows[j][c].(float64)
			if math.IsNaN(b) {
				return !math.IsNaN(a)
			}
			return a > b
		})
	} else {
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i][c].(string) > rows[j][c].(string)
		})
	}
	return t.derive(rows)
}

// Filter keeps the rows for which keep returns true. The first error aborts
// the filter and is returned with a nil table.
func (t *Table) Filter(keep func(row map[string]any) (bool, error)) (*Table, error) {
	var rows [][]any
	for _, row := range t.rows {
		ok, err := keep(t.rowMap(row))
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, row)
		}
	}
	return t.derive(rows), nil
}

func (t *Table) rowMap(row []any) map[string]any {
	m := make(map[string]any, len(t.columns))
	for i, name := range t.columns {
		m[name] = row[i]
	}
	return m
}

// Records returns up to n rows as JSON-friendly maps. Blank or non-finite
// numeric cells become nil.
func (t *Table) Records(n int) []map[string]any {
	head := t.Head(n)
	out := make([]map[string]any, len(head.rows))
	for r, row := range head.rows {
		m := t.rowMap(row)
		for k, v := range m {
			if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
				m[k] = nil
			}
		}
		out[r] = m
	}
	return out
}

// Strings returns up to n values of a column rendered as text. Unknown
// columns yield an empty, non-nil slice.
func (t *Table) Strings(column string, n int) []string {
	out := []string{}
	c, ok := t.index[column]
	if !ok {
		return out
	}
	for _, row := range t.Head(n).rows {
		switch v := row[c].(type) {
		case string:
			out = append(out, v)
		case float64:
			if math.IsNaN(v) {
				out = append(out, "")
			} else {
				out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
			}
		}
	}
	return out
}

// zeroEnv maps every column to a zero value of its type, for type-checking
// predicates at compile time.
func (t *Table) zeroEnv() map[string]any {
	env := make(map[string]any, len(t.columns))
	for i, name := range t.columns {
		if t.numeric[i] {
			env[name] = float64(0)
		} else {
			env[name] = ""
		}
	}
	return env
}
