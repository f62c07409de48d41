package validation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

const (
	ReasonNotTable  = "cannot be coerced to a table"
	ReasonNonFinite = "contains non-finite values (nan or inf)"
)

// Shape is (rows, columns).
type Shape struct {
	Rows int
	Cols int
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d)", s.Rows, s.Cols)
}

// Table is a dense row-major numeric table.
type Table struct {
	Shape Shape
	Data  []float64
}

func (t *Table) At(i, j int) float64 {
	return t.Data[i*t.Shape.Cols+j]
}

// Column returns column j as a fresh slice.
func (t *Table) Column(j int) []float64 {
	out := make([]float64, t.Shape.Rows)
	for i := range out {
		out[i] = t.At(i, j)
	}
	return out
}

// Result lists every reason a feature was rejected; no reasons means valid.
type Result struct {
	Reasons []string
	Table   *Table
}

func (r Result) Valid() bool {
	return len(r.Reasons) == 0
}

// Message joins the reasons the way they are shown to submitters.
func (r Result) Message() string {
	return strings.Join(r.Reasons, "; ")
}

// Validate coerces raw feature output to a numeric table and checks that it
// has exactly one column and expectedRows rows. A coercion failure stops the
// checks immediately.
func Validate(raw interface{}, expectedRows int) Result {
	table, err := Coerce(raw)
	if err != nil {
		return Result{Reasons: []string{ReasonNotTable}}
	}

	var res Result
	expected := Shape{Rows: expectedRows, Cols: 1}
	if table.Shape != expected {
		res.Reasons = append(res.Reasons, fmt.Sprintf("returns table of invalid shape (actual %s, expected %s)", table.Shape, expected))
	}
	for _, f := range table.Data {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			res.Reasons = append(res.Reasons, ReasonNonFinite)
			break
		}
	}
	res.Table = table
	return res
}

var errNotNumeric = errors.New("value is not numeric")

// Coerce accepts a list of scalars (one column), a list of equal-length rows,
// or a mapping of column name to equal-length lists (columns in name order).
func Coerce(raw interface{}) (*Table, error) {
	switch v := raw.(type) {
	case []interface{}:
		return coerceRows(v)
	case map[string]interface{}:
		return coerceColumns(v)
	default:
		return nil, fmt.Errorf("%T is not tabular", raw)
	}
}

func coerceRows(rows []interface{}) (*Table, error) {
	if len(rows) == 0 {
		return &Table{}, nil
	}
	if _, nested := rows[0].([]interface{}); !nested {
		data := make([]float64, len(rows))
		for i, cell := range rows {
			f, err := scalar(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d: %w", i, err)
			}
			data[i] = f
		}
		return &Table{Shape: Shape{Rows: len(rows), Cols: 1}, Data: data}, nil
	}

	cols := -1
	var data []float64
	for i, r := range rows {
		row, ok := r.([]interface{})
		if !ok {
			return nil, fmt.Errorf("row %d is not a list", i)
		}
		if cols == -1 {
			cols = len(row)
			data = make([]float64, 0, len(rows)*cols)
		} else if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), cols)
		}
		for j, cell := range row {
			f, err := scalar(cell)
			if err != nil {
				return nil, fmt.Errorf("row %d column %d: %w", i, j, err)
			}
			data = append(data, f)
		}
	}
	return &Table{Shape: Shape{Rows: len(rows), Cols: cols}, Data: data}, nil
}

func coerceColumns(columns map[string]interface{}) (*Table, error) {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := -1
	values := make([][]float64, len(names))
	for j, name := range names {
		col, ok := columns[name].([]interface{})
		if !ok {
			return nil, fmt.Errorf("column %q is not a list", name)
		}
		if rows == -1 {
			rows = len(col)
		} else if len(col) != rows {
			return nil, fmt.Errorf("column %q has %d values, expected %d", name, len(col), rows)
		}
		values[j] = make([]float64, len(col))
		for i, cell := range col {
			f, err := scalar(cell)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			values[j][i] = f
		}
	}
	if rows == -1 {
		return &Table{}, nil
	}

	t := &Table{Shape: Shape{Rows: rows, Cols: len(names)}, Data: make([]float64, rows*len(names))}
	for j := range values {
		for i, f := range values[j] {
			t.Data[i*len(names)+j] = f
		}
	}
	return t, nil
}

func scalar(cell interface{}) (float64, error) {
	switch v := cell.(type) {
	case float64:
		return v, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errNotNumeric
		}
		return f, nil
	default:
		return 0, errNotNumeric
	}
}
