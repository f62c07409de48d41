package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindString
)

// Value is a single cell. Numeric cells keep their float64 form; anything that
// does not parse as a number stays a string.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }
func String(s string) Value  { return Value{Kind: KindString, Str: s} }
func Missing() Value         { return Value{} }

// ParseCell applies the CSV typing rule: empty or NaN is missing, finite
// numeric text is a number, the rest is a string.
func ParseCell(raw string) Value {
	if raw == "" {
		return Missing()
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		switch {
		case math.IsNaN(f):
			return Missing()
		case math.IsInf(f, 0):
			return String(raw)
		}
		return Number(f)
	}
	return String(raw)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Missing()
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	default:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("dataset cell: %w", err)
		}
		*v = Number(f)
	}
	return nil
}

type Column struct {
	Name   string  `json:"name"`
	Values []Value `json:"values"`
}

// Table is column-oriented; every column has the same length.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

func (t *Table) NumRows() int {
	if t == nil || len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Values)
}

func (t *Table) Column(name string) (*Column, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{Name: t.Name, Columns: make([]Column, len(t.Columns))}
	for i, c := range t.Columns {
		values := make([]Value, len(c.Values))
		copy(values, c.Values)
		out.Columns[i] = Column{Name: c.Name, Values: values}
	}
	return out
}

// Head copies the first n rows. n <= 0 or n past the end copies every row.
func (t *Table) Head(n int) *Table {
	if t == nil {
		return nil
	}
	rows := t.NumRows()
	if n <= 0 || n > rows {
		n = rows
	}
	out := &Table{Name: t.Name, Columns: make([]Column, len(t.Columns))}
	for i, c := range t.Columns {
		values := make([]Value, n)
		copy(values, c.Values[:n])
		out.Columns[i] = Column{Name: c.Name, Values: values}
	}
	return out
}

// Dataset maps table name to table.
type Dataset struct {
	Tables map[string]*Table `json:"tables"`
}

func New(tables ...*Table) *Dataset {
	ds := &Dataset{Tables: make(map[string]*Table, len(tables))}
	for _, t := range tables {
		ds.Tables[t.Name] = t
	}
	return ds
}

// Names returns table names in canonical (lexicographic) order.
func (d *Dataset) Names() []string {
	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dataset) Table(name string) (*Table, bool) {
	t, ok := d.Tables[name]
	return t, ok
}

// Clone deep-copies every table. Hand-offs across the execution boundary
// always go through Clone so no cell is shared by reference.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{Tables: make(map[string]*Table, len(d.Tables))}
	for name, t := range d.Tables {
		out.Tables[name] = t.Clone()
	}
	return out
}

// Head is a deep copy holding at most n rows of every table.
func (d *Dataset) Head(n int) *Dataset {
	out := &Dataset{Tables: make(map[string]*Table, len(d.Tables))}
	for name, t := range d.Tables {
		out.Tables[name] = t.Head(n)
	}
	return out
}

// Floats returns a column as float64s. Missing or non-numeric cells are an
// error because labels and precomputed features must be fully numeric.
func (c *Column) Floats() ([]float64, error) {
	out := make([]float64, len(c.Values))
	for i, v := range c.Values {
		if v.Kind != KindNumber {
			return nil, fmt.Errorf("column %q row %d: not numeric", c.Name, i)
		}
		out[i] = v.Num
	}
	return out, nil
}
