// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package executor

import (
	"fmt"

	"github.com/tomtom215/linkage/internal/models"
)

// ColumnType is the logical type of a table column.
type ColumnType string

// Column types, named after their SQL equivalents.
const (
	TypeBigint  ColumnType = "BIGINT"
	TypeDouble  ColumnType = "DOUBLE"
	TypeBoolean ColumnType = "BOOLEAN"
	TypeVarchar ColumnType = "VARCHAR"
)

// Column describes one column of a Table.
type Column struct {
	Name string
	Type ColumnType
}

// Table is a row-major result set or registration payload.
// Cell values are nil, int64, float64, bool or string.
type Table struct {
	Columns []Column
	Rows    [][]any

	index map[string]int
}

// NewTable builds a table from raw rows, inferring one type per column and
// coercing every cell to it. Integer columns containing any float become
// DOUBLE; columns mixing other types become VARCHAR.
func NewTable(names []string, rows [][]any) (*Table, error) {
	cols := make([]Column, len(names))
	for c, name := range names {
		cols[c] = Column{Name: name, Type: inferType(rows, c)}
	}

	out := make([][]any, len(rows))
	for i, row := range rows {
		if len(row) != len(names) {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i, len(row), len(names))
		}
		coerced := make([]any, len(row))
		for c, v := range row {
			coerced[c] = coerce(models.Normalize(v), cols[c].Type)
		}
		out[i] = coerced
	}
	return &Table{Columns: cols, Rows: out}, nil
}

// NewTypedTable builds a table whose column types are already known.
// Values are used as given.
func NewTypedTable(cols []Column, rows [][]any) *Table {
	return &Table{Columns: cols, Rows: rows}
}

func inferType(rows [][]any, c int) ColumnType {
	var sawInt, sawFloat, sawBool, sawString bool
	for _, row := range rows {
		if c >= len(row) {
			continue
		}
		switch models.Normalize(row[c]).(type) {
		case nil:
		case int64:
			sawInt = true
		case float64:
			sawFloat = true
		case bool:
			sawBool = true
		default:
			sawString = true
		}
	}
	switch {
	case sawString, sawBool && (sawInt || sawFloat):
		return TypeVarchar
	case sawBool:
		return TypeBoolean
	case sawFloat:
		return TypeDouble
	case sawInt:
		return TypeBigint
	default:
		return TypeVarchar
	}
}

func coerce(v any, t ColumnType) any {
	if v == nil {
		return nil
	}
	switch t {
	case TypeDouble:
		if f, ok := models.AsFloat(v); ok {
			return f
		}
		return nil
	case TypeVarchar:
		s, _ := models.ValueKey(v)
		return s
	}
	return v
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Index returns the position of a column or -1.
func (t *Table) Index(name string) int {
	if t.index == nil {
		t.index = make(map[string]int, len(t.Columns))
		for i, c := range t.Columns {
			t.index[c.Name] = i
		}
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// MustIndex returns the position of a column or an ErrColumnNotFound error.
func (t *Table) MustIndex(table, name string) (int, error) {
	if i := t.Index(name); i >= 0 {
		return i, nil
	}
	return -1, ColumnError(table, name)
}

// Int64 reads an integer cell, accepting the numeric types SQL drivers return.
func Int64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case int16:
		return int64(x)
	case int8:
		return int64(x)
	case uint64:
		return int64(x) //nolint:gosec // counts and ranks fit in int64
	case uint32:
		return int64(x)
	case float64:
		return int64(x)
	}
	return 0
}

// Float64 reads a numeric cell as float64.
func Float64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case nil:
		return 0
	}
	return float64(Int64(v))
}

// String reads a cell as a string.
func String(v any) string {
	s, _ := models.ValueKey(v)
	return s
}
