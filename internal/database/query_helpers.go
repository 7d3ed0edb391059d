// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/tomtom215/linkage/internal/executor"
)

// scanFunc is a function that scans a single row into a value of type T
type scanFunc[T any] func(*sql.Rows) (T, error)

// queryAndScan executes a query and scans all rows using the provided scan function
func queryAndScan[T any](ctx context.Context, db *sql.DB, query string, args []interface{}, scan scanFunc[T]) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// scanRow reads every column of the current row as driver values
// normalized to the executor cell types.
func scanRow(rows *sql.Rows) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}
	for i, v := range values {
		values[i] = normalizeCell(v)
	}
	return values, nil
}

func normalizeCell(v any) any {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	case []byte:
		return string(x)
	}
	return v
}

// queryTable runs a query and returns the result as an executor table.
func (db *DB) queryTable(ctx context.Context, query string, args ...interface{}) (*executor.Table, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer closeWithLog(rows, db.logger, "rows")

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	cols := make([]executor.Column, len(types))
	for i, ct := range types {
		cols[i] = executor.Column{Name: ct.Name(), Type: columnType(ct.DatabaseTypeName())}
	}

	var data [][]any
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return executor.NewTypedTable(cols, data), nil
}

// columnType maps DuckDB type names onto executor column types.
func columnType(dbType string) executor.ColumnType {
	switch strings.ToUpper(dbType) {
	case "BIGINT", "INTEGER", "SMALLINT", "TINYINT", "UBIGINT", "UINTEGER", "USMALLINT", "UTINYINT":
		return executor.TypeBigint
	case "DOUBLE", "FLOAT", "REAL":
		return executor.TypeDouble
	case "BOOLEAN":
		return executor.TypeBoolean
	default:
		return executor.TypeVarchar
	}
}
