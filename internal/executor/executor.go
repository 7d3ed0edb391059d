// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package executor defines the contract between the linkage core and the
// relational engine that performs the heavy lifting: candidate joins,
// gamma-pattern aggregation with the EM expectation step, frequency tables
// and sampling.
//
// The core never builds SQL. It issues one of a closed set of query
// descriptors and receives a Table back. Two implementations exist:
// Memory (this package) and the DuckDB executor in internal/database.
package executor

import (
	"context"
	"errors"
	"fmt"
)

// Result column names shared by every executor.
const (
	ColRankL   = "rank_l"
	ColRankR   = "rank_r"
	ColIDL     = "id_l"
	ColIDR     = "id_r"
	ColSourceL = "src_l"
	ColSourceR = "src_r"
	ColCount   = "n"
	ColPSum    = "p_sum"
	ColValue   = "value"
	ColFreq    = "frequency"
)

// Sentinel errors.
var (
	// ErrTableNotFound is returned when a query references an unregistered table.
	ErrTableNotFound = errors.New("table not registered")

	// ErrColumnNotFound is returned when a query references an unknown column.
	ErrColumnNotFound = errors.New("column not found")

	// ErrUnsupportedQuery is returned for descriptor types an executor does not know.
	ErrUnsupportedQuery = errors.New("unsupported query")
)

// Executor runs relational work on behalf of the core.
//
// Register replaces any table of the same name. Execute must not mutate
// registered tables.
type Executor interface {
	Register(ctx context.Context, name string, t *Table) error
	Execute(ctx context.Context, q Query) (*Table, error)
	Close() error
}

// Kind names a query descriptor for logging and metrics.
func Kind(q Query) string {
	if q == nil {
		return "nil"
	}
	return q.kind()
}

// ColumnError reports a missing column of a registered table.
func ColumnError(table, column string) error {
	return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
}
