// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

/*
Package query renders the SQL fragments used by the DuckDB executor.

Every pairwise query joins the registered input table to itself under the
aliases l and r. Fragments produced here never interpolate record values;
only identifiers (quoted with Ident) and numeric literals (rendered with
Double) are embedded in the SQL text.
*/
package query
