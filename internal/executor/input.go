// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package executor

import (
	"sort"

	"github.com/tomtom215/linkage/internal/models"
)

// InputTable builds the registration payload for ranked records: the
// reserved _rank, unique_id and source_dataset columns followed by the
// requested fields. A nil fields slice selects every field seen in the
// records, sorted by name.
func InputTable(ranked []models.Record, fields []string) (*Table, error) {
	if fields == nil {
		seen := make(map[string]struct{})
		for i := range ranked {
			for f := range ranked[i].Fields {
				if _, ok := seen[f]; !ok {
					seen[f] = struct{}{}
					fields = append(fields, f)
				}
			}
		}
		sort.Strings(fields)
	}

	names := make([]string, 0, len(fields)+3)
	names = append(names, models.ColumnRank, models.ColumnUniqueID, models.ColumnSource)
	for _, f := range fields {
		if f == models.ColumnRank || f == models.ColumnUniqueID || f == models.ColumnSource {
			continue
		}
		names = append(names, f)
	}

	rows := make([][]any, len(ranked))
	for i := range ranked {
		row := make([]any, len(names))
		row[0] = int64(i)
		row[1] = ranked[i].ID
		row[2] = ranked[i].Source
		for c := 3; c < len(names); c++ {
			row[c] = ranked[i].Value(names[c])
		}
		rows[i] = row
	}

	t, err := NewTable(names, rows)
	if err != nil {
		return nil, err
	}
	// Reserved columns keep fixed types even when ids look numeric.
	t.Columns[0].Type = TypeBigint
	t.Columns[1].Type = TypeVarchar
	t.Columns[2].Type = TypeVarchar
	for i := range t.Rows {
		t.Rows[i][1] = ranked[i].ID
		t.Rows[i][2] = ranked[i].Source
	}
	return t, nil
}
