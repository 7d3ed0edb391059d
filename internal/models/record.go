// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package models

import (
	"fmt"
	"sort"
	"strconv"
)

// Reserved column names of the registered input table.
const (
	ColumnRank     = "_rank"
	ColumnUniqueID = "unique_id"
	ColumnSource   = "source_dataset"
)

// LinkMode determines which record pairs are eligible for comparison.
type LinkMode string

const (
	// LinkModeDedupeOnly compares records within a single collection.
	LinkModeDedupeOnly LinkMode = "dedupe_only"
	// LinkModeLinkOnly compares records across collections only.
	LinkModeLinkOnly LinkMode = "link_only"
	// LinkModeLinkAndDedupe compares records within and across collections.
	LinkModeLinkAndDedupe LinkMode = "link_and_dedupe"
)

// Valid reports whether m is a known link mode.
func (m LinkMode) Valid() bool {
	switch m {
	case LinkModeDedupeOnly, LinkModeLinkOnly, LinkModeLinkAndDedupe:
		return true
	}
	return false
}

// ParseLinkMode converts a settings string into a LinkMode.
func ParseLinkMode(s string) (LinkMode, error) {
	m := LinkMode(s)
	if !m.Valid() {
		return "", &ConfigurationError{Path: "link_type", Reason: fmt.Sprintf("unknown link type %q", s)}
	}
	return m, nil
}

// Record is a single input row. Records are owned by the caller and treated
// as read-only by the engine.
type Record struct {
	ID     string
	Source string
	Fields map[string]any
}

// Value returns the normalized value of a field. Unknown fields are null.
func (r *Record) Value(field string) any {
	switch field {
	case ColumnUniqueID:
		return r.ID
	case ColumnSource:
		return r.Source
	}
	return Normalize(r.Fields[field])
}

// Dataset is a named collection of records.
type Dataset struct {
	Name    string
	Records []Record
}

// LessID orders record ids naturally: numerically when both ids are
// integers, lexicographically otherwise.
func LessID(a, b string) bool {
	ai, errA := strconv.ParseInt(a, 10, 64)
	bi, errB := strconv.ParseInt(b, 10, 64)
	if errA == nil && errB == nil {
		return ai < bi
	}
	if errA == nil {
		return true
	}
	if errB == nil {
		return false
	}
	return a < b
}

// RankRecords returns the records of all datasets in canonical order, with
// each record's Source set to its dataset name. The index of a record in the
// returned slice is its rank.
//
// Missing ids and ids repeated within a dataset are reported as DataError.
func RankRecords(datasets []Dataset) ([]Record, error) {
	total := 0
	for _, ds := range datasets {
		total += len(ds.Records)
	}
	out := make([]Record, 0, total)

	for _, ds := range datasets {
		seen := make(map[string]struct{}, len(ds.Records))
		for i := range ds.Records {
			rec := ds.Records[i]
			if rec.ID == "" {
				return nil, &DataError{Dataset: ds.Name, Reason: fmt.Sprintf("record %d has no unique id", i)}
			}
			if _, dup := seen[rec.ID]; dup {
				return nil, &DataError{Dataset: ds.Name, Reason: fmt.Sprintf("duplicate unique id %q", rec.ID)}
			}
			seen[rec.ID] = struct{}{}
			rec.Source = ds.Name
			out = append(out, rec)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return LessID(out[i].ID, out[j].ID)
	})
	return out, nil
}
