// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package models

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"empty string", "", nil},
		{"whitespace", "   ", nil},
		{"NaN", math.NaN(), nil},
		{"string", "Linacre", "Linacre"},
		{"int", 7, int64(7)},
		{"int32", int32(7), int64(7)},
		{"float32", float32(1.5), 1.5},
		{"bool", true, true},
		{"bytes", []byte("abc"), "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%v) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestValueKeyIntegralFloatMatchesInt(t *testing.T) {
	t.Parallel()

	a, okA := ValueKey(int64(5))
	b, okB := ValueKey(5.0)
	if !okA || !okB || a != b {
		t.Errorf("expected equal keys, got %q and %q", a, b)
	}
	if _, ok := ValueKey(""); ok {
		t.Error("expected empty string to have no key")
	}
}

func TestLessID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want bool
	}{
		{"2", "10", true},
		{"10", "2", false},
		{"a", "b", true},
		{"9", "a", true},
		{"a", "9", false},
	}
	for _, tt := range tests {
		if got := LessID(tt.a, tt.b); got != tt.want {
			t.Errorf("LessID(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestRankRecords(t *testing.T) {
	t.Parallel()

	datasets := []Dataset{
		{Name: "b", Records: []Record{{ID: "10"}, {ID: "2"}}},
		{Name: "a", Records: []Record{{ID: "3"}}},
	}

	ranked, err := RankRecords(datasets)
	if err != nil {
		t.Fatalf("RankRecords: %v", err)
	}

	want := []struct{ source, id string }{{"a", "3"}, {"b", "2"}, {"b", "10"}}
	for i, w := range want {
		if ranked[i].Source != w.source || ranked[i].ID != w.id {
			t.Errorf("rank %d = %s/%s, want %s/%s", i, ranked[i].Source, ranked[i].ID, w.source, w.id)
		}
	}
}

func TestRankRecordsRejectsBadIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		records []Record
	}{
		{"duplicate", []Record{{ID: "1"}, {ID: "1"}}},
		{"missing", []Record{{ID: ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := RankRecords([]Dataset{{Name: "df", Records: tt.records}})
			if !errors.Is(err, ErrData) {
				t.Errorf("expected ErrData, got %v", err)
			}
			var de *DataError
			if !errors.As(err, &de) || de.Dataset != "df" {
				t.Errorf("expected DataError for dataset df, got %v", err)
			}
		})
	}
}

func TestBlockingRuleMatches(t *testing.T) {
	t.Parallel()

	rule := BlockingRule{
		Keys:   []JoinKey{{Column: "surname", Transform: TransformLower, Prefix: 3}},
		Ranges: []RangeKey{{Column: "dob_year", Within: 2}},
	}
	lookup := func(vals map[string]any) func(string) any {
		return func(c string) any { return Normalize(vals[c]) }
	}

	tests := []struct {
		name string
		l, r map[string]any
		want bool
	}{
		{"match", map[string]any{"surname": "Linacre", "dob_year": 1980}, map[string]any{"surname": "LINACER", "dob_year": 1981}, true},
		{"prefix differs", map[string]any{"surname": "Smith", "dob_year": 1980}, map[string]any{"surname": "Jones", "dob_year": 1980}, false},
		{"out of range", map[string]any{"surname": "Smith", "dob_year": 1980}, map[string]any{"surname": "Smith", "dob_year": 1990}, false},
		{"null key", map[string]any{"surname": "", "dob_year": 1980}, map[string]any{"surname": "", "dob_year": 1980}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := rule.Matches(lookup(tt.l), lookup(tt.r)); got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBlockingRuleString(t *testing.T) {
	t.Parallel()

	rule := BlockingRule{Keys: []JoinKey{{Column: "mob"}, {Column: "surname", Prefix: 3}}}
	want := "l.mob = r.mob and substr(l.surname, 1, 3) = substr(r.surname, 1, 3)"
	if got := rule.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
	if !(BlockingRule{}).IsCartesian() {
		t.Error("empty rule should be cartesian")
	}
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	var err error = &BlockingExplosionError{Estimated: 100, Threshold: 10}
	if !errors.Is(err, ErrBlockingExplosion) {
		t.Error("expected ErrBlockingExplosion")
	}
	err = &ConfigurationError{Path: "comparisons[0]", Reason: "missing else level"}
	if !errors.Is(err, ErrConfiguration) {
		t.Error("expected ErrConfiguration")
	}
	if _, perr := ParseLinkMode("bogus"); !errors.Is(perr, ErrConfiguration) {
		t.Errorf("expected configuration error for unknown link mode, got %v", perr)
	}
}
