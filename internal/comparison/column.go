// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package comparison

import (
	"fmt"
	"math"

	"github.com/tomtom215/linkage/internal/models"
)

// NullValue is the comparison-vector value of the null level.
const NullValue = -1

// Side reads a field of one record of a pair.
type Side func(field string) any

// Level is one outcome of a column comparison.
type Level struct {
	Label     string
	Predicate Predicate

	// Fields compared by the predicate; empty means the column itself.
	Fields []string

	// Value is the comparison-vector value: -1 for the null level, 0 for
	// the else level and k-1 for the most specific of k non-null levels.
	Value int

	M float64
	U float64

	custom CustomFunc
}

// IsNull reports whether this is the null level.
func (l *Level) IsNull() bool { return l.Predicate.Kind() == KindNull }

// IsElse reports whether this is the else level.
func (l *Level) IsElse() bool { return l.Predicate.Kind() == KindElse }

// Column is one compared attribute: an ordered list of levels, most
// specific first, ending with the else level.
type Column struct {
	Name   string
	Levels []Level

	// TermFrequency enables term-frequency adjustment of the exact level.
	TermFrequency bool
	TFWeight      float64
}

// fields resolves the compared fields of a level.
func (c *Column) fields(l *Level) []string {
	if len(l.Fields) > 0 {
		return l.Fields
	}
	return []string{c.Name}
}

// NumLevels is the number of non-null levels.
func (c *Column) NumLevels() int {
	n := 0
	for i := range c.Levels {
		if !c.Levels[i].IsNull() {
			n++
		}
	}
	return n
}

// Level returns the level with the given comparison-vector value.
func (c *Column) Level(value int) (*Level, bool) {
	for i := range c.Levels {
		if c.Levels[i].Value == value {
			return &c.Levels[i], true
		}
	}
	return nil, false
}

// ExactLevel returns the first unconditional exact-match level, which is
// the level term-frequency adjustment applies to.
func (c *Column) ExactLevel() (*Level, bool) {
	for i := range c.Levels {
		if p, ok := c.Levels[i].Predicate.(ExactMatch); ok && p.Prefix == 0 {
			return &c.Levels[i], true
		}
	}
	return nil, false
}

// TFField is the field term frequencies are computed over.
func (c *Column) TFField() string {
	if l, ok := c.ExactLevel(); ok && len(l.Fields) == 1 {
		return l.Fields[0]
	}
	return c.Name
}

// Fields lists every field the column reads.
func (c *Column) Fields() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range c.Levels {
		if c.Levels[i].IsElse() {
			continue
		}
		for _, f := range c.fields(&c.Levels[i]) {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}
	return out
}

// Evaluate returns the comparison-vector value of the first level whose
// predicate holds. A validated column always ends in the else level, so
// every pair receives a value.
func (c *Column) Evaluate(l, r Side) int {
	for i := range c.Levels {
		lvl := &c.Levels[i]
		if lvl.holds(c.fields(lvl), l, r) {
			return lvl.Value
		}
	}
	return 0
}

func (l *Level) holds(fields []string, left, right Side) bool {
	if _, ok := l.Predicate.(ElseLevel); ok {
		return true
	}
	lv := make([]any, len(fields))
	rv := make([]any, len(fields))
	for i, f := range fields {
		lv[i] = models.Normalize(left(f))
		rv[i] = models.Normalize(right(f))
	}

	switch p := l.Predicate.(type) {
	case NullLevel:
		return anyNull(lv) || anyNull(rv)
	case ExactMatch:
		return p.holds(lv, rv)
	case DistanceThreshold:
		return p.holds(lv, rv)
	case CustomPredicate:
		return l.custom != nil && l.custom(lv, rv)
	}
	return false
}

// Validate checks the level structure of a column and resolves custom
// predicates. Paths in returned errors are relative to the column.
func (c *Column) Validate() error {
	fail := func(i int, format string, args ...any) error {
		path := c.Name
		if i >= 0 {
			path = fmt.Sprintf("%s.comparison_levels[%d]", c.Name, i)
		}
		return &models.ConfigurationError{Path: path, Reason: fmt.Sprintf(format, args...)}
	}

	if c.Name == "" {
		return fail(-1, "column name is required")
	}
	if len(c.Levels) == 0 {
		return fail(-1, "no comparison levels")
	}
	if last := len(c.Levels) - 1; c.Levels[last].Predicate == nil || !c.Levels[last].IsElse() {
		return fail(last, "the last level must be the else level")
	}
	if c.TermFrequency {
		if _, ok := c.ExactLevel(); !ok {
			return fail(-1, "term frequency adjustment needs an exact match level")
		}
		if c.TFWeight < 0 || math.IsNaN(c.TFWeight) {
			return fail(-1, "tf_adjustment_weight must be non-negative")
		}
	}

	k := c.NumLevels()
	next := k - 1
	for i := range c.Levels {
		lvl := &c.Levels[i]
		if lvl.Predicate == nil {
			return fail(i, "level has no predicate")
		}
		last := i == len(c.Levels)-1

		switch p := lvl.Predicate.(type) {
		case NullLevel:
			if i != 0 {
				return fail(i, "null level must be the first level")
			}
			if lvl.Value != NullValue {
				return fail(i, "null level must have comparison vector value %d", NullValue)
			}
			continue
		case ElseLevel:
			if !last {
				return fail(i, "else level must be the last level")
			}
		case ExactMatch:
			if !KnownTransform(p.Transform) {
				return fail(i, "unknown transform %q", p.Transform)
			}
			if p.Prefix < 0 {
				return fail(i, "prefix length must be non-negative")
			}
		case DistanceThreshold:
			m, ok := LookupMetric(p.Metric)
			if !ok {
				return fail(i, "unknown distance metric %q", p.Metric)
			}
			if n := len(c.fields(lvl)); n != m.Fields {
				return fail(i, "metric %s compares %d fields, level has %d", p.Metric, m.Fields, n)
			}
			if math.IsNaN(p.Threshold) || math.IsInf(p.Threshold, 0) {
				return fail(i, "threshold must be finite")
			}
		case CustomPredicate:
			fn, ok := LookupCustom(p.Name)
			if !ok {
				return fail(i, "unknown custom predicate %q", p.Name)
			}
			lvl.custom = fn
		default:
			return fail(i, "unsupported predicate %T", p)
		}

		if lvl.Value != next {
			return fail(i, "comparison vector value %d, expected %d", lvl.Value, next)
		}
		next--
	}

	for i := range c.Levels {
		lvl := &c.Levels[i]
		if lvl.IsNull() {
			continue
		}
		for _, v := range []float64{lvl.M, lvl.U} {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return fail(i, "probability %g out of range", v)
			}
		}
	}

	return c.validateThresholds()
}

// validateThresholds requires consecutive levels of one metric over the same
// fields to grow less strict down the list: distances increase and
// similarities decrease.
func (c *Column) validateThresholds() error {
	for i := 1; i < len(c.Levels); i++ {
		prev, ok1 := c.Levels[i-1].Predicate.(DistanceThreshold)
		cur, ok2 := c.Levels[i].Predicate.(DistanceThreshold)
		if !ok1 || !ok2 || prev.Metric != cur.Metric || !sameFields(c.fields(&c.Levels[i-1]), c.fields(&c.Levels[i])) {
			continue
		}
		m, _ := LookupMetric(cur.Metric)
		if (m.Similarity && cur.Threshold >= prev.Threshold) || (!m.Similarity && cur.Threshold <= prev.Threshold) {
			return &models.ConfigurationError{
				Path:   fmt.Sprintf("%s.comparison_levels[%d]", c.Name, i),
				Reason: fmt.Sprintf("%s thresholds must be monotone from most to least strict", cur.Metric),
			}
		}
	}
	return nil
}

func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
