// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package models

import (
	"fmt"
	"math"
	"strings"
)

// Join key transforms.
const (
	TransformNone  = ""
	TransformLower = "lower"
	TransformUpper = "upper"
	TransformTrim  = "trim"
)

// JoinKey is one equality condition of a blocking rule: l.Column = r.Column
// after applying Transform and, when Prefix > 0, keeping the first Prefix
// characters.
type JoinKey struct {
	Column    string `json:"column" yaml:"column"`
	Transform string `json:"transform,omitempty" yaml:"transform,omitempty"`
	Prefix    int    `json:"prefix,omitempty" yaml:"prefix,omitempty"`
}

// Key returns the join key for a value. Null values never join.
func (k JoinKey) Key(v any) (string, bool) {
	s, ok := ValueKey(v)
	if !ok {
		return "", false
	}
	switch k.Transform {
	case TransformLower:
		s = strings.ToLower(s)
	case TransformUpper:
		s = strings.ToUpper(s)
	case TransformTrim:
		s = strings.TrimSpace(s)
	}
	if k.Prefix > 0 {
		r := []rune(s)
		if len(r) > k.Prefix {
			s = string(r[:k.Prefix])
		}
	}
	return s, true
}

func (k JoinKey) String() string {
	l, r := "l."+k.Column, "r."+k.Column
	if k.Transform != TransformNone {
		l, r = k.Transform+"("+l+")", k.Transform+"("+r+")"
	}
	if k.Prefix > 0 {
		l = fmt.Sprintf("substr(%s, 1, %d)", l, k.Prefix)
		r = fmt.Sprintf("substr(%s, 1, %d)", r, k.Prefix)
	}
	return l + " = " + r
}

// RangeKey is a numeric band condition: abs(l.Column - r.Column) <= Within.
type RangeKey struct {
	Column string  `json:"column" yaml:"column"`
	Within float64 `json:"within" yaml:"within"`
}

// Matches reports whether two values fall within the band.
func (k RangeKey) Matches(l, r any) bool {
	lf, ok := AsFloat(l)
	if !ok {
		return false
	}
	rf, ok := AsFloat(r)
	if !ok {
		return false
	}
	return math.Abs(lf-rf) <= k.Within
}

func (k RangeKey) String() string {
	return fmt.Sprintf("abs(l.%s - r.%s) <= %g", k.Column, k.Column, k.Within)
}

// BlockingRule is a conjunction of join keys and range keys. A rule with no
// conditions is the explicit cartesian rule.
type BlockingRule struct {
	Name   string     `json:"name,omitempty" yaml:"name,omitempty"`
	Keys   []JoinKey  `json:"keys,omitempty" yaml:"keys,omitempty"`
	Ranges []RangeKey `json:"ranges,omitempty" yaml:"ranges,omitempty"`
}

// IsCartesian reports whether the rule compares every eligible pair.
func (r BlockingRule) IsCartesian() bool {
	return len(r.Keys) == 0 && len(r.Ranges) == 0
}

// Columns returns the distinct columns the rule reads, in declaration order.
func (r BlockingRule) Columns() []string {
	seen := make(map[string]struct{})
	var cols []string
	add := func(c string) {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			cols = append(cols, c)
		}
	}
	for _, k := range r.Keys {
		add(k.Column)
	}
	for _, k := range r.Ranges {
		add(k.Column)
	}
	return cols
}

// Matches evaluates the rule on two records' values. Null keys never match,
// mirroring SQL equality.
func (r BlockingRule) Matches(l, rr func(column string) any) bool {
	for _, k := range r.Keys {
		lk, ok := k.Key(l(k.Column))
		if !ok {
			return false
		}
		rk, ok := k.Key(rr(k.Column))
		if !ok || lk != rk {
			return false
		}
	}
	for _, k := range r.Ranges {
		if !k.Matches(l(k.Column), rr(k.Column)) {
			return false
		}
	}
	return true
}

// String renders the rule in the shorthand accepted by settings.
func (r BlockingRule) String() string {
	if r.IsCartesian() {
		return "1 = 1"
	}
	parts := make([]string, 0, len(r.Keys)+len(r.Ranges))
	for _, k := range r.Keys {
		parts = append(parts, k.String())
	}
	for _, k := range r.Ranges {
		parts = append(parts, k.String())
	}
	return strings.Join(parts, " and ")
}

// Label returns the rule's name, falling back to its shorthand.
func (r BlockingRule) Label() string {
	if r.Name != "" {
		return r.Name
	}
	return r.String()
}
