// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package comparison describes how each column of a record pair is compared
// and evaluates pairs into comparison (gamma) vectors.
//
// A Column is an ordered list of mutually exclusive levels, most specific
// first, always ending with an else level. The comparison-vector value of a
// pair is the value of the first level whose predicate holds; the null
// level yields -1 and the else level 0, so evaluation is total.
package comparison

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/tomtom215/linkage/internal/models"
)

// Kind names a predicate variant.
type Kind string

// Predicate kinds.
const (
	KindNull     Kind = "null"
	KindExact    Kind = "exact"
	KindDistance Kind = "distance"
	KindCustom   Kind = "custom"
	KindElse     Kind = "else"
)

// Predicate is the closed set of level conditions.
type Predicate interface {
	Kind() Kind
	sealed()
}

// NullLevel holds when any compared field is null on either side.
type NullLevel struct{}

// ExactMatch holds when every compared field is equal after Transform and,
// when Prefix > 0, truncation to the first Prefix characters.
type ExactMatch struct {
	Transform string
	Prefix    int
}

// DistanceThreshold holds when Metric between the two sides is within
// Threshold: at most Threshold for distances, at least Threshold for
// similarities.
type DistanceThreshold struct {
	Metric    string
	Threshold float64
}

// CustomPredicate refers to a registered Go function by name.
type CustomPredicate struct {
	Name string
}

// ElseLevel always holds.
type ElseLevel struct{}

func (NullLevel) Kind() Kind         { return KindNull }
func (ExactMatch) Kind() Kind        { return KindExact }
func (DistanceThreshold) Kind() Kind { return KindDistance }
func (CustomPredicate) Kind() Kind   { return KindCustom }
func (ElseLevel) Kind() Kind         { return KindElse }

func (NullLevel) sealed()         {}
func (ExactMatch) sealed()        {}
func (DistanceThreshold) sealed() {}
func (CustomPredicate) sealed()   {}
func (ElseLevel) sealed()         {}

// Value transforms for exact matching. The phonetic transforms compare
// encodings rather than spellings.
const (
	TransformNone            = models.TransformNone
	TransformLower           = models.TransformLower
	TransformUpper           = models.TransformUpper
	TransformTrim            = models.TransformTrim
	TransformSoundex         = "soundex"
	TransformDoubleMetaphone = "double_metaphone"
	TransformNYSIIS          = "nysiis"
)

var transforms = map[string]func(string) string{
	TransformNone:            func(s string) string { return s },
	TransformLower:           strings.ToLower,
	TransformUpper:           strings.ToUpper,
	TransformTrim:            strings.TrimSpace,
	TransformSoundex:         matchr.Soundex,
	TransformDoubleMetaphone: doubleMetaphone,
	TransformNYSIIS:          matchr.NYSIIS,
}

// doubleMetaphone keeps the primary encoding.
func doubleMetaphone(s string) string {
	primary, _ := matchr.DoubleMetaphone(s)
	return primary
}

// KnownTransform reports whether a transform name is supported.
func KnownTransform(name string) bool {
	_, ok := transforms[name]
	return ok
}

// Key renders a value the way the level compares it. Term-frequency tables
// of a transformed exact level are keyed the same way.
func (p ExactMatch) Key(v any) (string, bool) {
	s, ok := models.ValueKey(v)
	if !ok {
		return "", false
	}
	s = transforms[p.Transform](s)
	if p.Prefix > 0 {
		if r := []rune(s); len(r) > p.Prefix {
			s = string(r[:p.Prefix])
		}
	}
	return s, true
}

func (p ExactMatch) holds(l, r []any) bool {
	for i := range l {
		lk, ok := p.Key(l[i])
		if !ok {
			return false
		}
		rk, ok := p.Key(r[i])
		if !ok || lk != rk {
			return false
		}
	}
	return true
}

func (p DistanceThreshold) holds(l, r []any) bool {
	m, ok := metrics[p.Metric]
	if !ok {
		return false
	}
	d, ok := m.Compute(l, r)
	if !ok {
		return false
	}
	if m.Similarity {
		return d >= p.Threshold
	}
	return d <= p.Threshold
}

func anyNull(values []any) bool {
	for _, v := range values {
		if models.IsNull(v) {
			return true
		}
	}
	return false
}
