// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package settings

import (
	"fmt"
	"math"
	"strings"

	"github.com/tomtom215/linkage/internal/comparison"
)

// renormTolerance is how far a column's m or u sum may drift from 1 before
// completion rescales it. It matches the drift clamping leaves in trained
// parameters, so exported settings complete to themselves.
const renormTolerance = 1e-4

// Complete returns a copy of s with every default filled in. It never
// modifies s, and Complete(Complete(s)) equals Complete(s).
//
// Settings completion does not validate: malformed levels are left as they
// are for Validate to report.
func Complete(s Settings) Settings {
	out := s.Clone()

	if out.LinkType == "" {
		out.LinkType = DefaultLinkType
	}
	if out.UniqueIDColumnName == "" {
		out.UniqueIDColumnName = DefaultUniqueIDColumn
	}
	if out.SourceDatasetColumnName == "" {
		out.SourceDatasetColumnName = DefaultSourceDatasetColumn
	}
	if out.ProportionOfMatches == nil {
		out.ProportionOfMatches = Ptr(DefaultProportionOfMatches)
	}
	if out.EMConvergence == nil {
		out.EMConvergence = Ptr(DefaultEMConvergence)
	}
	if out.MaxIterations == nil {
		out.MaxIterations = Ptr(DefaultMaxIterations)
	}
	if out.MaxCartesianPairs == nil {
		out.MaxCartesianPairs = Ptr(DefaultMaxCartesianPairs)
	}

	for i := range out.Comparisons {
		completeComparison(&out.Comparisons[i])
	}
	return out
}

func completeComparison(c *ComparisonSettings) {
	if c.OutputColumnName == "" {
		c.OutputColumnName = c.ColumnName
	}
	if c.TFAdjustmentWeight == nil {
		c.TFAdjustmentWeight = Ptr(DefaultTFAdjustmentWeight)
	}
	if len(c.ComparisonLevels) == 0 {
		c.ComparisonLevels = []LevelSettings{{Type: LevelNull}, {Type: LevelExact}, {Type: LevelElse}}
	}

	var levels []LevelSettings
	for _, l := range c.ComparisonLevels {
		levels = append(levels, expandLevel(l)...)
	}
	c.ComparisonLevels = levels

	k := 0
	for i := range levels {
		if levels[i].Type != LevelNull {
			k++
		}
	}
	c.NumLevels = k

	next := k - 1
	for i := range levels {
		l := &levels[i]
		if l.Type == LevelNull {
			if l.ComparisonVectorValue == nil {
				l.ComparisonVectorValue = Ptr(comparison.NullValue)
			}
		} else {
			if l.ComparisonVectorValue == nil {
				l.ComparisonVectorValue = Ptr(next)
			}
			next--
		}
		if l.Label == "" {
			l.Label = defaultLabel(l, c.ColumnName)
		}
	}

	completeProbabilities(levels, k)
}

// expandLevel infers a missing type and splits multi-threshold distance
// levels into one level per threshold. A level whose metric and threshold
// lists disagree in length is returned unchanged.
func expandLevel(l LevelSettings) []LevelSettings {
	if l.Type == "" {
		switch {
		case l.Metric != "" || len(l.Metrics) > 0:
			l.Type = LevelDistance
		case l.Expression != "":
			l.Type = LevelCustom
		}
	}
	if l.Type != LevelDistance || len(l.Thresholds) == 0 {
		return []LevelSettings{l}
	}
	if len(l.Metrics) > 0 && len(l.Metrics) != len(l.Thresholds) {
		return []LevelSettings{l}
	}
	if len(l.Metrics) == 0 && l.Metric == "" {
		return []LevelSettings{l}
	}

	out := make([]LevelSettings, len(l.Thresholds))
	for i, th := range l.Thresholds {
		e := l.clone()
		e.Thresholds = nil
		e.Metrics = nil
		e.Threshold = Ptr(th)
		if len(l.Metrics) > 0 {
			e.Metric = l.Metrics[i]
		}
		if len(l.Thresholds) > 1 {
			// Per-threshold values cannot be shared by the expanded levels.
			e.Label = ""
			e.MProbability = nil
			e.UProbability = nil
			e.ComparisonVectorValue = nil
		}
		out[i] = e
	}
	return out
}

func defaultLabel(l *LevelSettings, column string) string {
	subject := strings.Join(l.fields(), ", ")
	if subject == "" {
		subject = column
	}
	if subject != "" {
		subject = " " + subject
	}
	switch l.Type {
	case LevelNull:
		return "Null"
	case LevelExact:
		label := "Exact match" + subject
		if l.Transform != "" {
			label += " (" + l.Transform + ")"
		}
		if l.PrefixLength > 0 {
			label += fmt.Sprintf(" on first %d characters", l.PrefixLength)
		}
		return label
	case LevelDistance:
		op := "<="
		if m, ok := comparison.LookupMetric(l.Metric); ok && m.Similarity {
			op = ">="
		}
		th := 0.0
		if l.Threshold != nil {
			th = *l.Threshold
		}
		return fmt.Sprintf("%s%s %s %g", l.Metric, subject, op, th)
	case LevelCustom:
		return l.Expression + subject
	case LevelElse:
		return "All other comparisons"
	}
	return l.Type
}

// completeProbabilities fills missing m and u values from a geometric prior
// that favours specific levels for m and the else level for u, then rescales
// each side if it no longer sums to 1.
func completeProbabilities(levels []LevelSettings, k int) {
	if k == 0 {
		return
	}
	var mNorm, uNorm float64
	for v := 0; v < k; v++ {
		mNorm += math.Pow(2, float64(v))
		uNorm += math.Pow(2, float64(k-1-v))
	}

	for i := range levels {
		l := &levels[i]
		if l.Type == LevelNull || l.ComparisonVectorValue == nil {
			continue
		}
		v := *l.ComparisonVectorValue
		if v < 0 || v >= k {
			continue
		}
		if l.MProbability == nil {
			l.MProbability = Ptr(math.Pow(2, float64(v)) / mNorm)
		}
		if l.UProbability == nil {
			l.UProbability = Ptr(math.Pow(2, float64(k-1-v)) / uNorm)
		}
	}

	renormalize(levels, func(l *LevelSettings) *float64 { return l.MProbability })
	renormalize(levels, func(l *LevelSettings) *float64 { return l.UProbability })
}

func renormalize(levels []LevelSettings, get func(*LevelSettings) *float64) {
	var sum float64
	for i := range levels {
		if levels[i].Type == LevelNull {
			continue
		}
		if p := get(&levels[i]); p != nil {
			sum += *p
		}
	}
	if sum <= 0 || math.Abs(sum-1) <= renormTolerance {
		return
	}
	for i := range levels {
		if levels[i].Type == LevelNull {
			continue
		}
		if p := get(&levels[i]); p != nil {
			*p /= sum
		}
	}
}
