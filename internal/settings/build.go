// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package settings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tomtom215/linkage/internal/comparison"
	"github.com/tomtom215/linkage/internal/models"
)

// Build completes s and converts it into a comparison model and the parsed
// blocking rules.
func Build(s Settings) (*comparison.Model, []models.BlockingRule, error) {
	c := Complete(s)

	columns := make([]comparison.Column, len(c.Comparisons))
	for i := range c.Comparisons {
		col, err := buildColumn(&c.Comparisons[i])
		if err != nil {
			return nil, nil, prefixPath(err, fmt.Sprintf("comparisons[%d]", i))
		}
		columns[i] = col
	}

	model, err := comparison.NewModel(columns...)
	if err != nil {
		return nil, nil, scopeColumnError(err, c.Comparisons)
	}

	rules, err := c.Rules()
	if err != nil {
		return nil, nil, err
	}
	return model, rules, nil
}

func buildColumn(cs *ComparisonSettings) (comparison.Column, error) {
	col := comparison.Column{
		Name:          cs.Name(),
		TermFrequency: cs.TermFrequencyAdjustments,
		TFWeight:      DefaultTFAdjustmentWeight,
	}
	if cs.TFAdjustmentWeight != nil {
		col.TFWeight = *cs.TFAdjustmentWeight
	}

	col.Levels = make([]comparison.Level, len(cs.ComparisonLevels))
	for i := range cs.ComparisonLevels {
		ls := &cs.ComparisonLevels[i]
		pred, err := buildPredicate(ls)
		if err != nil {
			return col, &models.ConfigurationError{
				Path:   fmt.Sprintf("comparison_levels[%d]", i),
				Reason: err.Error(),
			}
		}
		lvl := comparison.Level{
			Label:     ls.Label,
			Predicate: pred,
			Fields:    ls.fields(),
		}
		if len(lvl.Fields) == 0 && cs.ColumnName != "" {
			lvl.Fields = []string{cs.ColumnName}
		}
		if ls.ComparisonVectorValue != nil {
			lvl.Value = *ls.ComparisonVectorValue
		}
		if ls.MProbability != nil {
			lvl.M = *ls.MProbability
		}
		if ls.UProbability != nil {
			lvl.U = *ls.UProbability
		}
		col.Levels[i] = lvl
	}
	return col, nil
}

func buildPredicate(ls *LevelSettings) (comparison.Predicate, error) {
	switch ls.Type {
	case LevelNull:
		return comparison.NullLevel{}, nil
	case LevelExact:
		return comparison.ExactMatch{Transform: ls.Transform, Prefix: ls.PrefixLength}, nil
	case LevelDistance:
		if len(ls.Metrics) > 0 || len(ls.Thresholds) > 0 {
			return nil, fmt.Errorf("metric/threshold length mismatch")
		}
		if ls.Metric == "" {
			return nil, fmt.Errorf("distance level needs a metric")
		}
		if ls.Threshold == nil {
			return nil, fmt.Errorf("distance level needs a threshold")
		}
		return comparison.DistanceThreshold{Metric: ls.Metric, Threshold: *ls.Threshold}, nil
	case LevelCustom:
		if ls.Expression == "" {
			return nil, fmt.Errorf("custom level needs an expression")
		}
		return comparison.CustomPredicate{Name: ls.Expression}, nil
	case LevelElse:
		return comparison.ElseLevel{}, nil
	case "":
		return nil, fmt.Errorf("level type is required")
	}
	return nil, fmt.Errorf("unknown level type %q", ls.Type)
}

// prefixPath scopes a configuration error path under prefix.
func prefixPath(err error, prefix string) error {
	var ce *models.ConfigurationError
	if !errors.As(err, &ce) {
		return err
	}
	path := prefix
	if ce.Path != "" {
		path += "." + ce.Path
	}
	return &models.ConfigurationError{Path: path, Reason: ce.Reason}
}

// scopeColumnError rewrites a column-relative path from comparison.Model
// ("name.comparison_levels[i]") to the settings path of that comparison.
func scopeColumnError(err error, comparisons []ComparisonSettings) error {
	var ce *models.ConfigurationError
	if !errors.As(err, &ce) {
		return err
	}
	for i := range comparisons {
		name := comparisons[i].Name()
		if name == "" {
			continue
		}
		if ce.Path == name {
			return &models.ConfigurationError{Path: fmt.Sprintf("comparisons[%d]", i), Reason: ce.Reason}
		}
		if rest, found := strings.CutPrefix(ce.Path, name+"."); found {
			return &models.ConfigurationError{Path: fmt.Sprintf("comparisons[%d].%s", i, rest), Reason: ce.Reason}
		}
	}
	return err
}
