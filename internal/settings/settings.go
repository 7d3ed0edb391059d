// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package settings is the serializable model configuration: link type,
// comparisons and their levels, blocking rules and training limits.
//
// Settings are completed (defaults filled in), validated and then built
// into a comparison.Model and blocking rules. Completion is pure and
// idempotent, so a completed and trained configuration can be written out,
// loaded again and produce the same model.
package settings

import "github.com/tomtom215/linkage/internal/models"

// Defaults applied by Complete.
const (
	DefaultLinkType            = "dedupe_only"
	DefaultUniqueIDColumn      = "unique_id"
	DefaultSourceDatasetColumn = "source_dataset"
	DefaultProportionOfMatches = 0.3
	DefaultEMConvergence       = 0.001
	DefaultMaxIterations       = 25
	DefaultMaxCartesianPairs   = int64(10_000_000)
	DefaultTFAdjustmentWeight  = 1.0
)

// Level types.
const (
	LevelNull     = "null"
	LevelExact    = "exact"
	LevelDistance = "distance"
	LevelCustom   = "custom"
	LevelElse     = "else"
)

// Settings is the model configuration artifact.
type Settings struct {
	LinkType                string   `json:"link_type,omitempty" yaml:"link_type,omitempty" validate:"omitempty,oneof=dedupe_only link_only link_and_dedupe"`
	UniqueIDColumnName      string   `json:"unique_id_column_name,omitempty" yaml:"unique_id_column_name,omitempty"`
	SourceDatasetColumnName string   `json:"source_dataset_column_name,omitempty" yaml:"source_dataset_column_name,omitempty"`
	ProportionOfMatches     *float64 `json:"proportion_of_matches,omitempty" yaml:"proportion_of_matches,omitempty" validate:"omitempty,open_probability"`
	EMConvergence           *float64 `json:"em_convergence,omitempty" yaml:"em_convergence,omitempty" validate:"omitempty,gt=0"`
	MaxIterations           *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty" validate:"omitempty,gte=1"`
	MaxCartesianPairs       *int64   `json:"max_cartesian_pairs,omitempty" yaml:"max_cartesian_pairs,omitempty" validate:"omitempty,gte=0"`

	BlockingRules []string `json:"blocking_rules_to_generate_predictions,omitempty" yaml:"blocking_rules_to_generate_predictions,omitempty"`

	Comparisons []ComparisonSettings `json:"comparisons" yaml:"comparisons" validate:"required,min=1,dive"`

	RetainMatchingColumns                bool `json:"retain_matching_columns,omitempty" yaml:"retain_matching_columns,omitempty"`
	RetainIntermediateCalculationColumns bool `json:"retain_intermediate_calculation_columns,omitempty" yaml:"retain_intermediate_calculation_columns,omitempty"`
}

// ComparisonSettings configures one compared column.
type ComparisonSettings struct {
	OutputColumnName         string          `json:"output_column_name,omitempty" yaml:"output_column_name,omitempty"`
	ColumnName               string          `json:"column_name,omitempty" yaml:"column_name,omitempty"`
	ComparisonLevels         []LevelSettings `json:"comparison_levels,omitempty" yaml:"comparison_levels,omitempty" validate:"dive"`
	TermFrequencyAdjustments bool            `json:"term_frequency_adjustments,omitempty" yaml:"term_frequency_adjustments,omitempty"`
	TFAdjustmentWeight       *float64        `json:"tf_adjustment_weight,omitempty" yaml:"tf_adjustment_weight,omitempty" validate:"omitempty,gte=0"`
	NumLevels                int             `json:"num_levels,omitempty" yaml:"num_levels,omitempty" validate:"gte=0"`
}

// Name is the output name of the comparison.
func (c *ComparisonSettings) Name() string {
	if c.OutputColumnName != "" {
		return c.OutputColumnName
	}
	return c.ColumnName
}

// LevelSettings configures one comparison level. A distance level listing
// several thresholds (and optionally one metric per threshold) expands into
// one level per threshold during completion.
type LevelSettings struct {
	Type                  string    `json:"type,omitempty" yaml:"type,omitempty" validate:"omitempty,oneof=null exact distance custom else"`
	Label                 string    `json:"label,omitempty" yaml:"label,omitempty"`
	Column                string    `json:"column,omitempty" yaml:"column,omitempty"`
	Fields                []string  `json:"fields,omitempty" yaml:"fields,omitempty"`
	Transform             string    `json:"transform,omitempty" yaml:"transform,omitempty"`
	PrefixLength          int       `json:"prefix_length,omitempty" yaml:"prefix_length,omitempty" validate:"gte=0"`
	Metric                string    `json:"metric,omitempty" yaml:"metric,omitempty"`
	Metrics               []string  `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Threshold             *float64  `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Thresholds            []float64 `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Expression            string    `json:"expression,omitempty" yaml:"expression,omitempty"`
	MProbability          *float64  `json:"m_probability,omitempty" yaml:"m_probability,omitempty" validate:"omitempty,probability"`
	UProbability          *float64  `json:"u_probability,omitempty" yaml:"u_probability,omitempty" validate:"omitempty,probability"`
	ComparisonVectorValue *int      `json:"comparison_vector_value,omitempty" yaml:"comparison_vector_value,omitempty"`
}

// fields resolves the compared fields of a level.
func (l *LevelSettings) fields() []string {
	if len(l.Fields) > 0 {
		return l.Fields
	}
	if l.Column != "" {
		return []string{l.Column}
	}
	return nil
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	out := s
	out.ProportionOfMatches = clonePtr(s.ProportionOfMatches)
	out.EMConvergence = clonePtr(s.EMConvergence)
	out.MaxIterations = clonePtr(s.MaxIterations)
	out.MaxCartesianPairs = clonePtr(s.MaxCartesianPairs)
	out.BlockingRules = cloneSlice(s.BlockingRules)
	if s.Comparisons != nil {
		out.Comparisons = make([]ComparisonSettings, len(s.Comparisons))
		for i := range s.Comparisons {
			out.Comparisons[i] = s.Comparisons[i].clone()
		}
	}
	return out
}

func (c ComparisonSettings) clone() ComparisonSettings {
	out := c
	out.TFAdjustmentWeight = clonePtr(c.TFAdjustmentWeight)
	if c.ComparisonLevels != nil {
		out.ComparisonLevels = make([]LevelSettings, len(c.ComparisonLevels))
		for i := range c.ComparisonLevels {
			out.ComparisonLevels[i] = c.ComparisonLevels[i].clone()
		}
	}
	return out
}

func (l LevelSettings) clone() LevelSettings {
	out := l
	out.Fields = cloneSlice(l.Fields)
	out.Metrics = cloneSlice(l.Metrics)
	out.Thresholds = cloneSlice(l.Thresholds)
	out.Threshold = clonePtr(l.Threshold)
	out.MProbability = clonePtr(l.MProbability)
	out.UProbability = clonePtr(l.UProbability)
	out.ComparisonVectorValue = clonePtr(l.ComparisonVectorValue)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append(make([]T, 0, len(s)), s...)
}

// Ptr returns a pointer to v, for building settings in code.
func Ptr[T any](v T) *T {
	return &v
}

// Mode returns the link mode, defaulting to dedupe_only.
func (s *Settings) Mode() (models.LinkMode, error) {
	if s.LinkType == "" {
		return models.LinkModeDedupeOnly, nil
	}
	return models.ParseLinkMode(s.LinkType)
}
