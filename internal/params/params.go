// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package params holds the trainable Fellegi-Sunter parameters: the prior
// match proportion λ and, per comparison column, the m and u probability of
// every comparison-vector value.
package params

import (
	"fmt"
	"math"

	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/models"
)

// Probability bounds applied by Clamp.
const (
	MinProbability = 1e-6
	MaxProbability = 1 - 1e-6
)

// sumTolerance allows for the drift clamping introduces into a column sum.
const sumTolerance = 1e-4

// ColumnParameters are the m and u probabilities of one comparison column,
// indexed by comparison-vector value.
type ColumnParameters struct {
	Name string    `json:"column_name" yaml:"column_name"`
	M    []float64 `json:"m_probabilities" yaml:"m_probabilities"`
	U    []float64 `json:"u_probabilities" yaml:"u_probabilities"`
}

// Parameters is one committed snapshot of the model.
type Parameters struct {
	Lambda  float64            `json:"probability_two_random_records_match" yaml:"probability_two_random_records_match"`
	Columns []ColumnParameters `json:"columns" yaml:"columns"`
}

// Clone returns a deep copy.
func (p *Parameters) Clone() *Parameters {
	out := &Parameters{Lambda: p.Lambda, Columns: make([]ColumnParameters, len(p.Columns))}
	for i, c := range p.Columns {
		out.Columns[i] = ColumnParameters{
			Name: c.Name,
			M:    append([]float64(nil), c.M...),
			U:    append([]float64(nil), c.U...),
		}
	}
	return out
}

// Column returns the index of a column by name.
func (p *Parameters) Column(name string) (int, bool) {
	for i, c := range p.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// BayesFactor returns m/u for column c at comparison-vector value g.
// Null values (g < 0) contribute 1.
func (p *Parameters) BayesFactor(c, g int) float64 {
	if g < 0 || c >= len(p.Columns) {
		return 1
	}
	col := p.Columns[c]
	if g >= len(col.M) || g >= len(col.U) {
		return 1
	}
	return col.M[g] / col.U[g]
}

// Scoring converts the snapshot into the expectation-step parameters an
// executor evaluates.
func (p *Parameters) Scoring() *executor.Scoring {
	s := &executor.Scoring{Lambda: p.Lambda, Factors: make([][]float64, len(p.Columns))}
	for c, col := range p.Columns {
		f := make([]float64, len(col.M))
		for g := range col.M {
			f[g] = p.BayesFactor(c, g)
		}
		s.Factors[c] = f
	}
	return s
}

// MaxAbsDelta returns the largest absolute change of any m or u value
// between two snapshots of the same shape.
func MaxAbsDelta(a, b *Parameters) float64 {
	var largest float64
	for c := range a.Columns {
		if c >= len(b.Columns) {
			break
		}
		for _, pair := range [][2][]float64{{a.Columns[c].M, b.Columns[c].M}, {a.Columns[c].U, b.Columns[c].U}} {
			for g := range pair[0] {
				if g >= len(pair[1]) {
					break
				}
				if d := math.Abs(pair[0][g] - pair[1][g]); d > largest || math.IsNaN(d) {
					largest = d
				}
			}
		}
	}
	return largest
}

// HasNaN reports whether any parameter is NaN.
func (p *Parameters) HasNaN() bool {
	if math.IsNaN(p.Lambda) {
		return true
	}
	for _, c := range p.Columns {
		for g := range c.M {
			if math.IsNaN(c.M[g]) {
				return true
			}
		}
		for g := range c.U {
			if math.IsNaN(c.U[g]) {
				return true
			}
		}
	}
	return false
}

// Clamp moves every m, u and λ into [MinProbability, MaxProbability] and
// returns one NumericDegeneracy warning per column that needed it. λ
// warnings carry an empty column name.
func (p *Parameters) Clamp() []models.Warning {
	var warnings []models.Warning
	if v, clamped := clamp(p.Lambda); clamped {
		warnings = append(warnings, models.Warning{
			Kind:    models.WarningNumericDegeneracy,
			Message: fmt.Sprintf("proportion of matches %g clamped to %g", p.Lambda, v),
		})
		p.Lambda = v
	}
	for c := range p.Columns {
		col := &p.Columns[c]
		var n int
		for _, s := range [][]float64{col.M, col.U} {
			for g := range s {
				if v, clamped := clamp(s[g]); clamped {
					s[g] = v
					n++
				}
			}
		}
		if n > 0 {
			warnings = append(warnings, models.Warning{
				Kind:    models.WarningNumericDegeneracy,
				Column:  col.Name,
				Message: fmt.Sprintf("%d probabilities clamped into [%g, %g]", n, MinProbability, MaxProbability),
			})
		}
	}
	return warnings
}

func clamp(v float64) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return v, false
	case v < MinProbability:
		return MinProbability, true
	case v > MaxProbability:
		return MaxProbability, true
	}
	return v, false
}

// Validate checks λ ∈ (0,1), every probability in [0,1] and every column's
// m and u summing to 1. NaN anywhere is reported as ErrNumericFailure.
func (p *Parameters) Validate() error {
	if p.HasNaN() {
		return fmt.Errorf("%w: parameters contain NaN", models.ErrNumericFailure)
	}
	if p.Lambda <= 0 || p.Lambda >= 1 {
		return &models.ConfigurationError{
			Path:   "probability_two_random_records_match",
			Reason: fmt.Sprintf("must be strictly between 0 and 1, got %g", p.Lambda),
		}
	}
	for c, col := range p.Columns {
		if len(col.M) != len(col.U) {
			return &models.ConfigurationError{
				Path:   fmt.Sprintf("columns[%d]", c),
				Reason: fmt.Sprintf("%d m probabilities but %d u probabilities", len(col.M), len(col.U)),
			}
		}
		for _, side := range []struct {
			name string
			s    []float64
		}{{"m", col.M}, {"u", col.U}} {
			name, s := side.name, side.s
			var sum float64
			for _, v := range s {
				if v < 0 || v > 1 {
					return &models.ConfigurationError{
						Path:   fmt.Sprintf("columns[%d].%s_probabilities", c, name),
						Reason: fmt.Sprintf("probability %g out of range", v),
					}
				}
				sum += v
			}
			if len(s) > 0 && math.Abs(sum-1) > sumTolerance {
				return &models.ConfigurationError{
					Path:   fmt.Sprintf("columns[%d].%s_probabilities", c, name),
					Reason: fmt.Sprintf("sum to %g, expected 1", sum),
				}
			}
		}
	}
	return nil
}
