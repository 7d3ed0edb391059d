// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package comparison

import (
	"context"
	"fmt"

	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/params"
)

// GammaPrefix prefixes the gamma column of every comparison in tables and
// prediction output.
const GammaPrefix = "gamma_"

// GammaVector holds one comparison-vector value per column.
type GammaVector []int

// Model is the ordered set of compared columns.
type Model struct {
	Columns []Column
}

// NewModel validates every column and returns the model.
func NewModel(columns ...Column) (*Model, error) {
	if len(columns) == 0 {
		return nil, &models.ConfigurationError{Path: "comparisons", Reason: "at least one comparison is required"}
	}
	seen := make(map[string]struct{}, len(columns))
	m := &Model{Columns: make([]Column, len(columns))}
	for i := range columns {
		c := columns[i]
		c.Levels = append([]Level(nil), c.Levels...)
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[c.Name]; dup {
			return nil, &models.ConfigurationError{Path: c.Name, Reason: "duplicate comparison column"}
		}
		seen[c.Name] = struct{}{}
		m.Columns[i] = c
	}
	return m, nil
}

// GammaColumn returns the gamma column name of a comparison.
func GammaColumn(name string) string {
	return GammaPrefix + name
}

// GammaColumns lists the gamma column names in model order.
func (m *Model) GammaColumns() []string {
	out := make([]string, len(m.Columns))
	for i := range m.Columns {
		out[i] = GammaColumn(m.Columns[i].Name)
	}
	return out
}

// Fields lists every record field read by any column.
func (m *Model) Fields() []string {
	seen := make(map[string]struct{})
	var out []string
	for i := range m.Columns {
		for _, f := range m.Columns[i].Fields() {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}
	return out
}

// Evaluate computes the gamma vector of one pair.
func (m *Model) Evaluate(l, r Side) GammaVector {
	g := make(GammaVector, len(m.Columns))
	for i := range m.Columns {
		g[i] = m.Columns[i].Evaluate(l, r)
	}
	return g
}

// Vectors evaluates candidate pairs against the ranked records they refer to.
func (m *Model) Vectors(ctx context.Context, pairs []models.CandidatePair, ranked []models.Record) ([]GammaVector, error) {
	out := make([]GammaVector, len(pairs))
	for i, p := range pairs {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if p.RankL < 0 || p.RankR < 0 || p.RankL >= int64(len(ranked)) || p.RankR >= int64(len(ranked)) {
			return nil, fmt.Errorf("pair (%s, %s) references unknown rank", p.IDL, p.IDR)
		}
		out[i] = m.Evaluate(ranked[p.RankL].Value, ranked[p.RankR].Value)
	}
	return out, nil
}

// GammaTable builds the executor table of gamma vectors: rank_l, rank_r and
// one gamma column per comparison.
func (m *Model) GammaTable(pairs []models.CandidatePair, vectors []GammaVector) *executor.Table {
	cols := make([]executor.Column, 0, len(m.Columns)+2)
	cols = append(cols,
		executor.Column{Name: executor.ColRankL, Type: executor.TypeBigint},
		executor.Column{Name: executor.ColRankR, Type: executor.TypeBigint})
	for _, name := range m.GammaColumns() {
		cols = append(cols, executor.Column{Name: name, Type: executor.TypeBigint})
	}

	rows := make([][]any, len(vectors))
	for i, g := range vectors {
		row := make([]any, 0, len(cols))
		row = append(row, pairs[i].RankL, pairs[i].RankR)
		for _, v := range g {
			row = append(row, int64(v))
		}
		rows[i] = row
	}
	return executor.NewTypedTable(cols, rows)
}

// Parameters exports the level probabilities as a parameter snapshot.
func (m *Model) Parameters(lambda float64) *params.Parameters {
	p := &params.Parameters{Lambda: lambda, Columns: make([]params.ColumnParameters, len(m.Columns))}
	for i := range m.Columns {
		c := &m.Columns[i]
		k := c.NumLevels()
		cp := params.ColumnParameters{Name: c.Name, M: make([]float64, k), U: make([]float64, k)}
		for j := range c.Levels {
			lvl := &c.Levels[j]
			if lvl.IsNull() {
				continue
			}
			cp.M[lvl.Value] = lvl.M
			cp.U[lvl.Value] = lvl.U
		}
		p.Columns[i] = cp
	}
	return p
}

// ApplyParameters writes a snapshot back into the level probabilities.
func (m *Model) ApplyParameters(p *params.Parameters) error {
	for i := range m.Columns {
		c := &m.Columns[i]
		idx, ok := p.Column(c.Name)
		if !ok {
			return fmt.Errorf("parameters have no column %q", c.Name)
		}
		cp := p.Columns[idx]
		if len(cp.M) != c.NumLevels() || len(cp.U) != c.NumLevels() {
			return fmt.Errorf("column %q: parameters have %d levels, model has %d", c.Name, len(cp.M), c.NumLevels())
		}
		for j := range c.Levels {
			lvl := &c.Levels[j]
			if lvl.IsNull() {
				continue
			}
			lvl.M = cp.M[lvl.Value]
			lvl.U = cp.U[lvl.Value]
		}
	}
	return nil
}
