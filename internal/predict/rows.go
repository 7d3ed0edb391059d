// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package predict

import "github.com/tomtom215/linkage/internal/models"

// Column name prefixes of prediction rows.
const (
	PrefixGamma = "gamma_"
	PrefixBF    = "bf_"
	PrefixTFAdj = "bf_tf_adj_"

	ColMatchWeight      = "match_weight"
	ColMatchProbability = "match_probability"
)

// Columns returns the output column names in row order.
func (p *Predictor) Columns() []string {
	id := p.opts.UniqueIDColumn
	cols := []string{id + "_l", id + "_r"}
	if p.opts.LinkMode != models.LinkModeDedupeOnly {
		cols = append(cols, p.opts.SourceColumn+"_l", p.opts.SourceColumn+"_r")
	}
	if p.opts.RetainMatchingColumns {
		for _, f := range p.model.Fields() {
			cols = append(cols, f+"_l", f+"_r")
		}
	}
	for i := range p.model.Columns {
		c := &p.model.Columns[i]
		cols = append(cols, PrefixGamma+c.Name)
		if p.opts.RetainIntermediate {
			cols = append(cols, PrefixBF+c.Name)
		}
		if c.TermFrequency {
			cols = append(cols, PrefixTFAdj+c.Name)
		}
	}
	return append(cols, ColMatchWeight, ColMatchProbability)
}

// Row flattens a scored pair into values aligned with Columns.
func (p *Predictor) Row(sp *models.ScoredPair) []any {
	row := []any{sp.IDL, sp.IDR}
	if p.opts.LinkMode != models.LinkModeDedupeOnly {
		row = append(row, sp.SourceL, sp.SourceR)
	}
	if p.opts.RetainMatchingColumns {
		for _, f := range p.model.Fields() {
			v := sp.Values[f]
			row = append(row, v[0], v[1])
		}
	}
	for i := range p.model.Columns {
		row = append(row, sp.Gammas[i])
		if p.opts.RetainIntermediate {
			row = append(row, sp.BayesFactors[i])
		}
		if p.model.Columns[i].TermFrequency {
			row = append(row, sp.TFAdjustments[i])
		}
	}
	return append(row, sp.MatchWeight, sp.MatchProbability)
}

// Record returns a scored pair as a column-name keyed map.
func (p *Predictor) Record(sp *models.ScoredPair) map[string]any {
	cols := p.Columns()
	row := p.Row(sp)
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		out[c] = row[i]
	}
	return out
}
