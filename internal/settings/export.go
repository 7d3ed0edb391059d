// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package settings

import "github.com/tomtom215/linkage/internal/params"

// WithParameters returns completed settings carrying trained parameters:
// λ becomes proportion_of_matches and every level's m and u are taken from
// the column of the same name by comparison-vector value. Columns absent
// from p keep their values.
func WithParameters(s Settings, p *params.Parameters) Settings {
	out := Complete(s)
	if p == nil {
		return out
	}
	out.ProportionOfMatches = Ptr(p.Lambda)

	for i := range out.Comparisons {
		cs := &out.Comparisons[i]
		c, ok := p.Column(cs.Name())
		if !ok {
			continue
		}
		col := p.Columns[c]
		for j := range cs.ComparisonLevels {
			ls := &cs.ComparisonLevels[j]
			if ls.Type == LevelNull || ls.ComparisonVectorValue == nil {
				continue
			}
			v := *ls.ComparisonVectorValue
			if v >= 0 && v < len(col.M) && v < len(col.U) {
				ls.MProbability = Ptr(col.M[v])
				ls.UProbability = Ptr(col.U[v])
			}
		}
	}
	return out
}
