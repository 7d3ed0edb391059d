// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package executor

import (
	"math"

	"github.com/tomtom215/linkage/internal/models"
)

// Query is a closed set of descriptors understood by every Executor.
type Query interface {
	kind() string
}

// BlockQuery generates the candidate pairs of one blocking rule over a
// registered input table. Pairs matched by any rule in Exclude are dropped,
// and every returned pair satisfies rank_l < rank_r.
//
// Result columns: rank_l, rank_r, id_l, id_r, src_l, src_r.
type BlockQuery struct {
	Table   string
	Rule    models.BlockingRule
	Exclude []models.BlockingRule
	Mode    models.LinkMode
}

func (BlockQuery) kind() string { return "block" }

// PatternQuery aggregates a gamma table by its distinct combinations of
// gamma columns. When Scoring is set the executor also evaluates the EM
// expectation step, summing the posterior match probability per pattern.
//
// Result columns: the gamma columns, n, and p_sum when Scoring is set.
type PatternQuery struct {
	Table   string
	Columns []string
	Scoring *Scoring
}

func (PatternQuery) kind() string { return "pattern" }

// FrequencyQuery counts the distinct non-null values of a column over the
// records of an input table.
//
// Result columns: value, n, frequency.
type FrequencyQuery struct {
	Table  string
	Column string
}

func (FrequencyQuery) kind() string { return "frequency" }

// SampleQuery draws a repeatable reservoir sample of input records.
//
// Result columns: _rank, unique_id, source_dataset.
type SampleQuery struct {
	Table string
	Rows  int
	Seed  int64
}

func (SampleQuery) kind() string { return "sample" }

// CountQuery counts records per source dataset.
//
// Result columns: source_dataset, n.
type CountQuery struct {
	Table string
}

func (CountQuery) kind() string { return "count" }

// Scoring carries the parameters the expectation step needs: the prior
// match proportion and, per gamma column, the Bayes factor of each
// comparison-vector value. Null values (-1) and values outside Factors
// contribute a factor of 1.
type Scoring struct {
	Lambda  float64
	Factors [][]float64
}

// BayesFactor returns the factor for column c at comparison-vector value g.
func (s *Scoring) BayesFactor(c int, g int64) float64 {
	if g < 0 || c >= len(s.Factors) || g >= int64(len(s.Factors[c])) {
		return 1
	}
	return s.Factors[c][g]
}

// MatchProbability is the posterior
//
//	p = λ·ΠBF / (λ·ΠBF + (1 − λ))
//
// for one gamma pattern.
func (s *Scoring) MatchProbability(gammas []int64) float64 {
	if s.Lambda <= 0 {
		return 0
	}
	prod := 1.0
	for c, g := range gammas {
		prod *= s.BayesFactor(c, g)
	}
	num := s.Lambda * prod
	if math.IsInf(num, 1) {
		return 1
	}
	return num / (num + (1 - s.Lambda))
}
