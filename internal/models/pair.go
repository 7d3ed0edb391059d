// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package models

// CandidatePair references two registered records by rank.
// RankL < RankR always holds.
type CandidatePair struct {
	RankL   int64  `json:"rank_l"`
	RankR   int64  `json:"rank_r"`
	IDL     string `json:"unique_id_l"`
	IDR     string `json:"unique_id_r"`
	SourceL string `json:"source_dataset_l"`
	SourceR string `json:"source_dataset_r"`
}

// ScoredPair is one prediction row.
type ScoredPair struct {
	CandidatePair

	// Gammas holds one comparison-vector value per comparison column.
	Gammas []int

	// BayesFactors holds the m/u ratio per column (1 for null levels).
	BayesFactors []float64

	// TFAdjustments holds the term-frequency factor per column (1 when not applied).
	TFAdjustments []float64

	MatchWeight      float64
	MatchProbability float64

	// Values holds the left and right value of every compared field when
	// matching columns are retained.
	Values map[string][2]any
}
