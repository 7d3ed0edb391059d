// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package predict scores candidate pairs with trained parameters.
//
// The posterior odds of a pair are
//
//	odds = λ/(1-λ) · Π BF_c · Π TF_c
//
// where BF_c = m_c/u_c at the pair's level and TF_c is the term-frequency
// factor (1 unless the column is adjusted and the pair agrees exactly).
// Scores are accumulated in log space, so extreme evidence saturates the
// probability at 0 or 1 instead of overflowing.
package predict

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/comparison"
	"github.com/tomtom215/linkage/internal/metrics"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/params"
	"github.com/tomtom215/linkage/internal/tf"
)

// Options controls which columns prediction rows carry.
type Options struct {
	LinkMode models.LinkMode

	// UniqueIDColumn and SourceColumn name the id columns of output rows.
	UniqueIDColumn string
	SourceColumn   string

	// RetainMatchingColumns adds <field>_l and <field>_r for every compared field.
	RetainMatchingColumns bool

	// RetainIntermediate adds bf_<column> for every column.
	RetainIntermediate bool
}

// Predictor scores pairs against one parameter snapshot.
type Predictor struct {
	model    *comparison.Model
	params   *params.Parameters
	adjuster *tf.Adjuster
	opts     Options
	logger   zerolog.Logger
}

// New creates a predictor. Parameters are copied and clamped into the open
// unit interval so no Bayes factor is zero or infinite. adjuster may be nil
// when no column uses term-frequency adjustment.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(model *comparison.Model, p *params.Parameters, adjuster *tf.Adjuster, opts Options, logger zerolog.Logger) (*Predictor, error) {
	if model == nil || p == nil {
		return nil, fmt.Errorf("predict: model and parameters are required")
	}
	if len(p.Columns) != len(model.Columns) {
		return nil, fmt.Errorf("predict: %d parameter columns for %d comparison columns", len(p.Columns), len(model.Columns))
	}
	for i := range model.Columns {
		if p.Columns[i].Name != model.Columns[i].Name {
			return nil, fmt.Errorf("predict: parameter column %d is %q, expected %q", i, p.Columns[i].Name, model.Columns[i].Name)
		}
		if len(p.Columns[i].M) != model.Columns[i].NumLevels() {
			return nil, fmt.Errorf("predict: column %q has %d levels, parameters have %d",
				model.Columns[i].Name, model.Columns[i].NumLevels(), len(p.Columns[i].M))
		}
		if model.Columns[i].TermFrequency && adjuster == nil {
			return nil, fmt.Errorf("predict: column %q needs a term frequency adjuster", model.Columns[i].Name)
		}
	}
	if p.HasNaN() {
		return nil, fmt.Errorf("%w: prediction parameters contain NaN", models.ErrNumericFailure)
	}

	if opts.LinkMode == "" {
		opts.LinkMode = models.LinkModeDedupeOnly
	}
	if opts.UniqueIDColumn == "" {
		opts.UniqueIDColumn = models.ColumnUniqueID
	}
	if opts.SourceColumn == "" {
		opts.SourceColumn = models.ColumnSource
	}

	clamped := p.Clone()
	clamped.Clamp()
	return &Predictor{
		model:    model,
		params:   clamped,
		adjuster: adjuster,
		opts:     opts,
		logger:   logger.With().Str("component", "predict").Logger(),
	}, nil
}

// Score combines the prior with per-column Bayes factors and term-frequency
// factors. It returns the match weight log2(odds) and the match probability.
func Score(lambda float64, bayesFactors, tfFactors []float64) (weight, probability float64) {
	logOdds := math.Log(lambda) - math.Log1p(-lambda)
	for _, bf := range bayesFactors {
		logOdds += math.Log(bf)
	}
	for _, f := range tfFactors {
		logOdds += math.Log(f)
	}
	return logOdds / math.Ln2, 1 / (1 + math.Exp(-logOdds))
}

// Predict scores every pair. ranked must be the records indexed by rank, as
// registered with the executor.
func (p *Predictor) Predict(ctx context.Context, pairs []models.CandidatePair, ranked []models.Record) ([]models.ScoredPair, error) {
	start := time.Now()
	if p.adjuster != nil {
		if err := p.adjuster.Prepare(ctx, p.model); err != nil {
			return nil, err
		}
	}

	var fields []string
	if p.opts.RetainMatchingColumns {
		fields = p.model.Fields()
	}

	out := make([]models.ScoredPair, len(pairs))
	for i, pair := range pairs {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if pair.RankL < 0 || pair.RankR < 0 || pair.RankL >= int64(len(ranked)) || pair.RankR >= int64(len(ranked)) {
			return nil, fmt.Errorf("predict: pair (%d, %d) references an unknown record", pair.RankL, pair.RankR)
		}
		l, r := &ranked[pair.RankL], &ranked[pair.RankR]

		sp, err := p.score(ctx, pair, l, r)
		if err != nil {
			return nil, err
		}
		if len(fields) > 0 {
			sp.Values = make(map[string][2]any, len(fields))
			for _, f := range fields {
				sp.Values[f] = [2]any{l.Value(f), r.Value(f)}
			}
		}
		out[i] = sp
	}

	metrics.RecordPairsScored(len(out))
	p.logger.Info().
		Int("pairs", len(out)).
		Dur("duration", time.Since(start)).
		Msg("Pairs scored")
	return out, nil
}

func (p *Predictor) score(ctx context.Context, pair models.CandidatePair, l, r *models.Record) (models.ScoredPair, error) {
	gammas := p.model.Evaluate(l.Value, r.Value)
	k := len(p.model.Columns)
	sp := models.ScoredPair{
		CandidatePair: pair,
		Gammas:        gammas,
		BayesFactors:  make([]float64, k),
		TFAdjustments: make([]float64, k),
	}
	for c := range p.model.Columns {
		col := &p.model.Columns[c]
		sp.BayesFactors[c] = p.params.BayesFactor(c, gammas[c])
		sp.TFAdjustments[c] = 1
		if !col.TermFrequency {
			continue
		}
		exact, ok := col.ExactLevel()
		if !ok {
			continue
		}
		field := col.TFField()
		f, err := p.adjuster.Factor(ctx, col, p.params.Columns[c].U[exact.Value], gammas[c], l.Value(field), r.Value(field))
		if err != nil {
			return sp, err
		}
		sp.TFAdjustments[c] = f
	}
	sp.MatchWeight, sp.MatchProbability = Score(p.params.Lambda, sp.BayesFactors, sp.TFAdjustments)
	return sp, nil
}

// AboveThreshold keeps the pairs whose match probability is at least
// threshold.
func AboveThreshold(scored []models.ScoredPair, threshold float64) []models.ScoredPair {
	var out []models.ScoredPair
	for _, sp := range scored {
		if sp.MatchProbability >= threshold {
			out = append(out, sp)
		}
	}
	return out
}
