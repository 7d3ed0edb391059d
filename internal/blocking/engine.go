// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package blocking generates candidate record pairs.
//
// Each blocking rule runs as a restrictive join in the executor. Rule i
// excludes every pair an earlier rule already produced, so the union over
// rules contains no duplicates and the per-rule counts add up to the total.
// Without rules the engine falls back to the full cross product, guarded by
// an estimate of its size.
package blocking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/metrics"
	"github.com/tomtom215/linkage/internal/models"
)

// Config configures candidate generation.
type Config struct {
	Mode  models.LinkMode
	Rules []models.BlockingRule

	// MaxCartesianPairs is the largest cross product generated without
	// rules. Zero or less disables the guard.
	MaxCartesianPairs int64

	// AllowCartesian bypasses the guard explicitly.
	AllowCartesian bool
}

// RuleStats reports the pairs a rule contributed after excluding the pairs
// of earlier rules.
type RuleStats struct {
	Rule  string `json:"rule"`
	Pairs int    `json:"pairs"`
}

// Engine runs blocking rules against a registered input table.
type Engine struct {
	exec   executor.Executor
	table  string
	cfg    Config
	logger zerolog.Logger
}

// NewEngine creates a blocking engine over table.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewEngine(exec executor.Executor, table string, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = models.LinkModeDedupeOnly
	}
	return &Engine{
		exec:   exec,
		table:  table,
		cfg:    cfg,
		logger: logger.With().Str("component", "blocking").Logger(),
	}
}

// EstimateCartesian returns the number of pairs the full cross product
// would produce under the link mode: N(N-1)/2 for dedupe_only and
// link_and_dedupe, the sum of n_i*n_j over distinct sources for link_only.
func (e *Engine) EstimateCartesian(ctx context.Context) (int64, error) {
	res, err := e.exec.Execute(ctx, executor.CountQuery{Table: e.table})
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	n := res.Index(executor.ColCount)
	if n < 0 {
		return 0, executor.ColumnError("count", executor.ColCount)
	}

	var total, sumSquares int64
	for _, row := range res.Rows {
		c := executor.Int64(row[n])
		total += c
		sumSquares += c * c
	}

	if e.cfg.Mode == models.LinkModeLinkOnly {
		// Σ_{i<j} n_i n_j = (N² - Σ n_i²) / 2
		return (total*total - sumSquares) / 2, nil
	}
	return total * (total - 1) / 2, nil
}

// CandidatePairs returns the union of every rule's pairs sorted by
// (rank_l, rank_r), together with the per-rule contribution.
func (e *Engine) CandidatePairs(ctx context.Context) ([]models.CandidatePair, []RuleStats, error) {
	start := time.Now()
	rules := e.cfg.Rules

	if len(rules) == 0 {
		estimate, err := e.EstimateCartesian(ctx)
		if err != nil {
			return nil, nil, err
		}
		if e.cfg.MaxCartesianPairs > 0 && estimate > e.cfg.MaxCartesianPairs && !e.cfg.AllowCartesian {
			metrics.RecordBlockingExplosion()
			return nil, nil, &models.BlockingExplosionError{Estimated: estimate, Threshold: e.cfg.MaxCartesianPairs}
		}
		e.logger.Warn().
			Int64("estimated_pairs", estimate).
			Msg("No blocking rules, comparing every eligible pair")
		rules = []models.BlockingRule{{}}
	}

	var pairs []models.CandidatePair
	stats := make([]RuleStats, 0, len(rules))
	for i, rule := range rules {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		res, err := e.exec.Execute(ctx, executor.BlockQuery{
			Table:   e.table,
			Rule:    rule,
			Exclude: rules[:i],
			Mode:    e.cfg.Mode,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("blocking rule %q: %w", rule.Label(), err)
		}
		got, err := Pairs(res)
		if err != nil {
			return nil, nil, err
		}

		metrics.RecordCandidatePairs(rule.Label(), len(got))
		stats = append(stats, RuleStats{Rule: rule.Label(), Pairs: len(got)})
		e.logger.Debug().Str("rule", rule.Label()).Int("pairs", len(got)).Msg("Blocking rule applied")
		pairs = append(pairs, got...)
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].RankL != pairs[j].RankL {
			return pairs[i].RankL < pairs[j].RankL
		}
		return pairs[i].RankR < pairs[j].RankR
	})

	e.logger.Info().
		Int("rules", len(rules)).
		Int("pairs", len(pairs)).
		Dur("duration", time.Since(start)).
		Msg("Candidate pairs generated")
	return pairs, stats, nil
}

// Pairs decodes a block query result.
func Pairs(t *executor.Table) ([]models.CandidatePair, error) {
	idx := make([]int, 0, 6)
	for _, name := range []string{
		executor.ColRankL, executor.ColRankR,
		executor.ColIDL, executor.ColIDR,
		executor.ColSourceL, executor.ColSourceR,
	} {
		i, err := t.MustIndex("block", name)
		if err != nil {
			return nil, err
		}
		idx = append(idx, i)
	}

	out := make([]models.CandidatePair, len(t.Rows))
	for k, row := range t.Rows {
		out[k] = models.CandidatePair{
			RankL:   executor.Int64(row[idx[0]]),
			RankR:   executor.Int64(row[idx[1]]),
			IDL:     executor.String(row[idx[2]]),
			IDR:     executor.String(row[idx[3]]),
			SourceL: executor.String(row[idx[4]]),
			SourceR: executor.String(row[idx[5]]),
		}
	}
	return out, nil
}
