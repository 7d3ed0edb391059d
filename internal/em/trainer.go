// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package em

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/metrics"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/params"
)

// ErrAlreadyRun is returned by Run on a trainer that has left the
// initialized state.
var ErrAlreadyRun = errors.New("trainer already run")

// pattern is one distinct comparison vector with its aggregated statistics.
type pattern struct {
	gammas []int64
	n      float64
	pSum   float64
}

// Trainer runs EM over a registered gamma table. A Trainer is single use.
type Trainer struct {
	exec    executor.Executor
	table   string
	columns []string
	start   *params.Parameters
	cfg     Config
	logger  zerolog.Logger

	// fixed columns are never updated; excluded columns are also left out
	// of the expectation step (ModeTrainM only)
	fixed    map[int]bool
	excluded map[int]bool

	mu     sync.RWMutex
	status Status
}

// NewTrainer creates a trainer. columns are the gamma column names of
// table, aligned with start.Columns.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewTrainer(exec executor.Executor, table string, columns []string, start *params.Parameters, cfg Config, logger zerolog.Logger) (*Trainer, error) {
	if start == nil {
		return nil, fmt.Errorf("em: nil starting parameters")
	}
	if len(columns) != len(start.Columns) {
		return nil, fmt.Errorf("em: %d gamma columns for %d parameter columns", len(columns), len(start.Columns))
	}
	if err := start.Validate(); err != nil {
		return nil, err
	}

	cfg = cfg.withDefaults()
	switch cfg.Mode {
	case ModeFull, ModeTrainM, ModeTrainU:
	default:
		return nil, &models.ConfigurationError{Path: "mode", Reason: fmt.Sprintf("unknown training mode %q", cfg.Mode)}
	}

	t := &Trainer{
		exec:     exec,
		table:    table,
		columns:  append([]string(nil), columns...),
		start:    start.Clone(),
		cfg:      cfg,
		logger:   logger.With().Str("component", "em").Str("mode", string(cfg.Mode)).Logger(),
		fixed:    make(map[int]bool),
		excluded: make(map[int]bool),
		status:   StatusInitialized,
	}
	for _, name := range cfg.FixedColumns {
		c, ok := start.Column(name)
		if !ok {
			return nil, &models.ConfigurationError{Path: "fixed_columns", Reason: fmt.Sprintf("unknown column %q", name)}
		}
		t.fixed[c] = true
		if cfg.Mode == ModeTrainM {
			t.excluded[c] = true
		}
	}
	return t, nil
}

// Status returns the current state.
func (t *Trainer) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Trainer) setStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Run iterates until convergence, the iteration limit, a numeric failure or
// cancellation. Cancellation is observed between iterations; an executor
// call already in flight completes first.
//
// On failure the returned Result still carries the last committed
// parameters alongside the error.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	t.mu.Lock()
	if t.status != StatusInitialized {
		status := t.status
		t.mu.Unlock()
		return nil, fmt.Errorf("%w (status %s)", ErrAlreadyRun, status)
	}
	t.status = StatusIterating
	t.mu.Unlock()

	logger := t.logger
	if id := logging.SessionIDFromContext(ctx); id != "" {
		logger = logger.With().Str("session_id", id).Logger()
	}

	cur := t.start.Clone()
	lambda := cur.Lambda
	res := &Result{Status: StatusIterating, Parameters: cur, SessionLambda: lambda}
	warnings := newWarningSet(logger)
	converged := false

	for it := 1; it <= t.cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return t.fail(logger, res, warnings, err)
		}
		started := time.Now()

		scoring := t.scoring(cur, lambda)
		patterns, err := t.patterns(context.WithoutCancel(ctx), scoring)
		if err != nil {
			return t.fail(logger, res, warnings, fmt.Errorf("iteration %d: %w", it, err))
		}
		res.Patterns = len(patterns)
		ll := t.logLikelihood(patterns, cur, scoring.Lambda)

		next, nextLambda, degenerate := t.maximise(patterns, cur, lambda)
		if next.HasNaN() || math.IsNaN(nextLambda) {
			return t.fail(logger, res, warnings,
				fmt.Errorf("%w: iteration %d produced NaN parameters", models.ErrNumericFailure, it))
		}

		degenerate = append(degenerate, next.Clamp()...)
		if t.cfg.Mode != ModeFull {
			session := &params.Parameters{Lambda: nextLambda}
			degenerate = append(degenerate, session.Clamp()...)
			nextLambda = session.Lambda
		} else {
			nextLambda = next.Lambda
		}
		for _, w := range degenerate {
			w.Iteration = it
			warnings.add(w)
		}

		delta := params.MaxAbsDelta(cur, next)
		cur, lambda = next, nextLambda
		res.Parameters, res.SessionLambda, res.Iterations = cur, lambda, it

		elapsed := time.Since(started)
		res.History = append(res.History, Iteration{
			Iteration:     it,
			LogLikelihood: ll,
			Lambda:        lambda,
			MaxDelta:      delta,
			Duration:      elapsed,
		})
		metrics.RecordEMIteration(string(t.cfg.Mode), elapsed, delta)
		logger.Debug().
			Int("iteration", it).
			Float64("log_likelihood", ll).
			Float64("lambda", lambda).
			Float64("max_delta", delta).
			Int("patterns", len(patterns)).
			Msg("EM iteration complete")

		// With every pair scored as a non-match the expectation step does
		// not depend on the parameters, so one step reaches the fixed point.
		if delta < t.cfg.Convergence || (t.cfg.Mode == ModeTrainU && t.cfg.AssumeNonMatch) {
			converged = true
			break
		}
	}

	if converged {
		res.Status = StatusConverged
	} else {
		res.Status = StatusMaxIterationsReached
		warnings.add(models.Warning{
			Kind:      models.WarningConvergenceNotReached,
			Iteration: res.Iterations,
			Message:   fmt.Sprintf("no convergence within %d iterations (epsilon %g)", t.cfg.MaxIterations, t.cfg.Convergence),
		})
	}
	res.Warnings = warnings.list()
	t.setStatus(res.Status)
	metrics.RecordEMOutcome(string(t.cfg.Mode), string(res.Status))

	logger.Info().
		Str("status", string(res.Status)).
		Int("iterations", res.Iterations).
		Float64("lambda", res.SessionLambda).
		Int("warnings", len(res.Warnings)).
		Msg("EM training finished")
	return res, nil
}

func (t *Trainer) fail(logger zerolog.Logger, res *Result, warnings *warningSet, err error) (*Result, error) { //nolint:gocritic // logger by value
	res.Status = StatusFailed
	res.Warnings = warnings.list()
	t.setStatus(StatusFailed)
	metrics.RecordEMOutcome(string(t.cfg.Mode), string(StatusFailed))
	logger.Error().Err(err).Int("iterations", res.Iterations).Msg("EM training failed")
	return res, err
}

// scoring builds the expectation-step parameters for the executor.
func (t *Trainer) scoring(cur *params.Parameters, lambda float64) *executor.Scoring {
	s := cur.Scoring()
	s.Lambda = lambda
	if t.cfg.Mode == ModeTrainU && t.cfg.AssumeNonMatch {
		s.Lambda = 0
	}
	for c := range t.excluded {
		s.Factors[c] = nil
	}
	return s
}

func (t *Trainer) patterns(ctx context.Context, scoring *executor.Scoring) ([]pattern, error) {
	res, err := t.exec.Execute(ctx, executor.PatternQuery{Table: t.table, Columns: t.columns, Scoring: scoring})
	if err != nil {
		return nil, err
	}

	idx := make([]int, len(t.columns))
	for c, name := range t.columns {
		if idx[c], err = res.MustIndex("patterns", name); err != nil {
			return nil, err
		}
	}
	nIdx, err := res.MustIndex("patterns", executor.ColCount)
	if err != nil {
		return nil, err
	}
	pIdx, err := res.MustIndex("patterns", executor.ColPSum)
	if err != nil {
		return nil, err
	}

	out := make([]pattern, len(res.Rows))
	for i, row := range res.Rows {
		g := make([]int64, len(idx))
		for c, j := range idx {
			g[c] = executor.Int64(row[j])
		}
		out[i] = pattern{gammas: g, n: executor.Float64(row[nIdx]), pSum: executor.Float64(row[pIdx])}
	}
	return out, nil
}

// logLikelihood is Σ n·log(λ·Πm + (1-λ)·Πu) over patterns, with null and
// excluded columns contributing a factor of 1 to both products.
func (t *Trainer) logLikelihood(patterns []pattern, p *params.Parameters, lambda float64) float64 {
	var ll float64
	for _, pt := range patterns {
		mProd, uProd := 1.0, 1.0
		for c, g := range pt.gammas {
			if g < 0 || t.excluded[c] || c >= len(p.Columns) || g >= int64(len(p.Columns[c].M)) {
				continue
			}
			mProd *= p.Columns[c].M[g]
			uProd *= p.Columns[c].U[g]
		}
		ll += pt.n * math.Log(lambda*mProd+(1-lambda)*uProd)
	}
	return ll
}

// maximise computes the next parameters from the aggregated expectations.
// Denominators only count pairs where the column is non-null. A column with
// no mass on a side keeps its previous values and yields a warning.
func (t *Trainer) maximise(patterns []pattern, cur *params.Parameters, lambda float64) (*params.Parameters, float64, []models.Warning) {
	next := cur.Clone()
	var warnings []models.Warning

	var sumN, sumP float64
	for _, pt := range patterns {
		sumN += pt.n
		sumP += pt.pSum
	}
	nextLambda := lambda
	if sumN > 0 && !(t.cfg.Mode == ModeTrainU && t.cfg.AssumeNonMatch) {
		nextLambda = sumP / sumN
	}
	if t.cfg.Mode == ModeFull {
		next.Lambda = nextLambda
	}

	for c := range next.Columns {
		if t.fixed[c] {
			continue
		}
		col := &next.Columns[c]
		k := len(col.M)
		mNum, uNum := make([]float64, k), make([]float64, k)
		var mDen, uDen float64
		for _, pt := range patterns {
			g := pt.gammas[c]
			if g < 0 || g >= int64(k) {
				continue
			}
			nonMatch := pt.n - pt.pSum
			if nonMatch < 0 {
				nonMatch = 0
			}
			mNum[g] += pt.pSum
			mDen += pt.pSum
			uNum[g] += nonMatch
			uDen += nonMatch
		}

		if t.cfg.Mode != ModeTrainU {
			if mDen > 0 || math.IsNaN(mDen) {
				for g := range mNum {
					col.M[g] = mNum[g] / mDen
				}
			} else {
				warnings = append(warnings, noMass(col.Name, "m"))
			}
		}
		if t.cfg.Mode != ModeTrainM {
			if uDen > 0 || math.IsNaN(uDen) {
				for g := range uNum {
					col.U[g] = uNum[g] / uDen
				}
			} else {
				warnings = append(warnings, noMass(col.Name, "u"))
			}
		}
	}
	return next, nextLambda, warnings
}

func noMass(column, side string) models.Warning {
	return models.Warning{
		Kind:    models.WarningNumericDegeneracy,
		Column:  column,
		Message: fmt.Sprintf("no non-null comparisons carry %s mass, keeping previous %s probabilities", side, side),
	}
}
