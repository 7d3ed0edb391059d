// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package em trains Fellegi-Sunter parameters with expectation maximisation.
//
// The trainer never sees individual pairs. Each iteration issues a single
// PatternQuery: the executor groups the gamma table by distinct comparison
// vectors and evaluates the expectation step, returning per pattern the pair
// count n and the summed match probability p_sum. The maximisation step then
// runs over those aggregates only, so memory is bounded by the number of
// distinct patterns rather than the number of pairs.
//
// Three modes cover the estimation strategies:
//
//   - ModeFull updates m, u and λ.
//   - ModeTrainM holds u fixed and trains m on a population selected by a
//     deterministic blocking rule. The rule's own columns are not trained.
//     λ evolves for the session only and is never committed.
//   - ModeTrainU holds m fixed and trains u on a random sample, optionally
//     treating every sampled pair as a non-match.
package em

import (
	"time"

	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/params"
)

// Mode selects which parameters a run may change.
type Mode string

const (
	ModeFull   Mode = "full"
	ModeTrainM Mode = "train_m"
	ModeTrainU Mode = "train_u"
)

// Status is the trainer state.
type Status string

const (
	StatusInitialized          Status = "initialized"
	StatusIterating            Status = "iterating"
	StatusConverged            Status = "converged"
	StatusMaxIterationsReached Status = "max_iterations_reached"
	StatusFailed               Status = "failed"
)

// Terminal reports whether no further transition can happen.
func (s Status) Terminal() bool {
	switch s {
	case StatusConverged, StatusMaxIterationsReached, StatusFailed:
		return true
	}
	return false
}

// Defaults.
const (
	DefaultConvergence   = 0.001
	DefaultMaxIterations = 25
)

// Config configures a training run.
type Config struct {
	Mode Mode

	// Convergence is the largest absolute m or u change that ends the run.
	Convergence float64

	MaxIterations int

	// FixedColumns are never updated. In ModeTrainM they are the columns of
	// the blocking rule that selected the population, and their Bayes
	// factors are left out of the expectation step.
	FixedColumns []string

	// AssumeNonMatch scores every pair as a non-match in ModeTrainU.
	AssumeNonMatch bool
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeFull
	}
	if c.Convergence <= 0 {
		c.Convergence = DefaultConvergence
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	return c
}

// Iteration records one completed iteration.
type Iteration struct {
	Iteration int `json:"iteration"`

	// LogLikelihood of the pattern counts under the parameters used by the
	// expectation step of this iteration.
	LogLikelihood float64 `json:"log_likelihood"`

	// Lambda is the proportion of matches after the maximisation step.
	Lambda float64 `json:"lambda"`

	MaxDelta float64       `json:"max_delta"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a run.
type Result struct {
	Status     Status `json:"status"`
	Iterations int    `json:"iterations"`

	// Parameters is the last committed snapshot.
	Parameters *params.Parameters `json:"parameters"`

	// SessionLambda is the λ the run ended with. It equals
	// Parameters.Lambda except in ModeTrainM, where λ is not committed.
	SessionLambda float64 `json:"session_lambda"`

	// Patterns is the number of distinct comparison vectors seen.
	Patterns int `json:"patterns"`

	History  []Iteration      `json:"history"`
	Warnings []models.Warning `json:"warnings,omitempty"`
}
