// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrConfiguration is the root of every invalid settings error.
	ErrConfiguration = errors.New("configuration error")

	// ErrData is the root of every invalid input data error.
	ErrData = errors.New("data error")

	// ErrBlockingExplosion is returned when candidate generation would
	// produce an unbounded number of pairs.
	ErrBlockingExplosion = errors.New("blocking explosion")

	// ErrNumericFailure is returned when a parameter becomes NaN.
	ErrNumericFailure = errors.New("numeric failure")
)

// ConfigurationError reports an invalid or contradictory setting.
type ConfigurationError struct {
	Path   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Path == "" {
		return "configuration error: " + e.Reason
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Path, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// DataError reports malformed input records.
type DataError struct {
	Dataset string
	Reason  string
}

func (e *DataError) Error() string {
	if e.Dataset == "" {
		return "data error: " + e.Reason
	}
	return fmt.Sprintf("data error: dataset %q: %s", e.Dataset, e.Reason)
}

func (e *DataError) Unwrap() error { return ErrData }

// BlockingExplosionError reports a cartesian product larger than the
// configured safety threshold.
type BlockingExplosionError struct {
	Estimated int64
	Threshold int64
}

func (e *BlockingExplosionError) Error() string {
	return fmt.Sprintf("blocking explosion: %d candidate pairs exceeds threshold %d; add blocking rules or allow cartesian explicitly",
		e.Estimated, e.Threshold)
}

func (e *BlockingExplosionError) Unwrap() error { return ErrBlockingExplosion }

// WarningKind classifies a recovered, non-fatal condition.
type WarningKind string

const (
	// WarningNumericDegeneracy marks a probability clamped into range or a
	// column whose level mass collapsed.
	WarningNumericDegeneracy WarningKind = "numeric_degeneracy"

	// WarningConvergenceNotReached marks a training run that hit max_iterations.
	WarningConvergenceNotReached WarningKind = "convergence_not_reached"
)

// Warning is reported alongside results rather than returned as an error.
type Warning struct {
	Kind      WarningKind `json:"kind"`
	Column    string      `json:"column,omitempty"`
	Iteration int         `json:"iteration,omitempty"`
	Message   string      `json:"message"`
}

func (w Warning) String() string {
	if w.Column != "" {
		return fmt.Sprintf("%s (column %s, iteration %d): %s", w.Kind, w.Column, w.Iteration, w.Message)
	}
	return fmt.Sprintf("%s (iteration %d): %s", w.Kind, w.Iteration, w.Message)
}
