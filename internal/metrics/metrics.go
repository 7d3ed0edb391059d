// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package metrics exposes Prometheus instrumentation for the linkage engine:
// executor query latency, candidate pair generation, EM training progress,
// term-frequency cache efficiency and prediction volume.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Executor Metrics
	ExecutorQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkage_executor_query_duration_seconds",
			Help:    "Duration of executor queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "query"},
	)

	ExecutorQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkage_executor_query_errors_total",
			Help: "Total number of failed executor queries",
		},
		[]string{"backend", "query", "error_type"},
	)

	// Blocking Metrics
	CandidatePairsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkage_candidate_pairs_total",
			Help: "Total candidate pairs generated, by blocking rule",
		},
		[]string{"rule"},
	)

	BlockingExplosions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkage_blocking_explosions_total",
			Help: "Total candidate generations rejected by the cartesian safety threshold",
		},
	)

	// EM Training Metrics
	EMIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkage_em_iterations_total",
			Help: "Total EM iterations run, by training mode",
		},
		[]string{"mode"},
	)

	EMIterationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkage_em_iteration_duration_seconds",
			Help:    "Duration of a single EM iteration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"mode"},
	)

	EMMaxDelta = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkage_em_max_parameter_delta",
			Help: "Largest absolute m/u change in the most recent EM iteration",
		},
		[]string{"mode"},
	)

	EMTrainingOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkage_em_training_outcomes_total",
			Help: "Total EM training runs by final status",
		},
		[]string{"mode", "status"},
	)

	NumericDegeneracyWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkage_numeric_degeneracy_warnings_total",
			Help: "Total probabilities clamped or columns with collapsed level mass",
		},
		[]string{"column"},
	)

	// Term Frequency Metrics
	TFCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkage_tf_cache_hits_total",
			Help: "Total term-frequency table cache hits",
		},
	)

	TFCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkage_tf_cache_misses_total",
			Help: "Total term-frequency table cache misses",
		},
	)

	// Prediction Metrics
	PairsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "linkage_pairs_scored_total",
			Help: "Total candidate pairs scored by the predictor",
		},
	)
)

// RecordExecutorQuery records an executor query metric
func RecordExecutorQuery(backend, query string, duration time.Duration, err error) {
	ExecutorQueryDuration.WithLabelValues(backend, query).Observe(duration.Seconds())
	if err != nil {
		ExecutorQueryErrors.WithLabelValues(backend, query, errorType(err)).Inc()
	}
}

// errorType keeps label cardinality bounded.
func errorType(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline"
	}
	msg := err.Error()
	if len(msg) > 50 {
		msg = msg[:50]
	}
	return msg
}

// RecordCandidatePairs records pairs generated by one blocking rule
func RecordCandidatePairs(rule string, n int) {
	CandidatePairsGenerated.WithLabelValues(rule).Add(float64(n))
}

// RecordBlockingExplosion records a rejected cartesian generation
func RecordBlockingExplosion() {
	BlockingExplosions.Inc()
}

// RecordEMIteration records one completed EM iteration
func RecordEMIteration(mode string, duration time.Duration, maxDelta float64) {
	EMIterations.WithLabelValues(mode).Inc()
	EMIterationDuration.WithLabelValues(mode).Observe(duration.Seconds())
	EMMaxDelta.WithLabelValues(mode).Set(maxDelta)
}

// RecordEMOutcome records the final status of a training run
func RecordEMOutcome(mode, status string) {
	EMTrainingOutcomes.WithLabelValues(mode, status).Inc()
}

// RecordNumericDegeneracy records a recovered degeneracy for a column
func RecordNumericDegeneracy(column string) {
	if column == "" {
		column = "lambda"
	}
	NumericDegeneracyWarnings.WithLabelValues(column).Inc()
}

// RecordTFCache records a term-frequency cache lookup
func RecordTFCache(hit bool) {
	if hit {
		TFCacheHits.Inc()
	} else {
		TFCacheMisses.Inc()
	}
}

// RecordPairsScored records scored prediction rows
func RecordPairsScored(n int) {
	PairsScored.Add(float64(n))
}
