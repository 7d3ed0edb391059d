// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package linker ties the engine together into a linkage session.
//
// A session owns one set of ranked input records registered with an
// executor, the comparison model built from the settings and the current
// parameter snapshot. Training operations replace the snapshot; prediction
// reads it.
//
// Typical use:
//
//	l, err := linker.New(ctx, exec, s, logger, people)
//	_, err = l.EstimateUUsingRandomSampling(ctx, 1_000_000, 42)
//	_, err = l.EstimateMUsingEM(ctx, "l.dob = r.dob")
//	scored, err := l.Predict(ctx)
package linker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/blocking"
	"github.com/tomtom215/linkage/internal/comparison"
	"github.com/tomtom215/linkage/internal/em"
	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/params"
	"github.com/tomtom215/linkage/internal/predict"
	"github.com/tomtom215/linkage/internal/settings"
	"github.com/tomtom215/linkage/internal/tf"
)

// Linker is one linkage session. Operations on a Linker are serialized.
type Linker struct {
	exec      executor.Executor
	settings  settings.Settings
	model     *comparison.Model
	rules     []models.BlockingRule
	mode      models.LinkMode
	ranked    []models.Record
	input     *executor.Table
	adjuster  *tf.Adjuster
	sessionID string

	// base carries the session id and is handed to the components;
	// logger adds this package's component name. The trainer reads the
	// session id from the context and gets root.
	root   zerolog.Logger
	base   zerolog.Logger
	logger zerolog.Logger

	// table names are scoped to the session so executors can be shared
	tablePrefix string
	inputTable  string

	mu       sync.Mutex
	params   *params.Parameters
	warnings []models.Warning
	seen     map[warningKey]struct{}
	seq      int
}

type warningKey struct {
	kind   models.WarningKind
	column string
}

// New validates the settings and the datasets, ranks the records and
// registers them with the executor.
//
// dedupe_only takes exactly one dataset; link_only and link_and_dedupe take
// two or more with distinct names.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(ctx context.Context, exec executor.Executor, s settings.Settings, logger zerolog.Logger, datasets ...models.Dataset) (*Linker, error) {
	if exec == nil {
		return nil, fmt.Errorf("linker: nil executor")
	}
	if err := settings.Validate(s); err != nil {
		return nil, err
	}
	completed := settings.Complete(s)
	model, rules, err := settings.Build(completed)
	if err != nil {
		return nil, err
	}
	mode, err := completed.Mode()
	if err != nil {
		return nil, err
	}
	if err := checkDatasets(mode, datasets); err != nil {
		return nil, err
	}

	ranked, err := models.RankRecords(datasets)
	if err != nil {
		return nil, err
	}
	fields := requiredFields(model, rules)
	if err := checkFields(ranked, fields); err != nil {
		return nil, err
	}
	input, err := executor.InputTable(ranked, fields)
	if err != nil {
		return nil, err
	}

	sessionID := logging.SessionIDFromContext(ctx)
	if sessionID == "" {
		sessionID = logging.GenerateSessionID()
	}
	prefix := tablePrefix(sessionID)

	l := &Linker{
		exec:        exec,
		settings:    completed,
		model:       model,
		rules:       rules,
		mode:        mode,
		ranked:      ranked,
		input:       input,
		sessionID:   sessionID,
		root:        logger,
		base:        logger.With().Str("session_id", sessionID).Logger(),
		tablePrefix: prefix,
		inputTable:  prefix + "_input",
		params:      model.Parameters(*completed.ProportionOfMatches),
		seen:        make(map[warningKey]struct{}),
	}
	l.logger = l.base.With().Str("component", "linker").Logger()

	if err := exec.Register(l.context(ctx), l.inputTable, input); err != nil {
		return nil, fmt.Errorf("register input records: %w", err)
	}
	for i := range model.Columns {
		if model.Columns[i].TermFrequency {
			l.adjuster = tf.NewAdjuster(exec, l.inputTable, l.base)
			break
		}
	}

	l.logger.Info().
		Str("link_type", string(mode)).
		Int("datasets", len(datasets)).
		Int("records", len(ranked)).
		Int("comparisons", len(model.Columns)).
		Int("blocking_rules", len(rules)).
		Msg("Linkage session created")
	return l, nil
}

// tablePrefix derives an identifier-safe table name prefix from a session id.
func tablePrefix(sessionID string) string {
	var b strings.Builder
	b.WriteString("s")
	for _, r := range sessionID {
		if b.Len() > 12 {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func checkDatasets(mode models.LinkMode, datasets []models.Dataset) error {
	switch mode {
	case models.LinkModeDedupeOnly:
		if len(datasets) != 1 {
			return &models.DataError{Reason: fmt.Sprintf("dedupe_only takes exactly one dataset, got %d", len(datasets))}
		}
	default:
		if len(datasets) < 2 {
			return &models.DataError{Reason: fmt.Sprintf("%s needs at least two datasets, got %d", mode, len(datasets))}
		}
		names := make(map[string]struct{}, len(datasets))
		for _, ds := range datasets {
			if ds.Name == "" {
				return &models.DataError{Reason: fmt.Sprintf("%s needs every dataset to be named", mode)}
			}
			if _, dup := names[ds.Name]; dup {
				return &models.DataError{Dataset: ds.Name, Reason: "dataset name used twice"}
			}
			names[ds.Name] = struct{}{}
		}
	}
	return nil
}

// requiredFields lists every field read by a comparison or a blocking rule.
func requiredFields(model *comparison.Model, rules []models.BlockingRule) []string {
	fields := model.Fields()
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		seen[f] = struct{}{}
	}
	for _, r := range rules {
		for _, c := range r.Columns() {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				fields = append(fields, c)
			}
		}
	}
	return fields
}

// checkFields rejects fields no record carries, which are almost always a
// misspelt column name.
func checkFields(ranked []models.Record, fields []string) error {
	if len(ranked) == 0 {
		return nil
	}
	for _, f := range fields {
		found := false
		for i := range ranked {
			if _, ok := ranked[i].Fields[f]; ok {
				found = true
				break
			}
		}
		if !found {
			return &models.DataError{Reason: fmt.Sprintf("no record has field %q", f)}
		}
	}
	return nil
}

// SessionID identifies the session in logs.
func (l *Linker) SessionID() string { return l.sessionID }

// Records returns the ranked records: the index of a record is its rank.
func (l *Linker) Records() []models.Record { return l.ranked }

// Model returns the comparison model.
func (l *Linker) Model() *comparison.Model { return l.model }

// Parameters returns a copy of the current parameter snapshot.
func (l *Linker) Parameters() *params.Parameters {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.params.Clone()
}

// Settings returns the completed settings carrying the current parameters.
func (l *Linker) Settings() settings.Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return settings.WithParameters(l.settings, l.params)
}

// Warnings returns every distinct warning raised in the session, one per
// kind and column.
func (l *Linker) Warnings() []models.Warning {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Warning(nil), l.warnings...)
}

func (l *Linker) context(ctx context.Context) context.Context {
	return logging.ContextWithSessionID(ctx, l.sessionID)
}

// EstimateUUsingRandomSampling trains u on a random sample of records. The
// sample is sized so that the eligible pairs within it approach
// targetPairs; those pairs are scored as non-matches and m is unchanged.
func (l *Linker) EstimateUUsingRandomSampling(ctx context.Context, targetPairs int64, seed int64) (*em.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx = l.context(ctx)

	if targetPairs <= 0 {
		return nil, &models.ConfigurationError{Path: "target_rows", Reason: "must be positive"}
	}
	rows := sampleSize(targetPairs)
	res, err := l.exec.Execute(ctx, executor.SampleQuery{Table: l.inputTable, Rows: rows, Seed: seed})
	if err != nil {
		return nil, fmt.Errorf("sample records: %w", err)
	}
	rankIdx, err := res.MustIndex("sample", models.ColumnRank)
	if err != nil {
		return nil, err
	}
	picked := make(map[int64]struct{}, res.Len())
	for _, row := range res.Rows {
		picked[executor.Int64(row[rankIdx])] = struct{}{}
	}
	sample := make([][]any, 0, len(picked))
	for _, row := range l.input.Rows {
		if _, ok := picked[executor.Int64(row[0])]; ok {
			sample = append(sample, row)
		}
	}
	sampleTable := l.nextTable("sample")
	if err := l.exec.Register(ctx, sampleTable, executor.NewTypedTable(l.input.Columns, sample)); err != nil {
		return nil, fmt.Errorf("register sample: %w", err)
	}

	eng := blocking.NewEngine(l.exec, sampleTable, blocking.Config{Mode: l.mode, AllowCartesian: true}, l.base)
	pairs, _, err := eng.CandidatePairs(ctx)
	if err != nil {
		return nil, err
	}
	l.logger.Info().Int("sampled_records", len(sample)).Int("pairs", len(pairs)).Msg("Estimating u from random sample")

	return l.train(ctx, pairs, em.Config{Mode: em.ModeTrainU, AssumeNonMatch: true})
}

// sampleSize is the number of records whose pairs number about target:
// the smallest n with n(n-1)/2 >= target.
func sampleSize(target int64) int {
	n := math.Ceil((1 + math.Sqrt(1+8*float64(target))) / 2)
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// EstimateMUsingEM trains m on the pairs selected by a deterministic
// blocking rule, holding u fixed. Columns compared on a field the rule
// blocks on agree by construction, so they keep their m and are left out
// of the expectation step. λ is not changed.
func (l *Linker) EstimateMUsingEM(ctx context.Context, rule string) (*em.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx = l.context(ctx)

	r, err := settings.ParseRule(rule)
	if err != nil {
		return nil, &models.ConfigurationError{Path: "blocking_rule", Reason: err.Error()}
	}
	if r.IsCartesian() {
		return nil, &models.ConfigurationError{Path: "blocking_rule", Reason: "training m needs a restrictive rule"}
	}
	r.Name = strings.TrimSpace(rule)

	blocked := make(map[string]struct{})
	for _, c := range r.Columns() {
		blocked[c] = struct{}{}
	}
	var fixed []string
	for i := range l.model.Columns {
		for _, f := range l.model.Columns[i].Fields() {
			if _, ok := blocked[f]; ok {
				fixed = append(fixed, l.model.Columns[i].Name)
				break
			}
		}
	}
	if len(fixed) == len(l.model.Columns) {
		return nil, &models.ConfigurationError{
			Path:   "blocking_rule",
			Reason: fmt.Sprintf("rule %q blocks on every compared column, nothing left to train", r.Name),
		}
	}

	eng := blocking.NewEngine(l.exec, l.inputTable, l.blockingConfig([]models.BlockingRule{r}), l.base)
	pairs, _, err := eng.CandidatePairs(ctx)
	if err != nil {
		return nil, err
	}
	l.logger.Info().Str("rule", r.Name).Strs("fixed_columns", fixed).Int("pairs", len(pairs)).Msg("Estimating m from blocked pairs")

	return l.train(ctx, pairs, em.Config{Mode: em.ModeTrainM, FixedColumns: fixed})
}

// EstimateParametersUsingEM runs full EM over the pairs of the prediction
// blocking rules, updating λ, m and u.
func (l *Linker) EstimateParametersUsingEM(ctx context.Context) (*em.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx = l.context(ctx)

	pairs, _, err := l.candidatePairs(ctx)
	if err != nil {
		return nil, err
	}
	return l.train(ctx, pairs, em.Config{Mode: em.ModeFull})
}

// Predict scores every candidate pair of the prediction blocking rules with
// the current parameters.
func (l *Linker) Predict(ctx context.Context) ([]models.ScoredPair, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ctx = l.context(ctx)

	pairs, _, err := l.candidatePairs(ctx)
	if err != nil {
		return nil, err
	}
	pred, err := l.predictor()
	if err != nil {
		return nil, err
	}
	return pred.Predict(ctx, pairs, l.ranked)
}

// Predictor returns a predictor over the current parameters, configured
// with the output options of the settings.
func (l *Linker) Predictor() (*predict.Predictor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.predictor()
}

func (l *Linker) predictor() (*predict.Predictor, error) {
	return predict.New(l.model, l.params, l.adjuster, predict.Options{
		LinkMode:              l.mode,
		UniqueIDColumn:        l.settings.UniqueIDColumnName,
		SourceColumn:          l.settings.SourceDatasetColumnName,
		RetainMatchingColumns: l.settings.RetainMatchingColumns,
		RetainIntermediate:    l.settings.RetainIntermediateCalculationColumns,
	}, l.base)
}

// CandidatePairs returns the pairs of the prediction blocking rules with
// per-rule counts.
func (l *Linker) CandidatePairs(ctx context.Context) ([]models.CandidatePair, []blocking.RuleStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.candidatePairs(l.context(ctx))
}

func (l *Linker) candidatePairs(ctx context.Context) ([]models.CandidatePair, []blocking.RuleStats, error) {
	eng := blocking.NewEngine(l.exec, l.inputTable, l.blockingConfig(l.rules), l.base)
	return eng.CandidatePairs(ctx)
}

func (l *Linker) blockingConfig(rules []models.BlockingRule) blocking.Config {
	return blocking.Config{
		Mode:              l.mode,
		Rules:             rules,
		MaxCartesianPairs: *l.settings.MaxCartesianPairs,
	}
}

// train evaluates the gamma vectors of pairs, registers them and runs EM
// from the current snapshot. The resulting parameters are committed even
// when the run stops at the iteration limit; a failed run commits nothing.
func (l *Linker) train(ctx context.Context, pairs []models.CandidatePair, cfg em.Config) (*em.Result, error) {
	vectors, err := l.model.Vectors(ctx, pairs, l.ranked)
	if err != nil {
		return nil, err
	}
	gammaTable := l.nextTable("gammas")
	if err := l.exec.Register(ctx, gammaTable, l.model.GammaTable(pairs, vectors)); err != nil {
		return nil, fmt.Errorf("register comparison vectors: %w", err)
	}

	cfg.Convergence = *l.settings.EMConvergence
	cfg.MaxIterations = *l.settings.MaxIterations
	trainer, err := em.NewTrainer(l.exec, gammaTable, l.model.GammaColumns(), l.params, cfg, l.root)
	if err != nil {
		return nil, err
	}
	res, err := trainer.Run(ctx)
	if res != nil {
		l.addWarnings(res.Warnings)
	}
	if err != nil {
		return res, err
	}
	l.params = res.Parameters.Clone()
	return res, nil
}

func (l *Linker) nextTable(kind string) string {
	l.seq++
	return fmt.Sprintf("%s_%s_%d", l.tablePrefix, kind, l.seq)
}

func (l *Linker) addWarnings(ws []models.Warning) {
	for _, w := range ws {
		k := warningKey{kind: w.Kind, column: w.Column}
		if _, dup := l.seen[k]; dup {
			continue
		}
		l.seen[k] = struct{}{}
		l.warnings = append(l.warnings, w)
	}
}
