// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package tf implements term-frequency adjustment of exact-match levels.
//
// Agreement on a rare value ("Linacre") is stronger evidence of a match than
// agreement on a common one ("Smith"). The exact level's u probability is
// an average over all values; the adjustment rescales the Bayes factor by
// how the pair's actual value frequencies compare to it.
//
// Each side contributes bf_side = (u_exact / f_side)^(w/2), read as the odds
// p_side = bf_side / (1 + bf_side). The two sides are combined with Bayes'
// rule
//
//	p = p_l·p_r / (p_l·p_r + (1 - p_l)·(1 - p_r))
//
// and the factor is p / (1 - p). For equal values this is (u_exact / f)^w.
// A value missing from either side, or absent from the frequency table,
// gives p_side = 0.5 and leaves the factor at 1.
package tf

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/cache"
	"github.com/tomtom215/linkage/internal/comparison"
	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/metrics"
	"github.com/tomtom215/linkage/internal/models"
)

// KeyFunc renders a value as a frequency table key. It reports false for
// values that have no key.
type KeyFunc func(v any) (string, bool)

// Table holds the relative frequency of every non-null value of a field over
// the registered records.
type Table struct {
	Column      string             `json:"column"`
	Frequencies map[string]float64 `json:"frequencies"`

	key KeyFunc
}

// BuildTable computes the frequency table of column over an input table.
// Values are grouped under key, so raw values that a transformed exact level
// treats as equal share one frequency. A nil key groups raw values.
func BuildTable(ctx context.Context, exec executor.Executor, table, column string, key KeyFunc) (*Table, error) {
	if key == nil {
		key = models.ValueKey
	}
	res, err := exec.Execute(ctx, executor.FrequencyQuery{Table: table, Column: column})
	if err != nil {
		return nil, fmt.Errorf("term frequencies of %s: %w", column, err)
	}
	vIdx, err := res.MustIndex("frequencies", executor.ColValue)
	if err != nil {
		return nil, err
	}
	fIdx, err := res.MustIndex("frequencies", executor.ColFreq)
	if err != nil {
		return nil, err
	}

	t := &Table{Column: column, Frequencies: make(map[string]float64, len(res.Rows)), key: key}
	for _, row := range res.Rows {
		k, ok := key(row[vIdx])
		if !ok || k == "" {
			continue
		}
		t.Frequencies[k] += executor.Float64(row[fIdx])
	}
	return t, nil
}

// Frequency returns the relative frequency of a value. Null and unseen
// values report false.
func (t *Table) Frequency(v any) (float64, bool) {
	keyOf := t.key
	if keyOf == nil {
		keyOf = models.ValueKey
	}
	k, ok := keyOf(v)
	if !ok {
		return 0, false
	}
	f, ok := t.Frequencies[k]
	return f, ok && f > 0
}

// Factor returns the multiplicative adjustment for an exact-match pair whose
// values have frequencies fl and fr. A non-positive frequency means the
// value is unknown on that side.
func Factor(uExact, fl, fr, weight float64) float64 {
	if uExact <= 0 || fl <= 0 || fr <= 0 || weight == 0 {
		return 1
	}
	// p/(1-p) of the Bayes combination is the product of the side odds,
	// which avoids the cancellation in 1-p for very rare values.
	return sideOdds(uExact, fl, weight) * sideOdds(uExact, fr, weight)
}

func sideOdds(u, f, w float64) float64 {
	return math.Pow(u/f, w/2)
}

// Adjuster computes term-frequency factors for a comparison model. Frequency
// tables are built on first use and cached for the session.
type Adjuster struct {
	exec   executor.Executor
	table  string
	tables *cache.LRU[string, *Table]
	logger zerolog.Logger
}

// NewAdjuster creates an adjuster over a registered input table.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewAdjuster(exec executor.Executor, table string, logger zerolog.Logger) *Adjuster {
	return &Adjuster{
		exec:   exec,
		table:  table,
		tables: cache.NewLRU[string, *Table](64),
		logger: logger.With().Str("component", "tf").Logger(),
	}
}

// Table returns the cached frequency table of an adjusted column, building
// it on a miss. Values are keyed by the column's exact level.
func (a *Adjuster) Table(ctx context.Context, c *comparison.Column) (*Table, error) {
	exact, ok := c.ExactLevel()
	if !ok {
		return nil, fmt.Errorf("term frequencies of %s: no exact match level", c.Name)
	}
	pred, _ := exact.Predicate.(comparison.ExactMatch)
	field := c.TFField()
	cacheKey := field + "\x00" + pred.Transform

	if t, ok := a.tables.Get(cacheKey); ok {
		metrics.RecordTFCache(true)
		return t, nil
	}
	metrics.RecordTFCache(false)

	start := time.Now()
	t, err := BuildTable(ctx, a.exec, a.table, field, pred.Key)
	if err != nil {
		return nil, err
	}
	a.tables.Add(cacheKey, t)
	a.logger.Debug().
		Str("field", field).
		Str("transform", pred.Transform).
		Int("values", len(t.Frequencies)).
		Dur("duration", time.Since(start)).
		Msg("Term frequency table built")
	return t, nil
}

// Prepare builds the tables of every adjusted column of the model.
func (a *Adjuster) Prepare(ctx context.Context, model *comparison.Model) error {
	for i := range model.Columns {
		c := &model.Columns[i]
		if !c.TermFrequency {
			continue
		}
		if _, err := a.Table(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Factor returns the adjustment of column c for a pair at comparison-vector
// value gamma, given the exact level's u probability and the pair's raw
// values of the adjusted field. Both sides are looked up under the exact
// level's transform, so "John" and "JOHN" read the frequency of "john" when
// the level lowercases. Columns without adjustment and pairs outside the
// exact level get 1.
func (a *Adjuster) Factor(ctx context.Context, c *comparison.Column, uExact float64, gamma int, l, r any) (float64, error) {
	if !c.TermFrequency {
		return 1, nil
	}
	exact, ok := c.ExactLevel()
	if !ok || exact.Value != gamma {
		return 1, nil
	}
	t, err := a.Table(ctx, c)
	if err != nil {
		return 1, err
	}
	fl, okL := t.Frequency(l)
	fr, okR := t.Frequency(r)
	if !okL || !okR {
		return 1, nil
	}
	return Factor(uExact, fl, fr, c.TFWeight), nil
}

// CacheStats exposes the table cache statistics.
func (a *Adjuster) CacheStats() (hits, misses int64, size int) {
	return a.tables.Stats()
}
