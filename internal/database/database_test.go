// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package database

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/linkage/internal/config"
	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/models"
)

// testDBSemaphore limits concurrent database creation to prevent resource exhaustion in CI.
// Too many concurrent DuckDB CGO calls can cause hangs.
var testDBSemaphore = make(chan struct{}, 1)

// testDBMutex serializes database creation.
var testDBMutex sync.Mutex

// setupTestDB creates a new in-memory test database with timeout protection.
// The semaphore is held for the entire test and released by t.Cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
		Threads:   2,
	}

	type result struct {
		db  *DB
		err error
	}

	resultCh := make(chan result, 1)
	go func() {
		testDBMutex.Lock()
		db, err := New(cfg, logging.NewTestLogger(io.Discard))
		testDBMutex.Unlock()
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		t.Cleanup(func() { _ = res.db.Close() })
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatalf("Timeout: database creation took longer than 120s (DuckDB may be under resource pressure)")
		return nil
	}
}

func peopleTable(t *testing.T, datasets ...models.Dataset) *executor.Table {
	t.Helper()
	if len(datasets) == 0 {
		datasets = []models.Dataset{{Name: "people", Records: []models.Record{
			{ID: "1", Fields: map[string]any{"mob": 10, "surname": "Linacre", "dob": 1980}},
			{ID: "2", Fields: map[string]any{"mob": 10, "surname": "Linacre", "dob": 1981}},
			{ID: "3", Fields: map[string]any{"mob": 10, "surname": "Linacer", "dob": 1990}},
			{ID: "4", Fields: map[string]any{"mob": 7, "surname": "Smith", "dob": 1950}},
			{ID: "5", Fields: map[string]any{"mob": 8, "surname": "Smith", "dob": 1951}},
			{ID: "6", Fields: map[string]any{"mob": 8, "surname": "", "dob": nil}},
		}}}
	}
	ranked, err := models.RankRecords(datasets)
	require.NoError(t, err)
	tbl, err := executor.InputTable(ranked, nil)
	require.NoError(t, err)
	return tbl
}

// both registers the same table with DuckDB and the in-memory executor.
func both(t *testing.T, tbl *executor.Table) (*DB, *executor.Memory) {
	t.Helper()
	db := setupTestDB(t)
	mem := executor.NewMemory(logging.NewTestLogger(io.Discard))
	t.Cleanup(func() { _ = mem.Close() })

	ctx := context.Background()
	require.NoError(t, db.Register(ctx, "input", tbl))
	require.NoError(t, mem.Register(ctx, "input", tbl))
	return db, mem
}

func pairs(t *testing.T, tbl *executor.Table) [][2]string {
	t.Helper()
	l, r := tbl.Index(executor.ColIDL), tbl.Index(executor.ColIDR)
	require.GreaterOrEqual(t, l, 0)
	out := make([][2]string, 0, tbl.Len())
	for _, row := range tbl.Rows {
		out = append(out, [2]string{executor.String(row[l]), executor.String(row[r])})
	}
	return out
}

func TestBlockMatchesMemoryExecutor(t *testing.T) {
	db, mem := both(t, peopleTable(t))
	ctx := context.Background()

	surname := models.BlockingRule{Keys: []models.JoinKey{{Column: "surname"}}}
	mob := models.BlockingRule{Keys: []models.JoinKey{{Column: "mob"}}}
	dob := models.BlockingRule{Ranges: []models.RangeKey{{Column: "dob", Within: 1}}}
	prefix := models.BlockingRule{Keys: []models.JoinKey{{Column: "surname", Transform: models.TransformLower, Prefix: 4}}}

	tests := []struct {
		name  string
		query executor.BlockQuery
		want  [][2]string
	}{
		{
			name:  "equi join",
			query: executor.BlockQuery{Table: "input", Rule: surname},
			want:  [][2]string{{"1", "2"}, {"4", "5"}},
		},
		{
			name:  "exclusion of earlier rule",
			query: executor.BlockQuery{Table: "input", Rule: mob, Exclude: []models.BlockingRule{surname}},
			want:  [][2]string{{"1", "3"}, {"2", "3"}, {"5", "6"}},
		},
		{
			name:  "range band",
			query: executor.BlockQuery{Table: "input", Rule: dob},
			want:  [][2]string{{"1", "2"}, {"4", "5"}},
		},
		{
			name:  "transformed prefix",
			query: executor.BlockQuery{Table: "input", Rule: prefix},
			want:  [][2]string{{"1", "2"}, {"1", "3"}, {"2", "3"}, {"4", "5"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.query.Mode = models.LinkModeDedupeOnly

			got, err := db.Execute(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pairs(t, got))

			ref, err := mem.Execute(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, pairs(t, ref), pairs(t, got))
		})
	}
}

func TestBlockCartesianLinkOnly(t *testing.T) {
	tbl := peopleTable(t,
		models.Dataset{Name: "a", Records: []models.Record{
			{ID: "1", Fields: map[string]any{"x": 1}},
			{ID: "2", Fields: map[string]any{"x": 2}},
		}},
		models.Dataset{Name: "b", Records: []models.Record{
			{ID: "1", Fields: map[string]any{"x": 1}},
			{ID: "3", Fields: map[string]any{"x": 3}},
		}},
	)
	db, _ := both(t, tbl)

	res, err := db.Execute(context.Background(), executor.BlockQuery{
		Table: "input",
		Rule:  models.BlockingRule{},
		Mode:  models.LinkModeLinkOnly,
	})
	require.NoError(t, err)
	require.Equal(t, 4, res.Len())

	srcL, srcR := res.Index(executor.ColSourceL), res.Index(executor.ColSourceR)
	rankL, rankR := res.Index(executor.ColRankL), res.Index(executor.ColRankR)
	for _, row := range res.Rows {
		assert.NotEqual(t, row[srcL], row[srcR])
		assert.Less(t, executor.Int64(row[rankL]), executor.Int64(row[rankR]))
	}
}

func TestPatternsWithScoring(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	gammas, err := executor.NewTable([]string{"gamma_a", "gamma_b"}, [][]any{
		{1, 1}, {1, 1}, {0, 1}, {0, 0}, {-1, 0},
	})
	require.NoError(t, err)
	require.NoError(t, db.Register(ctx, "gammas", gammas))

	scoring := &executor.Scoring{Lambda: 0.5, Factors: [][]float64{{0.25, 4}, {0.5, 2}}}
	res, err := db.Execute(ctx, executor.PatternQuery{
		Table:   "gammas",
		Columns: []string{"gamma_a", "gamma_b"},
		Scoring: scoring,
	})
	require.NoError(t, err)
	require.Equal(t, 4, res.Len())

	n, pSum := res.Index(executor.ColCount), res.Index(executor.ColPSum)
	for _, row := range res.Rows {
		g := []int64{executor.Int64(row[0]), executor.Int64(row[1])}
		want := executor.Float64(row[n]) * scoring.MatchProbability(g)
		assert.InDelta(t, want, executor.Float64(row[pSum]), 1e-12, "pattern %v", g)
	}

	// Rows come back ordered by gamma values.
	assert.Equal(t, int64(-1), executor.Int64(res.Rows[0][0]))
	assert.InDelta(t, 2.0, executor.Float64(res.Rows[3][n]), 1e-12)
}

func TestPatternsSaturatedBayesFactor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	// 60 columns of 1e6 overflow the product; 60 of 1e-6 underflow it.
	const width = 60
	cols := make([]string, width)
	factors := make([][]float64, width)
	high, low := make([]any, width), make([]any, width)
	for i := range cols {
		cols[i] = fmt.Sprintf("gamma_%d", i)
		factors[i] = []float64{1e-6, 1e6}
		high[i], low[i] = 1, 0
	}
	gammas, err := executor.NewTable(cols, [][]any{high, high, low})
	require.NoError(t, err)
	require.NoError(t, db.Register(ctx, "gammas", gammas))

	scoring := &executor.Scoring{Lambda: 0.01, Factors: factors}
	res, err := db.Execute(ctx, executor.PatternQuery{Table: "gammas", Columns: cols, Scoring: scoring})
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())

	n, pSum := res.Index(executor.ColCount), res.Index(executor.ColPSum)
	for _, row := range res.Rows {
		g := make([]int64, width)
		for i := range g {
			g[i] = executor.Int64(row[i])
		}
		got := executor.Float64(row[pSum])
		assert.False(t, math.IsNaN(got), "pattern starting %d", g[0])
		assert.InDelta(t, executor.Float64(row[n])*scoring.MatchProbability(g), got, 1e-12, "pattern starting %d", g[0])
	}
	assert.InDelta(t, 0.0, executor.Float64(res.Rows[0][pSum]), 1e-12)
	assert.InDelta(t, 2.0, executor.Float64(res.Rows[1][pSum]), 1e-12)
}

func TestPatternsZeroLambda(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	gammas, err := executor.NewTable([]string{"gamma_a"}, [][]any{{1}, {0}})
	require.NoError(t, err)
	require.NoError(t, db.Register(ctx, "gammas", gammas))

	res, err := db.Execute(ctx, executor.PatternQuery{
		Table:   "gammas",
		Columns: []string{"gamma_a"},
		Scoring: &executor.Scoring{Lambda: 0, Factors: [][]float64{{0.1, 10}}},
	})
	require.NoError(t, err)
	pSum := res.Index(executor.ColPSum)
	for _, row := range res.Rows {
		assert.Zero(t, executor.Float64(row[pSum]))
	}
}

func TestFrequencies(t *testing.T) {
	db, mem := both(t, peopleTable(t))
	ctx := context.Background()

	q := executor.FrequencyQuery{Table: "input", Column: "surname"}
	got, err := db.Execute(ctx, q)
	require.NoError(t, err)
	ref, err := mem.Execute(ctx, q)
	require.NoError(t, err)

	require.Equal(t, ref.Len(), got.Len())
	for i := range ref.Rows {
		assert.Equal(t, executor.String(ref.Rows[i][0]), executor.String(got.Rows[i][0]))
		assert.InDelta(t, executor.Float64(ref.Rows[i][2]), executor.Float64(got.Rows[i][2]), 1e-12)
	}
	assert.Equal(t, "Linacre", executor.String(got.Rows[0][0]))
	assert.InDelta(t, 0.4, executor.Float64(got.Rows[0][2]), 1e-12)
}

func TestSampleIsRepeatable(t *testing.T) {
	db, _ := both(t, peopleTable(t))
	ctx := context.Background()

	q := executor.SampleQuery{Table: "input", Rows: 3, Seed: 7}
	first, err := db.Execute(ctx, q)
	require.NoError(t, err)
	second, err := db.Execute(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, 3, first.Len())
	assert.Equal(t, first.Rows, second.Rows)

	empty, err := db.Execute(ctx, executor.SampleQuery{Table: "input", Rows: 0})
	require.NoError(t, err)
	assert.Zero(t, empty.Len())
}

func TestCount(t *testing.T) {
	tbl := peopleTable(t,
		models.Dataset{Name: "a", Records: []models.Record{{ID: "1"}, {ID: "2"}}},
		models.Dataset{Name: "b", Records: []models.Record{{ID: "1"}}},
	)
	db, _ := both(t, tbl)

	res, err := db.Execute(context.Background(), executor.CountQuery{Table: "input"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Len())
	assert.Equal(t, "a", executor.String(res.Rows[0][0]))
	assert.InDelta(t, 2.0, executor.Float64(res.Rows[0][1]), 0)
	assert.InDelta(t, 1.0, executor.Float64(res.Rows[1][1]), 0)
}

func TestExecuteErrors(t *testing.T) {
	db, _ := both(t, peopleTable(t))
	ctx := context.Background()

	_, err := db.Execute(ctx, executor.CountQuery{Table: "missing"})
	assert.True(t, errors.Is(err, executor.ErrTableNotFound))

	_, err = db.Execute(ctx, executor.BlockQuery{
		Table: "input",
		Rule:  models.BlockingRule{Keys: []models.JoinKey{{Column: "nope"}}},
	})
	assert.True(t, errors.Is(err, executor.ErrColumnNotFound))

	_, err = db.Execute(ctx, nil)
	assert.True(t, errors.Is(err, executor.ErrUnsupportedQuery))
}

func TestRegisterReplacesTable(t *testing.T) {
	db, _ := both(t, peopleTable(t))
	ctx := context.Background()

	small, err := executor.NewTable([]string{models.ColumnSource}, [][]any{{"x"}})
	require.NoError(t, err)
	require.NoError(t, db.Register(ctx, "input", small))

	res, err := db.Execute(ctx, executor.CountQuery{Table: "input"})
	require.NoError(t, err)
	require.Equal(t, 1, res.Len())
	assert.Equal(t, "x", executor.String(res.Rows[0][0]))
}

func TestPing(t *testing.T) {
	db := setupTestDB(t)
	assert.NoError(t, db.Ping(context.Background()))

	var nilDB DB
	assert.Error(t, nilDB.Ping(context.Background()))
}
