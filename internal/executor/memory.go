// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/metrics"
	"github.com/tomtom215/linkage/internal/models"
)

// Memory is an in-process Executor. Blocking rules run as hash equi-joins
// or sorted-window range joins; a full cross product is only produced for
// the explicit cartesian rule.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*Table
	logger zerolog.Logger
}

// NewMemory creates an empty in-memory executor.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		tables: make(map[string]*Table),
		logger: logger.With().Str("component", "executor").Str("backend", "memory").Logger(),
	}
}

// Register stores a table under name, replacing any previous table.
func (m *Memory) Register(ctx context.Context, name string, t *Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("register %s: nil table", name)
	}
	t.Index("") // build the column index before the table is shared
	m.mu.Lock()
	m.tables[name] = t
	m.mu.Unlock()
	m.logger.Debug().Str("table", name).Int("rows", t.Len()).Msg("Table registered")
	return nil
}

// Execute runs a query descriptor.
func (m *Memory) Execute(ctx context.Context, q Query) (result *Table, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordExecutorQuery("memory", Kind(q), time.Since(start), err)
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch q := q.(type) {
	case BlockQuery:
		return m.block(q)
	case PatternQuery:
		return m.patterns(q)
	case FrequencyQuery:
		return m.frequencies(q)
	case SampleQuery:
		return m.sample(q)
	case CountQuery:
		return m.count(q)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedQuery, q)
	}
}

// Close releases all registered tables.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.tables = make(map[string]*Table)
	m.mu.Unlock()
	return nil
}

func (m *Memory) table(name string) (*Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	return t, nil
}

// inputColumns resolves the reserved columns of a registered input table.
type inputColumns struct {
	rank, id, source int
}

func resolveInput(name string, t *Table) (inputColumns, error) {
	var ic inputColumns
	var err error
	if ic.rank, err = t.MustIndex(name, models.ColumnRank); err != nil {
		return ic, err
	}
	if ic.id, err = t.MustIndex(name, models.ColumnUniqueID); err != nil {
		return ic, err
	}
	if ic.source, err = t.MustIndex(name, models.ColumnSource); err != nil {
		return ic, err
	}
	return ic, nil
}

func (m *Memory) block(q BlockQuery) (*Table, error) {
	t, err := m.table(q.Table)
	if err != nil {
		return nil, err
	}
	ic, err := resolveInput(q.Table, t)
	if err != nil {
		return nil, err
	}
	for _, rule := range append([]models.BlockingRule{q.Rule}, q.Exclude...) {
		for _, c := range rule.Columns() {
			if t.Index(c) < 0 {
				return nil, ColumnError(q.Table, c)
			}
		}
	}

	lookup := func(row int) func(string) any {
		return func(c string) any { return t.Rows[row][t.Index(c)] }
	}

	var out [][]any
	emit := func(i, j int) {
		ri, rj := Int64(t.Rows[i][ic.rank]), Int64(t.Rows[j][ic.rank])
		if ri == rj {
			return
		}
		if ri > rj {
			i, j = j, i
			ri, rj = rj, ri
		}
		si, sj := String(t.Rows[i][ic.source]), String(t.Rows[j][ic.source])
		if q.Mode == models.LinkModeLinkOnly && si == sj {
			return
		}
		if !q.Rule.Matches(lookup(i), lookup(j)) {
			return
		}
		for _, ex := range q.Exclude {
			if ex.Matches(lookup(i), lookup(j)) {
				return
			}
		}
		out = append(out, []any{ri, rj, String(t.Rows[i][ic.id]), String(t.Rows[j][ic.id]), si, sj})
	}

	switch {
	case q.Rule.IsCartesian():
		for i := range t.Rows {
			for j := i + 1; j < len(t.Rows); j++ {
				emit(i, j)
			}
		}
	case len(q.Rule.Keys) > 0:
		for _, bucket := range hashBuckets(t, q.Rule.Keys) {
			for a := 0; a < len(bucket); a++ {
				for b := a + 1; b < len(bucket); b++ {
					emit(bucket[a], bucket[b])
				}
			}
		}
	default:
		rangeWindows(t, q.Rule.Ranges[0], emit)
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a][0].(int64) != out[b][0].(int64) {
			return out[a][0].(int64) < out[b][0].(int64)
		}
		return out[a][1].(int64) < out[b][1].(int64)
	})

	return NewTypedTable([]Column{
		{ColRankL, TypeBigint}, {ColRankR, TypeBigint},
		{ColIDL, TypeVarchar}, {ColIDR, TypeVarchar},
		{ColSourceL, TypeVarchar}, {ColSourceR, TypeVarchar},
	}, out), nil
}

// hashBuckets groups row indexes by their combined join key. Rows with a
// null key component are dropped.
func hashBuckets(t *Table, keys []models.JoinKey) [][]int {
	idx := make([]int, len(keys))
	for k, key := range keys {
		idx[k] = t.Index(key.Column)
	}

	buckets := make(map[string][]int)
	var order []string
	parts := make([]string, len(keys))
rows:
	for i, row := range t.Rows {
		for k, key := range keys {
			s, ok := key.Key(row[idx[k]])
			if !ok {
				continue rows
			}
			parts[k] = s
		}
		composite := strings.Join(parts, "\x1f")
		if _, seen := buckets[composite]; !seen {
			order = append(order, composite)
		}
		buckets[composite] = append(buckets[composite], i)
	}

	out := make([][]int, 0, len(order))
	for _, k := range order {
		if len(buckets[k]) > 1 {
			out = append(out, buckets[k])
		}
	}
	return out
}

// rangeWindows sorts rows on a numeric column and visits every pair whose
// values lie within the band.
func rangeWindows(t *Table, key models.RangeKey, visit func(i, j int)) {
	col := t.Index(key.Column)
	type entry struct {
		row int
		v   float64
	}
	entries := make([]entry, 0, len(t.Rows))
	for i, row := range t.Rows {
		if v, ok := models.AsFloat(row[col]); ok {
			entries = append(entries, entry{row: i, v: v})
		}
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].v < entries[b].v })

	for a := range entries {
		for b := a + 1; b < len(entries) && entries[b].v-entries[a].v <= key.Within; b++ {
			visit(entries[a].row, entries[b].row)
		}
	}
}

func (m *Memory) patterns(q PatternQuery) (*Table, error) {
	t, err := m.table(q.Table)
	if err != nil {
		return nil, err
	}
	idx := make([]int, len(q.Columns))
	for c, name := range q.Columns {
		if idx[c], err = t.MustIndex(q.Table, name); err != nil {
			return nil, err
		}
	}

	type group struct {
		gammas []int64
		n      float64
	}
	groups := make(map[string]*group)
	var sb strings.Builder
	for _, row := range t.Rows {
		sb.Reset()
		gammas := make([]int64, len(idx))
		for c, i := range idx {
			gammas[c] = Int64(row[i])
			fmt.Fprintf(&sb, "%d,", gammas[c])
		}
		g, ok := groups[sb.String()]
		if !ok {
			g = &group{gammas: gammas}
			groups[sb.String()] = g
		}
		g.n++
	}

	cols := make([]Column, 0, len(q.Columns)+2)
	for _, name := range q.Columns {
		cols = append(cols, Column{name, TypeBigint})
	}
	cols = append(cols, Column{ColCount, TypeDouble})
	if q.Scoring != nil {
		cols = append(cols, Column{ColPSum, TypeDouble})
	}

	rows := make([][]any, 0, len(groups))
	for _, g := range groups {
		row := make([]any, 0, len(cols))
		for _, v := range g.gammas {
			row = append(row, v)
		}
		row = append(row, g.n)
		if q.Scoring != nil {
			row = append(row, g.n*q.Scoring.MatchProbability(g.gammas))
		}
		rows = append(rows, row)
	}
	sortPatterns(rows, len(q.Columns))
	return NewTypedTable(cols, rows), nil
}

// sortPatterns orders pattern rows by their gamma values.
func sortPatterns(rows [][]any, width int) {
	sort.Slice(rows, func(a, b int) bool {
		for c := 0; c < width; c++ {
			va, vb := Int64(rows[a][c]), Int64(rows[b][c])
			if va != vb {
				return va < vb
			}
		}
		return false
	})
}

func (m *Memory) frequencies(q FrequencyQuery) (*Table, error) {
	t, err := m.table(q.Table)
	if err != nil {
		return nil, err
	}
	col, err := t.MustIndex(q.Table, q.Column)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]float64)
	first := make(map[string]any)
	var total float64
	for _, row := range t.Rows {
		key, ok := models.ValueKey(row[col])
		if !ok {
			continue
		}
		if _, seen := first[key]; !seen {
			first[key] = row[col]
		}
		counts[key]++
		total++
	}

	rows := make([][]any, 0, len(counts))
	for key, n := range counts {
		rows = append(rows, []any{first[key], n, n / total})
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a][1].(float64) != rows[b][1].(float64) {
			return rows[a][1].(float64) > rows[b][1].(float64)
		}
		return String(rows[a][0]) < String(rows[b][0])
	})

	return NewTypedTable([]Column{
		{ColValue, t.Columns[col].Type}, {ColCount, TypeDouble}, {ColFreq, TypeDouble},
	}, rows), nil
}

func (m *Memory) sample(q SampleQuery) (*Table, error) {
	t, err := m.table(q.Table)
	if err != nil {
		return nil, err
	}
	ic, err := resolveInput(q.Table, t)
	if err != nil {
		return nil, err
	}

	picked := make([]int, 0, q.Rows)
	if q.Rows >= len(t.Rows) {
		for i := range t.Rows {
			picked = append(picked, i)
		}
	} else if q.Rows > 0 {
		//nolint:gosec // sampling does not need a cryptographic source
		rng := rand.New(rand.NewSource(q.Seed))
		for i := range t.Rows {
			if i < q.Rows {
				picked = append(picked, i)
				continue
			}
			if j := rng.Intn(i + 1); j < q.Rows {
				picked[j] = i
			}
		}
	}

	rows := make([][]any, len(picked))
	for k, i := range picked {
		row := t.Rows[i]
		rows[k] = []any{Int64(row[ic.rank]), String(row[ic.id]), String(row[ic.source])}
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a][0].(int64) < rows[b][0].(int64) })

	return NewTypedTable([]Column{
		{models.ColumnRank, TypeBigint}, {models.ColumnUniqueID, TypeVarchar}, {models.ColumnSource, TypeVarchar},
	}, rows), nil
}

func (m *Memory) count(q CountQuery) (*Table, error) {
	t, err := m.table(q.Table)
	if err != nil {
		return nil, err
	}
	src, err := t.MustIndex(q.Table, models.ColumnSource)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]float64)
	for _, row := range t.Rows {
		counts[String(row[src])]++
	}
	rows := make([][]any, 0, len(counts))
	for s, n := range counts {
		rows = append(rows, []any{s, n})
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a][0].(string) < rows[b][0].(string) })
	return NewTypedTable([]Column{{models.ColumnSource, TypeVarchar}, {ColCount, TypeDouble}}, rows), nil
}
