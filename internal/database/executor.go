// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package database

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tomtom215/linkage/internal/database/query"
	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/metrics"
	"github.com/tomtom215/linkage/internal/models"
)

const backend = "duckdb"

// maxLogOdds keeps exp(-logOdds) finite in the E-step.
const maxLogOdds = 700

// Register creates (or replaces) a DuckDB table and loads the rows in a
// single transaction.
func (db *DB) Register(ctx context.Context, name string, t *executor.Table) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordExecutorQuery(backend, "register", time.Since(start), err)
	}()

	if t == nil {
		return fmt.Errorf("register %s: nil table", name)
	}

	defs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		defs[i] = query.Ident(c.Name) + " " + string(c.Type)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				db.logger.Error().Err(rbErr).AnErr("original_error", err).Msg("Transaction rollback failed")
			}
		}
	}()

	create := fmt.Sprintf("CREATE OR REPLACE TABLE %s (%s)", query.Ident(name), strings.Join(defs, ", "))
	if _, err = tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}

	if len(t.Rows) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
		stmt, prepErr := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", query.Ident(name), placeholders))
		if prepErr != nil {
			err = prepErr
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer closeWithLog(stmt, db.logger, "prepared statement")

		for i, row := range t.Rows {
			if _, err = stmt.ExecContext(ctx, row...); err != nil {
				return fmt.Errorf("failed to insert row %d into %s: %w", i, name, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit table %s: %w", name, err)
	}

	db.schemasMu.Lock()
	db.schemas[name] = executor.NewTypedTable(t.Columns, nil)
	db.schemasMu.Unlock()

	db.logger.Debug().Str("table", name).Int("rows", t.Len()).Dur("duration", time.Since(start)).Msg("Table registered")
	return nil
}

// Execute renders a query descriptor to SQL and runs it.
func (db *DB) Execute(ctx context.Context, q executor.Query) (result *executor.Table, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordExecutorQuery(backend, executor.Kind(q), time.Since(start), err)
	}()

	switch q := q.(type) {
	case executor.BlockQuery:
		return db.block(ctx, q)
	case executor.PatternQuery:
		return db.patterns(ctx, q)
	case executor.FrequencyQuery:
		return db.frequencies(ctx, q)
	case executor.SampleQuery:
		return db.sample(ctx, q)
	case executor.CountQuery:
		return db.count(ctx, q)
	default:
		return nil, fmt.Errorf("%w: %T", executor.ErrUnsupportedQuery, q)
	}
}

func (db *DB) block(ctx context.Context, q executor.BlockQuery) (*executor.Table, error) {
	cols := []string{models.ColumnRank, models.ColumnUniqueID, models.ColumnSource}
	for _, r := range append([]models.BlockingRule{q.Rule}, q.Exclude...) {
		cols = append(cols, r.Columns()...)
	}
	if err := db.requireColumns(q.Table, cols...); err != nil {
		return nil, err
	}

	join := "INNER JOIN " + query.Ident(q.Table) + " AS r ON " + query.RuleCondition(q.Rule)
	if q.Rule.IsCartesian() {
		join = "CROSS JOIN " + query.Ident(q.Table) + " AS r"
	}

	wb := query.NewWhereBuilder().AddRankOrder().AddLinkMode(q.Mode)
	for _, ex := range q.Exclude {
		wb.AddExclusion(ex)
	}
	where, args := wb.BuildWithPrefix()

	sql := fmt.Sprintf(`SELECT
	%s AS %s, %s AS %s,
	CAST(%s AS VARCHAR) AS %s, CAST(%s AS VARCHAR) AS %s,
	CAST(%s AS VARCHAR) AS %s, CAST(%s AS VARCHAR) AS %s
FROM %s AS l
%s
%s
ORDER BY 1, 2`,
		query.Column(query.Left, models.ColumnRank), executor.ColRankL,
		query.Column(query.Right, models.ColumnRank), executor.ColRankR,
		query.Column(query.Left, models.ColumnUniqueID), executor.ColIDL,
		query.Column(query.Right, models.ColumnUniqueID), executor.ColIDR,
		query.Column(query.Left, models.ColumnSource), executor.ColSourceL,
		query.Column(query.Right, models.ColumnSource), executor.ColSourceR,
		query.Ident(q.Table), join, where)

	return db.queryTable(ctx, sql, args...)
}

func (db *DB) patterns(ctx context.Context, q executor.PatternQuery) (*executor.Table, error) {
	if err := db.requireColumns(q.Table, q.Columns...); err != nil {
		return nil, err
	}
	gammas := query.IdentList(q.Columns)

	grouped := fmt.Sprintf("SELECT %s, CAST(count(*) AS DOUBLE) AS %s FROM %s GROUP BY %s",
		gammas, executor.ColCount, query.Ident(q.Table), gammas)

	if q.Scoring == nil {
		return db.queryTable(ctx, grouped+" ORDER BY "+gammas)
	}

	// p = 1/(1+exp(-logOdds)) with logOdds clamped so exp stays finite;
	// a saturated product gives p = 1 as in executor.Scoring.
	var pSum string
	switch lambda := q.Scoring.Lambda; {
	case lambda <= 0:
		pSum = query.Double(0)
	case lambda >= 1:
		pSum = executor.ColCount
	default:
		terms := []string{query.Double(math.Log(lambda) - math.Log1p(-lambda))}
		for c, col := range q.Columns {
			var f []float64
			if c < len(q.Scoring.Factors) {
				f = q.Scoring.Factors[c]
			}
			terms = append(terms, "("+query.LogFactorCase(col, f)+")")
		}
		pSum = fmt.Sprintf("%s / (1 + exp(-least(greatest(%s, %s), %s)))",
			executor.ColCount, strings.Join(terms, " + "), query.Double(-maxLogOdds), query.Double(maxLogOdds))
	}

	sql := fmt.Sprintf("WITH patterns AS (%s)\nSELECT %s, %s, %s AS %s FROM patterns ORDER BY %s",
		grouped, gammas, executor.ColCount, pSum, executor.ColPSum, gammas)
	return db.queryTable(ctx, sql)
}

func (db *DB) frequencies(ctx context.Context, q executor.FrequencyQuery) (*executor.Table, error) {
	if err := db.requireColumns(q.Table, q.Column); err != nil {
		return nil, err
	}
	col := query.Ident(q.Column)
	sql := fmt.Sprintf(`SELECT %s AS %s,
	CAST(count(*) AS DOUBLE) AS %s,
	CAST(count(*) AS DOUBLE) / CAST(sum(count(*)) OVER () AS DOUBLE) AS %s
FROM %s
WHERE %s IS NOT NULL
GROUP BY %s
ORDER BY 2 DESC, CAST(%s AS VARCHAR)`,
		col, executor.ColValue, executor.ColCount, executor.ColFreq,
		query.Ident(q.Table), col, col, col)
	return db.queryTable(ctx, sql)
}

func (db *DB) sample(ctx context.Context, q executor.SampleQuery) (*executor.Table, error) {
	if err := db.requireColumns(q.Table, models.ColumnRank, models.ColumnUniqueID, models.ColumnSource); err != nil {
		return nil, err
	}
	cols := query.IdentList([]string{models.ColumnRank, models.ColumnUniqueID, models.ColumnSource})
	if q.Rows <= 0 {
		return db.queryTable(ctx, fmt.Sprintf("SELECT %s FROM %s LIMIT 0", cols, query.Ident(q.Table)))
	}
	sql := fmt.Sprintf("SELECT * FROM (SELECT %s FROM %s USING SAMPLE reservoir(%d ROWS) REPEATABLE (%d)) ORDER BY 1",
		cols, query.Ident(q.Table), q.Rows, q.Seed)
	return db.queryTable(ctx, sql)
}

func (db *DB) count(ctx context.Context, q executor.CountQuery) (*executor.Table, error) {
	if err := db.requireColumns(q.Table, models.ColumnSource); err != nil {
		return nil, err
	}
	sql := fmt.Sprintf("SELECT CAST(%s AS VARCHAR), CAST(count(*) AS DOUBLE) FROM %s GROUP BY 1 ORDER BY 1",
		query.Ident(models.ColumnSource), query.Ident(q.Table))
	rows, err := queryAndScan(ctx, db.conn, sql, nil, scanRow)
	if err != nil {
		return nil, err
	}
	return executor.NewTypedTable([]executor.Column{
		{Name: models.ColumnSource, Type: executor.TypeVarchar},
		{Name: executor.ColCount, Type: executor.TypeDouble},
	}, rows), nil
}
