// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tomtom215/linkage/internal/models"
)

// Table aliases used by every pairwise query.
const (
	Left  = "l"
	Right = "r"
)

// WhereBuilder constructs SQL WHERE clauses with parameterized arguments.
//
//	wb := query.NewWhereBuilder()
//	wb.AddRankOrder()
//	wb.AddLinkMode(models.LinkModeLinkOnly)
//	wb.AddExclusion(previousRule)
//	whereClause, args := wb.Build()
type WhereBuilder struct {
	clauses []string
	args    []interface{}
}

// NewWhereBuilder creates a new WhereBuilder instance.
func NewWhereBuilder() *WhereBuilder {
	return &WhereBuilder{
		clauses: []string{},
		args:    []interface{}{},
	}
}

// AddClause adds a raw WHERE clause with its arguments.
func (wb *WhereBuilder) AddClause(clause string, args ...interface{}) *WhereBuilder {
	wb.clauses = append(wb.clauses, clause)
	wb.args = append(wb.args, args...)
	return wb
}

// AddRankOrder keeps each unordered pair once and drops self pairs.
func (wb *WhereBuilder) AddRankOrder() *WhereBuilder {
	return wb.AddClause(Column(Left, models.ColumnRank) + " < " + Column(Right, models.ColumnRank))
}

// AddLinkMode restricts link_only queries to cross-dataset pairs.
func (wb *WhereBuilder) AddLinkMode(mode models.LinkMode) *WhereBuilder {
	if mode == models.LinkModeLinkOnly {
		return wb.AddClause(Column(Left, models.ColumnSource) + " <> " + Column(Right, models.ColumnSource))
	}
	return wb
}

// AddExclusion drops pairs already produced by an earlier rule. A rule
// whose keys are null for a pair does not exclude it.
func (wb *WhereBuilder) AddExclusion(rule models.BlockingRule) *WhereBuilder {
	return wb.AddClause("NOT COALESCE((" + RuleCondition(rule) + "), FALSE)")
}

// Build constructs the final WHERE clause and returns it with arguments.
// Clauses are joined with "AND". Returns ("1=1", []) if no clauses were added.
func (wb *WhereBuilder) Build() (string, []interface{}) {
	if len(wb.clauses) == 0 {
		return "1=1", []interface{}{}
	}
	return strings.Join(wb.clauses, " AND "), wb.args
}

// BuildWithPrefix returns the WHERE clause with "WHERE " prefix.
func (wb *WhereBuilder) BuildWithPrefix() (string, []interface{}) {
	whereClause, args := wb.Build()
	return "WHERE " + whereClause, args
}

// Ident quotes an identifier.
func Ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Column returns alias."column" with the column quoted.
func Column(alias, name string) string {
	return alias + "." + Ident(name)
}

// Double renders a float64 as an exact DOUBLE literal. Plain decimal
// literals would be typed DECIMAL by DuckDB.
func Double(f float64) string {
	return "CAST('" + strconv.FormatFloat(f, 'g', -1, 64) + "' AS DOUBLE)"
}

// KeyExpr renders one side of a join key.
func KeyExpr(alias string, k models.JoinKey) string {
	expr := Column(alias, k.Column)
	if k.Transform == models.TransformNone && k.Prefix == 0 {
		return expr
	}
	expr = "CAST(" + expr + " AS VARCHAR)"
	switch k.Transform {
	case models.TransformLower:
		expr = "lower(" + expr + ")"
	case models.TransformUpper:
		expr = "upper(" + expr + ")"
	case models.TransformTrim:
		expr = "trim(" + expr + ")"
	}
	if k.Prefix > 0 {
		expr = fmt.Sprintf("substr(%s, 1, %d)", expr, k.Prefix)
	}
	return expr
}

// RuleCondition renders a blocking rule as a join condition between the l
// and r aliases. Range keys are written as a band so DuckDB can plan a
// range join. The cartesian rule renders as TRUE.
func RuleCondition(rule models.BlockingRule) string {
	if rule.IsCartesian() {
		return "TRUE"
	}
	parts := make([]string, 0, len(rule.Keys)+2*len(rule.Ranges))
	for _, k := range rule.Keys {
		parts = append(parts, KeyExpr(Left, k)+" = "+KeyExpr(Right, k))
	}
	for _, k := range rule.Ranges {
		l, r, w := Column(Left, k.Column), Column(Right, k.Column), Double(k.Within)
		parts = append(parts, l+" >= "+r+" - "+w, l+" <= "+r+" + "+w)
	}
	return strings.Join(parts, " AND ")
}

// maxAbsLogFactor bounds the log of a zero or infinite Bayes factor.
const maxAbsLogFactor = 1000

// LogFactorCase renders the natural log of the Bayes factor of one gamma
// column. Null and unknown levels contribute 0:
//
//	CASE "gamma_x" WHEN 0 THEN ln(bf_0) WHEN 1 THEN ln(bf_1) ... ELSE 0 END
//
// The logs are computed here, so the query never takes ln of zero.
func LogFactorCase(column string, factors []float64) string {
	if len(factors) == 0 {
		return Double(0)
	}
	var sb strings.Builder
	sb.WriteString("CASE ")
	sb.WriteString(Ident(column))
	for g, f := range factors {
		lf := math.Log(f)
		if f <= 0 {
			lf = -maxAbsLogFactor
		}
		lf = math.Max(-maxAbsLogFactor, math.Min(maxAbsLogFactor, lf))
		fmt.Fprintf(&sb, " WHEN %d THEN %s", g, Double(lf))
	}
	sb.WriteString(" ELSE ")
	sb.WriteString(Double(0))
	sb.WriteString(" END")
	return sb.String()
}

// IdentList quotes and joins identifiers with commas.
func IdentList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Ident(n)
	}
	return strings.Join(quoted, ", ")
}
