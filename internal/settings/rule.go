// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package settings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tomtom215/linkage/internal/models"
)

var (
	andRe     = regexp.MustCompile(`(?i)\s+and\s+`)
	rangeRe   = regexp.MustCompile(`^(?i:abs)\(\s*([lr])\.([A-Za-z_][A-Za-z0-9_]*)\s*-\s*([lr])\.([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*<=\s*([0-9.eE+]+)$`)
	substrRe  = regexp.MustCompile(`^(?i:substr)\((.+),\s*1\s*,\s*(\d+)\s*\)$`)
	funcRe    = regexp.MustCompile(`^(?i)(lower|upper|trim)\((.+)\)$`)
	columnRe  = regexp.MustCompile(`^([lr])\.([A-Za-z_][A-Za-z0-9_]*)$`)
	cartesian = regexp.MustCompile(`^(1\s*=\s*1|(?i:true))$`)
)

// ParseRule parses the blocking rule shorthand:
//
//	l.surname = r.surname and substr(lower(l.first_name), 1, 2) = substr(lower(r.first_name), 1, 2)
//	abs(l.dob_year - r.dob_year) <= 1
//	1 = 1
//
// Conditions are joined with "and". Equalities may wrap the column in
// lower, upper or trim and then substr(..., 1, n). "1 = 1" is the explicit
// cartesian rule.
func ParseRule(s string) (models.BlockingRule, error) {
	rule := models.BlockingRule{}
	text := strings.TrimSpace(s)
	if text == "" {
		return rule, fmt.Errorf("empty blocking rule")
	}
	if cartesian.MatchString(text) {
		return rule, nil
	}

	for _, cond := range andRe.Split(text, -1) {
		cond = strings.TrimSpace(cond)

		if m := rangeRe.FindStringSubmatch(cond); m != nil {
			if m[1] == m[3] || m[2] != m[4] {
				return rule, fmt.Errorf("range condition %q must compare one column across l and r", cond)
			}
			within, err := strconv.ParseFloat(m[5], 64)
			if err != nil {
				return rule, fmt.Errorf("range condition %q: %w", cond, err)
			}
			rule.Ranges = append(rule.Ranges, models.RangeKey{Column: m[2], Within: within})
			continue
		}

		parts := strings.Split(cond, "=")
		if len(parts) != 2 {
			return rule, fmt.Errorf("unsupported blocking condition %q", cond)
		}
		lSide, lKey, err := parseKeyExpr(parts[0])
		if err != nil {
			return rule, err
		}
		rSide, rKey, err := parseKeyExpr(parts[1])
		if err != nil {
			return rule, err
		}
		if lSide == rSide || lKey != rKey {
			return rule, fmt.Errorf("condition %q must apply the same expression to l and r", cond)
		}
		rule.Keys = append(rule.Keys, lKey)
	}
	return rule, nil
}

func parseKeyExpr(expr string) (string, models.JoinKey, error) {
	var key models.JoinKey
	expr = strings.TrimSpace(expr)

	if m := substrRe.FindStringSubmatch(expr); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil || n <= 0 {
			return "", key, fmt.Errorf("invalid substr length in %q", expr)
		}
		key.Prefix = n
		expr = strings.TrimSpace(m[1])
	}
	if m := funcRe.FindStringSubmatch(expr); m != nil {
		key.Transform = strings.ToLower(m[1])
		expr = strings.TrimSpace(m[2])
	}
	m := columnRe.FindStringSubmatch(expr)
	if m == nil {
		return "", key, fmt.Errorf("expected l.<column> or r.<column>, got %q", expr)
	}
	key.Column = m[2]
	return m[1], key, nil
}

// Rules parses every blocking rule of the settings.
func (s *Settings) Rules() ([]models.BlockingRule, error) {
	rules := make([]models.BlockingRule, 0, len(s.BlockingRules))
	for i, text := range s.BlockingRules {
		rule, err := ParseRule(text)
		if err != nil {
			return nil, &models.ConfigurationError{
				Path:   fmt.Sprintf("blocking_rules_to_generate_predictions[%d]", i),
				Reason: err.Error(),
			}
		}
		rule.Name = strings.TrimSpace(text)
		rules = append(rules, rule)
	}
	return rules, nil
}
