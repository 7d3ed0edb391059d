// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package em

import (
	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/metrics"
	"github.com/tomtom215/linkage/internal/models"
)

type warningKey struct {
	kind   models.WarningKind
	column string
}

// warningSet keeps the first warning of each (kind, column) so a column
// clamped on every iteration is reported once.
type warningSet struct {
	seen   map[warningKey]struct{}
	items  []models.Warning
	logger zerolog.Logger
}

//nolint:gocritic // zerolog.Logger is designed to be passed by value
func newWarningSet(logger zerolog.Logger) *warningSet {
	return &warningSet{seen: make(map[warningKey]struct{}), logger: logger}
}

func (s *warningSet) add(w models.Warning) {
	key := warningKey{kind: w.Kind, column: w.Column}
	if _, dup := s.seen[key]; dup {
		return
	}
	s.seen[key] = struct{}{}
	s.items = append(s.items, w)

	if w.Kind == models.WarningNumericDegeneracy {
		metrics.RecordNumericDegeneracy(w.Column)
	}
	s.logger.Warn().
		Str("kind", string(w.Kind)).
		Str("column", w.Column).
		Int("iteration", w.Iteration).
		Msg(w.Message)
}

func (s *warningSet) list() []models.Warning {
	if len(s.items) == 0 {
		return nil
	}
	return append([]models.Warning(nil), s.items...)
}
