// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package settings

import (
	"fmt"

	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/validation"
)

// Validate completes s and checks it. The first problem found is returned
// as a *models.ConfigurationError naming the offending path.
func Validate(s Settings) error {
	c := Complete(s)

	if verr := validation.ValidateStruct(&c); verr != nil {
		fe := verr.Errors()[0]
		return &models.ConfigurationError{Path: fe.Path(), Reason: fe.Error()}
	}

	for i := range c.Comparisons {
		cs := &c.Comparisons[i]
		if cs.Name() == "" {
			return &models.ConfigurationError{
				Path:   fmt.Sprintf("comparisons[%d]", i),
				Reason: "column_name or output_column_name is required",
			}
		}
		for j := range cs.ComparisonLevels {
			ls := &cs.ComparisonLevels[j]
			if ls.Type == LevelDistance && len(ls.Metrics) > 0 && len(ls.Metrics) != len(ls.Thresholds) {
				return &models.ConfigurationError{
					Path: fmt.Sprintf("comparisons[%d].comparison_levels[%d]", i, j),
					Reason: fmt.Sprintf("metric/threshold length mismatch: %d metrics, %d thresholds",
						len(ls.Metrics), len(ls.Thresholds)),
				}
			}
		}
	}

	if _, _, err := Build(c); err != nil {
		return err
	}
	return nil
}
