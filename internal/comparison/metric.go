// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package comparison

import (
	"math"
	"sort"

	"github.com/antzucaro/matchr"

	"github.com/tomtom215/linkage/internal/models"
)

// Metric names.
const (
	MetricLevenshtein          = "levenshtein"
	MetricDamerauLevenshtein   = "damerau_levenshtein"
	MetricHamming              = "hamming"
	MetricJaro                 = "jaro"
	MetricJaroWinkler          = "jaro_winkler"
	MetricHaversine            = "haversine"
	MetricAbsDifference        = "abs_difference"
	MetricPercentageDifference = "percentage_difference"
)

// Metric compares the field values of two records.
type Metric struct {
	Name string

	// Similarity metrics grow with likeness and are matched with >=;
	// distances are matched with <=.
	Similarity bool

	// Fields is the number of fields the metric reads from each side.
	Fields int

	// Compute returns false when the values cannot be compared.
	Compute func(l, r []any) (float64, bool)
}

var metrics = map[string]Metric{
	MetricLevenshtein:          stringMetric(MetricLevenshtein, false, func(a, b string) (float64, bool) { return float64(matchr.Levenshtein(a, b)), true }),
	MetricDamerauLevenshtein:   stringMetric(MetricDamerauLevenshtein, false, func(a, b string) (float64, bool) { return float64(matchr.DamerauLevenshtein(a, b)), true }),
	MetricHamming:              stringMetric(MetricHamming, false, hamming),
	MetricJaro:                 stringMetric(MetricJaro, true, func(a, b string) (float64, bool) { return matchr.Jaro(a, b), true }),
	MetricJaroWinkler:          stringMetric(MetricJaroWinkler, true, func(a, b string) (float64, bool) { return matchr.JaroWinkler(a, b, false), true }),
	MetricHaversine:            {Name: MetricHaversine, Fields: 2, Compute: haversine},
	MetricAbsDifference:        numericMetric(MetricAbsDifference, absDifference),
	MetricPercentageDifference: numericMetric(MetricPercentageDifference, percentageDifference),
}

// LookupMetric returns a metric by name.
func LookupMetric(name string) (Metric, bool) {
	m, ok := metrics[name]
	return m, ok
}

// MetricNames lists the supported metrics.
func MetricNames() []string {
	names := make([]string, 0, len(metrics))
	for n := range metrics {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func stringMetric(name string, similarity bool, fn func(a, b string) (float64, bool)) Metric {
	return Metric{
		Name:       name,
		Similarity: similarity,
		Fields:     1,
		Compute: func(l, r []any) (float64, bool) {
			a, ok := models.AsString(l[0])
			if !ok {
				return 0, false
			}
			b, ok := models.AsString(r[0])
			if !ok {
				return 0, false
			}
			return fn(a, b)
		},
	}
}

func numericMetric(name string, fn func(a, b float64) float64) Metric {
	return Metric{
		Name:   name,
		Fields: 1,
		Compute: func(l, r []any) (float64, bool) {
			a, ok := models.AsFloat(l[0])
			if !ok {
				return 0, false
			}
			b, ok := models.AsFloat(r[0])
			if !ok {
				return 0, false
			}
			return fn(a, b), true
		},
	}
}

// hamming is only defined for strings of equal length.
func hamming(a, b string) (float64, bool) {
	d, err := matchr.Hamming(a, b)
	if err != nil {
		return 0, false
	}
	return float64(d), true
}

func absDifference(a, b float64) float64 {
	return math.Abs(a - b)
}

// percentageDifference is |a-b| relative to the larger magnitude.
func percentageDifference(a, b float64) float64 {
	denom := math.Max(math.Abs(a), math.Abs(b))
	if denom == 0 {
		return 0
	}
	return math.Abs(a-b) / denom
}

// haversine reads (latitude, longitude) from each side and returns the
// great-circle distance in km.
func haversine(l, r []any) (float64, bool) {
	var v [4]float64
	for i, x := range []any{l[0], l[1], r[0], r[1]} {
		f, ok := models.AsFloat(x)
		if !ok {
			return 0, false
		}
		v[i] = f
	}
	return haversineDistance(v[0], v[1], v[2], v[3]), true
}

// haversineDistance calculates the distance between two lat/lon points in km.
func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}
