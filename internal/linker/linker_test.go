// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package linker

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/linkage/internal/comparison"
	"github.com/tomtom215/linkage/internal/em"
	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/predict"
	"github.com/tomtom215/linkage/internal/settings"
)

var (
	firstNames = []string{
		"Robin", "John", "Mary", "Aisha", "Wei", "Olga", "Pedro", "Fatima",
		"Liam", "Noah", "Emma", "Sofia", "Yuki", "Ravi", "Anna", "Omar",
	}
	surnames = []string{
		"Linacre", "Smith", "Jones", "Garcia", "Chen", "Ivanova", "Silva", "Khan",
		"Murphy", "Brown", "Rossi", "Tanaka", "Patel", "Novak", "Haddad", "Moreau",
	}
	cities = []string{"Leeds", "York", "Hull", "Bath"}
)

// population is a synthetic dataset where every other person appears twice,
// sometimes with a mistyped first name, a different city or a missing dob.
type population struct {
	dataset models.Dataset
	person  map[string]int
}

func synthetic(persons int, seed int64) population {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // test data
	pop := population{dataset: models.Dataset{Name: "people"}, person: make(map[string]int)}
	next := 1
	add := func(p int, fields map[string]any) {
		id := strconv.Itoa(next)
		next++
		pop.dataset.Records = append(pop.dataset.Records, models.Record{ID: id, Fields: fields})
		pop.person[id] = p
	}

	for p := 0; p < persons; p++ {
		original := map[string]any{
			"first_name": firstNames[rng.Intn(len(firstNames))],
			"surname":    surnames[rng.Intn(len(surnames))],
			"dob":        fmt.Sprintf("19%02d-%02d-%02d", 40+rng.Intn(60), 1+rng.Intn(12), 1+rng.Intn(28)),
			"city":       cities[rng.Intn(len(cities))],
		}
		add(p, original)
		if p%2 != 0 {
			continue
		}

		dup := make(map[string]any, len(original))
		for k, v := range original {
			dup[k] = v
		}
		if rng.Float64() < 0.3 {
			name := original["first_name"].(string)
			dup["first_name"] = name[:len(name)-1] + "x"
		}
		if rng.Float64() < 0.2 {
			dup["city"] = cities[rng.Intn(len(cities))]
		}
		if rng.Float64() < 0.1 {
			dup["dob"] = nil
		}
		add(p, dup)
	}
	return pop
}

func personSettings() settings.Settings {
	return settings.Settings{
		BlockingRules: []string{"l.surname = r.surname", "l.dob = r.dob"},
		Comparisons: []settings.ComparisonSettings{
			{
				ColumnName: "first_name",
				ComparisonLevels: []settings.LevelSettings{
					{Type: settings.LevelNull},
					{Type: settings.LevelExact},
					{Metric: comparison.MetricJaroWinkler, Thresholds: []float64{0.9}},
					{Type: settings.LevelElse},
				},
			},
			{ColumnName: "surname", TermFrequencyAdjustments: true},
			{ColumnName: "dob"},
			{ColumnName: "city"},
		},
	}
}

// sevenRecords is the mob/surname fixture used across blocking tests.
func sevenRecords() models.Dataset {
	rows := []struct {
		mob     int
		surname string
	}{{10, "Linacre"}, {10, "Linacre"}, {10, "Linacer"}, {7, "Smith"}, {8, "Smith"}, {9, "Smith"}, {11, "Jones"}}
	ds := models.Dataset{Name: "people"}
	for i, r := range rows {
		ds.Records = append(ds.Records, models.Record{
			ID:     strconv.Itoa(i + 1),
			Fields: map[string]any{"mob": r.mob, "surname": r.surname, "middle_name": nil},
		})
	}
	return ds
}

func newLinker(t *testing.T, s settings.Settings, datasets ...models.Dataset) *Linker {
	t.Helper()
	exec := executor.NewMemory(logging.NewTestLogger(io.Discard))
	t.Cleanup(func() { _ = exec.Close() })
	l, err := New(context.Background(), exec, s, logging.NewTestLogger(io.Discard), datasets...)
	require.NoError(t, err)
	return l
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func TestTrainAndPredict(t *testing.T) {
	ctx := context.Background()
	pop := synthetic(80, 7)
	l := newLinker(t, personSettings(), pop.dataset)
	start := l.Parameters()

	res, err := l.EstimateUUsingRandomSampling(ctx, 5000, 42)
	require.NoError(t, err)
	assert.Equal(t, em.StatusConverged, res.Status)
	assert.Equal(t, 1, res.Iterations)

	afterU := l.Parameters()
	assert.Equal(t, start.Lambda, afterU.Lambda, "u training leaves λ alone")
	for c := range start.Columns {
		assert.Equal(t, start.Columns[c].M, afterU.Columns[c].M, "u training leaves m alone")
	}
	assert.Less(t, afterU.Columns[0].U[2], 0.2, "random pairs rarely share a first name")

	_, err = l.EstimateMUsingEM(ctx, "l.dob = r.dob")
	require.NoError(t, err)

	afterM := l.Parameters()
	assert.Equal(t, afterU.Lambda, afterM.Lambda, "m training leaves λ alone")
	for c := range afterU.Columns {
		assert.Equal(t, afterU.Columns[c].U, afterM.Columns[c].U, "m training leaves u alone")
	}
	assert.Equal(t, afterU.Columns[2].M, afterM.Columns[2].M, "the blocked column keeps its m")
	assert.Greater(t, afterM.Columns[0].M[2], afterM.Columns[0].U[2])

	res, err = l.EstimateParametersUsingEM(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, em.StatusFailed, res.Status)
	for i := 1; i < len(res.History); i++ {
		assert.GreaterOrEqual(t, res.History[i].LogLikelihood, res.History[i-1].LogLikelihood-1e-9,
			"log-likelihood decreased at iteration %d", res.History[i].Iteration)
	}

	scored, err := l.Predict(ctx)
	require.NoError(t, err)
	var matches, nonMatches []float64
	for _, sp := range scored {
		assert.True(t, models.LessID(sp.IDL, sp.IDR), "pair (%s, %s) is not canonically ordered", sp.IDL, sp.IDR)
		if pop.person[sp.IDL] == pop.person[sp.IDR] {
			matches = append(matches, sp.MatchProbability)
		} else {
			nonMatches = append(nonMatches, sp.MatchProbability)
		}
	}
	require.NotEmpty(t, matches)
	require.NotEmpty(t, nonMatches)
	assert.Greater(t, mean(matches)-mean(nonMatches), 0.5)

	pred, err := l.Predictor()
	require.NoError(t, err)
	assert.Contains(t, pred.Columns(), predict.PrefixTFAdj+"surname")
	assert.NotContains(t, pred.Columns(), "source_dataset_l")

	// the exported settings reproduce the trained parameters
	reloaded := newLinker(t, l.Settings(), pop.dataset)
	want, got := l.Parameters(), reloaded.Parameters()
	assert.InDelta(t, want.Lambda, got.Lambda, 1e-12)
	for c := range want.Columns {
		assert.InDeltaSlice(t, want.Columns[c].M, got.Columns[c].M, 1e-12)
		assert.InDeltaSlice(t, want.Columns[c].U, got.Columns[c].U, 1e-12)
	}
}

func TestLinkOnlyCandidatePairs(t *testing.T) {
	s := settings.Settings{
		LinkType:      string(models.LinkModeLinkOnly),
		BlockingRules: []string{"l.first_name = r.first_name", "l.surname = r.surname"},
		Comparisons: []settings.ComparisonSettings{
			{ColumnName: "first_name"},
			{ColumnName: "surname"},
		},
	}
	person := func(id, surname, first string) models.Record {
		return models.Record{ID: id, Fields: map[string]any{"surname": surname, "first_name": first}}
	}
	left := models.Dataset{Name: "df_l", Records: []models.Record{
		person("1", "Linacre", "Robin"),
		person("2", "Smith", "John"),
	}}
	right := models.Dataset{Name: "df_r", Records: []models.Record{
		person("7", "Linacre", "Robin"),
		person("8", "Smith", "John"),
		person("9", "Smith", "Robin"),
	}}

	l := newLinker(t, s, right, left)
	pairs, stats, err := l.CandidatePairs(context.Background())
	require.NoError(t, err)

	got := make([][2]string, len(pairs))
	for i, p := range pairs {
		got[i] = [2]string{p.IDL, p.IDR}
		assert.Equal(t, "df_l", p.SourceL)
		assert.Equal(t, "df_r", p.SourceR)
	}
	assert.Equal(t, [][2]string{{"1", "7"}, {"1", "9"}, {"2", "8"}, {"2", "9"}}, got)
	require.Len(t, stats, 2)
	assert.Equal(t, 3, stats[0].Pairs)
	assert.Equal(t, 1, stats[1].Pairs)

	pred, err := l.Predictor()
	require.NoError(t, err)
	assert.Contains(t, pred.Columns(), "source_dataset_l")
}

func TestWarningsAreDeduplicated(t *testing.T) {
	s := settings.Settings{
		BlockingRules: []string{"l.surname = r.surname"},
		Comparisons: []settings.ComparisonSettings{
			{ColumnName: "mob"},
			{ColumnName: "middle_name"},
		},
	}
	l := newLinker(t, s, sevenRecords())

	for i := 0; i < 2; i++ {
		_, err := l.EstimateParametersUsingEM(context.Background())
		require.NoError(t, err)
	}

	var middle []models.Warning
	for _, w := range l.Warnings() {
		if w.Column == "middle_name" {
			middle = append(middle, w)
		}
	}
	require.Len(t, middle, 1)
	assert.Equal(t, models.WarningNumericDegeneracy, middle[0].Kind)

	// the all-null column keeps its prior
	assert.Equal(t, l.Model().Parameters(0).Columns[1].M, l.Parameters().Columns[1].M)
}

func TestNewErrors(t *testing.T) {
	exec := executor.NewMemory(logging.NewTestLogger(io.Discard))
	t.Cleanup(func() { _ = exec.Close() })
	logger := logging.NewTestLogger(io.Discard)

	base := settings.Settings{
		BlockingRules: []string{"l.surname = r.surname"},
		Comparisons:   []settings.ComparisonSettings{{ColumnName: "surname"}},
	}
	linkOnly := base.Clone()
	linkOnly.LinkType = string(models.LinkModeLinkOnly)
	missingField := base.Clone()
	missingField.Comparisons = append(missingField.Comparisons, settings.ComparisonSettings{ColumnName: "email"})

	duplicated := sevenRecords()
	duplicated.Records[1].ID = "1"
	other := sevenRecords()
	other.Name = "other"

	tests := []struct {
		name     string
		settings settings.Settings
		datasets []models.Dataset
		want     error
	}{
		{"no comparisons", settings.Settings{}, []models.Dataset{sevenRecords()}, models.ErrConfiguration},
		{"dedupe with two datasets", base, []models.Dataset{sevenRecords(), other}, models.ErrData},
		{"link with one dataset", linkOnly, []models.Dataset{sevenRecords()}, models.ErrData},
		{"link with repeated names", linkOnly, []models.Dataset{sevenRecords(), sevenRecords()}, models.ErrData},
		{"duplicate ids", base, []models.Dataset{duplicated}, models.ErrData},
		{"unknown field", missingField, []models.Dataset{sevenRecords()}, models.ErrData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), exec, tt.settings, logger, tt.datasets...)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := New(context.Background(), nil, base, logger, sevenRecords())
	assert.Error(t, err)
}

func TestOperationErrors(t *testing.T) {
	ctx := context.Background()
	s := settings.Settings{
		MaxCartesianPairs: settings.Ptr(int64(5)),
		Comparisons: []settings.ComparisonSettings{
			{ColumnName: "mob"},
			{ColumnName: "surname"},
		},
	}
	l := newLinker(t, s, sevenRecords())

	_, err := l.Predict(ctx)
	assert.ErrorIs(t, err, models.ErrBlockingExplosion)
	var explosion *models.BlockingExplosionError
	require.ErrorAs(t, err, &explosion)
	assert.EqualValues(t, 21, explosion.Estimated)

	_, err = l.EstimateMUsingEM(ctx, "1 = 1")
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, err = l.EstimateMUsingEM(ctx, "l.surname > r.surname")
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, err = l.EstimateMUsingEM(ctx, "l.surname = r.surname and l.mob = r.mob")
	assert.ErrorIs(t, err, models.ErrConfiguration, "nothing left to train")
	_, err = l.EstimateUUsingRandomSampling(ctx, 0, 1)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = l.EstimateMUsingEM(cancelled, "l.surname = r.surname")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSampleSize(t *testing.T) {
	assert.Equal(t, 2, sampleSize(1))
	assert.Equal(t, 5, sampleSize(10))
	assert.Equal(t, 6, sampleSize(11))
	assert.Equal(t, 1415, sampleSize(1_000_000))
}

func TestTablePrefix(t *testing.T) {
	assert.Equal(t, "s0f8fad5bd9cb", tablePrefix("0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Equal(t, "sab", tablePrefix("a;b"))
}
