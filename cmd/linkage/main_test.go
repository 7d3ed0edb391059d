// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/linkage/internal/modelstore"
	"github.com/tomtom215/linkage/internal/settings"
)

const settingsYAML = `link_type: dedupe_only
blocking_rules_to_generate_predictions:
  - l.surname = r.surname
comparisons:
  - column_name: first_name
    comparison_levels:
      - type: "null"
      - type: exact
      - metric: jaro_winkler
        thresholds: [0.9]
      - type: else
  - column_name: city
  - column_name: dob
`

// setupEnv points the CLI at the in-memory executor and a temporary model
// store and returns a scratch directory.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LINKAGE_CONFIG", "")
	t.Setenv("LINKAGE_EXECUTOR", "memory")
	t.Setenv("LINKAGE_STORE_PATH", filepath.Join(dir, "models"))
	t.Setenv("LINKAGE_U_SAMPLE_ROWS", "5000")
	t.Setenv("LOG_LEVEL", "warn")
	return dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writePeople writes a people CSV where every even person appears twice and
// returns its path with the number of same-surname pairs.
func writePeople(t *testing.T, dir string) (string, int) {
	t.Helper()
	first := []string{"amelia", "oliver", "isla", "george", "ava", "harry", "mia", "noah", "grace", "leo"}
	last := []string{"linacre", "smith", "jones", "taylor", "brown", "wilson", "evans", "walker"}
	cities := []string{"london", "leeds", "york", "bath"}
	rng := rand.New(rand.NewSource(3)) //nolint:gosec // test data

	var rows [][]string
	add := func(r []string) {
		rows = append(rows, append([]string{strconv.Itoa(len(rows) + 1)}, r...))
	}
	for p := 0; p < 40; p++ {
		r := []string{
			first[rng.Intn(len(first))],
			last[rng.Intn(len(last))],
			cities[rng.Intn(len(cities))],
			fmt.Sprintf("19%02d-%02d-%02d", 50+rng.Intn(40), 1+rng.Intn(12), 1+rng.Intn(28)),
		}
		add(r)
		if p%2 == 0 {
			dup := append([]string(nil), r...)
			if rng.Float64() < 0.3 {
				dup[0] = dup[0][:len(dup[0])-1] + "x"
			}
			if rng.Float64() < 0.2 {
				dup[3] = ""
			}
			add(dup)
		}
	}

	bySurname := map[string]int{}
	for _, r := range rows {
		bySurname[r[2]]++
	}
	pairs := 0
	for _, n := range bySurname {
		pairs += n * (n - 1) / 2
	}

	path := filepath.Join(dir, "people.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{"unique_id", "first_name", "surname", "city", "dob"}))
	require.NoError(t, w.WriteAll(rows))
	require.NoError(t, f.Close())
	return path, pairs
}

func writeSettings(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(settingsYAML), 0o600))
	return path
}

func TestTrainPredictAndManageModels(t *testing.T) {
	dir := setupEnv(t)
	data, pairs := writePeople(t, dir)
	settingsPath := writeSettings(t, dir)

	_, err := run(t, "train", "--settings", settingsPath, "--model", "people", "--m-rule", "l.dob = r.dob", "--em", data)
	require.NoError(t, err)

	out, err := run(t, "models", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "people")
	assert.Contains(t, out, "dedupe_only")

	out, err = run(t, "models", "show", "people")
	require.NoError(t, err)
	trained, err := settings.Parse([]byte(out), settings.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, settings.Validate(trained))
	require.NotNil(t, trained.ProportionOfMatches)

	predictions := filepath.Join(dir, "predictions.jsonl")
	metricsFile := filepath.Join(dir, "linkage.prom")
	_, err = run(t, "predict", "--model", "people", "--output", predictions, "--metrics-textfile", metricsFile, data)
	require.NoError(t, err)
	prom, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "linkage_")

	f, err := os.Open(predictions)
	require.NoError(t, err)
	defer f.Close()
	var rows []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var row map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, sc.Err())
	require.Len(t, rows, pairs)
	for _, row := range rows {
		assert.Contains(t, row, "unique_id_l")
		assert.Contains(t, row, "gamma_first_name")
		assert.NotContains(t, row, "source_dataset_l")
		p, ok := row["match_probability"].(float64)
		require.True(t, ok)
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}

	_, err = run(t, "models", "delete", "people")
	require.NoError(t, err)
	out, err = run(t, "models", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "people")

	_, err = run(t, "models", "delete", "people")
	assert.ErrorIs(t, err, modelstore.ErrModelNotFound)
}

func TestTrainToStdoutAndPredictCSV(t *testing.T) {
	dir := setupEnv(t)
	data, _ := writePeople(t, dir)

	out, err := run(t, "train", "--settings", writeSettings(t, dir), data)
	require.NoError(t, err)
	trained, err := settings.Parse([]byte(out), settings.FormatYAML)
	require.NoError(t, err)
	require.NoError(t, settings.Validate(trained))
	for _, c := range trained.Comparisons {
		for _, l := range c.ComparisonLevels {
			if l.Type == settings.LevelNull {
				continue
			}
			assert.NotNil(t, l.MProbability, c.ColumnName)
			assert.NotNil(t, l.UProbability, c.ColumnName)
		}
	}

	trainedPath := filepath.Join(dir, "trained.json")
	require.NoError(t, settings.Save(trainedPath, trained))

	out, err = run(t, "predict", "--settings", trainedPath, "--format", "csv", "--threshold", "0.5", data)
	require.NoError(t, err)
	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, []string{
		"unique_id_l", "unique_id_r", "gamma_first_name", "gamma_city", "gamma_dob", "match_weight", "match_probability",
	}, records[0])
	for _, r := range records[1:] {
		p, err := strconv.ParseFloat(r[len(r)-1], 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, 0.5)
	}
}

func TestCommandErrors(t *testing.T) {
	dir := setupEnv(t)
	data, _ := writePeople(t, dir)
	settingsPath := writeSettings(t, dir)

	tests := []struct {
		name string
		args []string
	}{
		{"train without settings", []string{"train", data}},
		{"train without data", []string{"train", "--settings", settingsPath}},
		{"predict with model and settings", []string{"predict", "--model", "x", "--settings", settingsPath, data}},
		{"predict without model", []string{"predict", data}},
		{"predict unknown format", []string{"predict", "--settings", settingsPath, "--format", "xml", data}},
		{"predict bad threshold", []string{"predict", "--settings", settingsPath, "--threshold", "1.5", data}},
		{"missing data file", []string{"train", "--settings", settingsPath, filepath.Join(dir, "nope.csv")}},
		{"models show missing", []string{"models", "show", "ghost"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			assert.Error(t, err)
		})
	}

	_, err := run(t, "predict", "--model", "ghost", data)
	assert.ErrorIs(t, err, modelstore.ErrModelNotFound)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "linkage dev (unknown)\n", out)
}
