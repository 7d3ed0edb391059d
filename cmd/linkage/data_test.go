// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/linkage/internal/models"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestReadDataset(t *testing.T) {
	path := writeFile(t, "voters.csv", `id,age,score,zip,name
a, 34 ,1.5,01234,Ann
b,,2,90210,
c,-7,3e2,00501,Cy
`)
	ds, err := readDataset(path, "id")
	require.NoError(t, err)
	assert.Equal(t, "voters", ds.Name)
	require.Len(t, ds.Records, 3)

	a := ds.Records[0]
	assert.Equal(t, "a", a.ID)
	assert.NotContains(t, a.Fields, "id")
	assert.Equal(t, int64(34), a.Fields["age"])
	assert.Equal(t, 1.5, a.Fields["score"])
	// leading zeros keep a column textual
	assert.Equal(t, "01234", a.Fields["zip"])
	assert.Equal(t, "Ann", a.Fields["name"])

	b := ds.Records[1]
	assert.Nil(t, b.Fields["age"])
	assert.Contains(t, b.Fields, "name")
	assert.Nil(t, b.Fields["name"])
	assert.Equal(t, 2.0, b.Fields["score"])

	assert.Equal(t, int64(-7), ds.Records[2].Fields["age"])
	assert.Equal(t, 300.0, ds.Records[2].Fields["score"])
}

func TestReadDatasetErrors(t *testing.T) {
	var dataErr *models.DataError

	_, err := readDataset(writeFile(t, "a.csv", "name,city\nAnn,York\n"), "unique_id")
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, "a", dataErr.Dataset)

	_, err = readDataset(writeFile(t, "b.csv", "unique_id,name\n1,Ann,extra\n"), "unique_id")
	assert.ErrorAs(t, err, &dataErr)

	_, err = readDataset(writeFile(t, "c.csv", ""), "unique_id")
	assert.ErrorAs(t, err, &dataErr)

	_, err = readDatasets([]string{filepath.Join(t.TempDir(), "missing.csv")}, "unique_id")
	assert.Error(t, err)
}

func TestInferKindsAllEmpty(t *testing.T) {
	kinds := inferKinds(2, [][]string{{"", "1"}, {" ", "2"}})
	assert.Equal(t, []cellKind{kindString, kindInt}, kinds)
}
