// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tomtom215/linkage/internal/models"
)

// cellKind is the inferred type of a CSV column.
type cellKind int

const (
	kindString cellKind = iota
	kindInt
	kindFloat
)

// readDatasets reads one dataset per CSV file.
func readDatasets(paths []string, idColumn string) ([]models.Dataset, error) {
	out := make([]models.Dataset, 0, len(paths))
	for _, p := range paths {
		ds, err := readDataset(p, idColumn)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// readDataset reads a CSV file with a header row. Empty cells are null.
// Columns whose non-empty cells all parse as integers (without leading
// zeros) or as floats are read as numbers; every other column is text.
func readDataset(path, idColumn string) (models.Dataset, error) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	ds := models.Dataset{Name: name}

	f, err := os.Open(path) //nolint:gosec // path is a user-supplied input file
	if err != nil {
		return ds, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return ds, &models.DataError{Dataset: name, Reason: "file is empty"}
	}
	if err != nil {
		return ds, fmt.Errorf("read header of %s: %w", path, err)
	}

	idIdx := -1
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\uFEFF"))
		if header[i] == idColumn {
			idIdx = i
		}
	}
	if idIdx < 0 {
		return ds, &models.DataError{Dataset: name, Reason: fmt.Sprintf("no %q column", idColumn)}
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return ds, &models.DataError{Dataset: name, Reason: err.Error()}
		}
		rows = append(rows, rec)
	}

	kinds := inferKinds(len(header), rows)
	ds.Records = make([]models.Record, 0, len(rows))
	for _, rec := range rows {
		fields := make(map[string]any, len(header)-1)
		for i, h := range header {
			if i == idIdx {
				continue
			}
			fields[h] = parseCell(rec[i], kinds[i])
		}
		ds.Records = append(ds.Records, models.Record{ID: strings.TrimSpace(rec[idIdx]), Fields: fields})
	}
	return ds, nil
}

func inferKinds(width int, rows [][]string) []cellKind {
	kinds := make([]cellKind, width)
	for c := 0; c < width; c++ {
		kind, seen := kindInt, false
		for _, rec := range rows {
			v := strings.TrimSpace(rec[c])
			if v == "" {
				continue
			}
			seen = true
			if kind == kindInt && !isInt(v) {
				kind = kindFloat
			}
			if kind == kindFloat {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					kind = kindString
					break
				}
			}
		}
		if !seen {
			kind = kindString
		}
		kinds[c] = kind
	}
	return kinds
}

func isInt(v string) bool {
	digits := strings.TrimPrefix(v, "-")
	if len(digits) > 1 && digits[0] == '0' {
		return false
	}
	_, err := strconv.ParseInt(v, 10, 64)
	return err == nil
}

func parseCell(v string, kind cellKind) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	switch kind {
	case kindInt:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case kindFloat:
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return x
		}
	}
	return v
}
