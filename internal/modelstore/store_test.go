// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package modelstore

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/linkage/internal/config"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/settings"
)

func openTestStore(t *testing.T, cfg config.StoreConfig) *Store {
	t.Helper()
	s, err := Open(cfg, logging.NewTestLogger(io.Discard))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func trainedSettings() settings.Settings {
	s := settings.Settings{
		BlockingRules: []string{"l.surname = r.surname"},
		Comparisons: []settings.ComparisonSettings{
			{ColumnName: "surname", TermFrequencyAdjustments: true},
			{ColumnName: "city"},
		},
	}
	out := settings.Complete(s)
	out.ProportionOfMatches = settings.Ptr(0.0123)
	levels := out.Comparisons[0].ComparisonLevels
	levels[1].MProbability = settings.Ptr(0.93)
	levels[1].UProbability = settings.Ptr(0.004)
	levels[2].MProbability = settings.Ptr(0.07)
	levels[2].UProbability = settings.Ptr(0.996)
	return out
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{InMemory: true})
	ctx := context.Background()

	m := &Model{
		Name:      "people-v1",
		SessionID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		Settings:  trainedSettings(),
		Warnings: []models.Warning{
			{Kind: models.WarningConvergenceNotReached, Iteration: 25, Message: "no convergence"},
		},
	}
	require.NoError(t, store.Save(ctx, m))
	assert.False(t, m.CreatedAt.IsZero())

	got, err := store.Load(ctx, "people-v1")
	require.NoError(t, err)
	assert.Equal(t, m.Settings, got.Settings)
	assert.Equal(t, m.Warnings, got.Warnings)
	assert.Equal(t, m.SessionID, got.SessionID)
	assert.True(t, m.CreatedAt.Equal(got.CreatedAt))

	// stored settings are ready to build
	require.NoError(t, settings.Validate(got.Settings))
}

func TestSaveReplaces(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{InMemory: true})
	ctx := context.Background()

	first := &Model{Name: "m", Settings: trainedSettings()}
	require.NoError(t, store.Save(ctx, first))

	second := &Model{Name: "m", Settings: trainedSettings(), CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	second.Settings.ProportionOfMatches = settings.Ptr(0.5)
	require.NoError(t, store.Save(ctx, second))

	got, err := store.Load(ctx, "m")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, *got.Settings.ProportionOfMatches, 0)
	assert.True(t, second.CreatedAt.Equal(got.CreatedAt))
}

func TestListAndDelete(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{InMemory: true})
	ctx := context.Background()

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		require.NoError(t, store.Save(ctx, &Model{Name: name, Settings: trainedSettings()}))
	}

	list, err := store.List(ctx)
	require.NoError(t, err)
	names := make([]string, len(list))
	for i, m := range list {
		names[i] = m.Name
	}
	assert.Equal(t, []string{"alpha", "bravo", "charlie"}, names)

	require.NoError(t, store.Delete(ctx, "bravo"))
	_, err = store.Load(ctx, "bravo")
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "bravo"), ErrModelNotFound)

	list, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestPersistsAcrossReopen(t *testing.T) {
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "models")}
	ctx := context.Background()

	store, err := Open(cfg, logging.NewTestLogger(io.Discard))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, &Model{Name: "durable", Settings: trainedSettings()}))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, cfg)
	got, err := reopened.Load(ctx, "durable")
	require.NoError(t, err)
	assert.InDelta(t, 0.0123, *got.Settings.ProportionOfMatches, 0)
}

func TestInvalidInput(t *testing.T) {
	store := openTestStore(t, config.StoreConfig{InMemory: true})

	assert.ErrorIs(t, store.Save(context.Background(), &Model{Name: "  "}), ErrInvalidName)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, store.Save(ctx, &Model{Name: "x"}), context.Canceled)
	_, err := store.List(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
