// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/linkage/internal/linker"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/predict"
	"github.com/tomtom215/linkage/internal/settings"
)

const (
	formatJSONL = "jsonl"
	formatCSV   = "csv"
)

type predictOptions struct {
	model        string
	settingsPath string
	output       string
	format       string
	threshold    float64
}

func newPredictCmd(a *app) *cobra.Command {
	var o predictOptions
	cmd := &cobra.Command{
		Use:   "predict (--model NAME | --settings FILE) [flags] DATASET.csv...",
		Short: "Score candidate pairs with a trained model",
		Long: `predict generates candidate pairs with the model's blocking rules and writes
one row per pair with its comparison vector, match weight and match
probability. Rows are ordered by the left then right record.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runPredict(cmd.Context(), &o, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.model, "model", "m", "", "stored model name")
	f.StringVarP(&o.settingsPath, "settings", "s", "", "trained settings file")
	f.StringVarP(&o.output, "output", "o", "", "output file (default: stdout)")
	f.StringVar(&o.format, "format", formatJSONL, "output format: jsonl or csv")
	f.Float64Var(&o.threshold, "threshold", 0, "only write pairs with at least this match probability")
	cmd.MarkFlagsOneRequired("model", "settings")
	cmd.MarkFlagsMutuallyExclusive("model", "settings")
	return cmd
}

func (a *app) runPredict(ctx context.Context, o *predictOptions, paths []string) error {
	if o.format != formatJSONL && o.format != formatCSV {
		return fmt.Errorf("unknown output format %q", o.format)
	}
	if o.threshold < 0 || o.threshold > 1 {
		return fmt.Errorf("threshold %g outside [0, 1]", o.threshold)
	}

	var s settings.Settings
	if o.model != "" {
		store, err := a.openStore()
		if err != nil {
			return err
		}
		m, err := store.Load(ctx, o.model)
		closeLogged(store, "model store")
		if err != nil {
			return err
		}
		s = m.Settings
		if a.cfg.Engine.AllowCartesian {
			s.MaxCartesianPairs = settings.Ptr(int64(0))
		}
	} else {
		var err error
		if s, err = a.loadSettings(o.settingsPath); err != nil {
			return err
		}
	}

	datasets, err := readDatasets(paths, settings.Complete(s).UniqueIDColumnName)
	if err != nil {
		return err
	}
	exec, err := a.openExecutor()
	if err != nil {
		return err
	}
	defer closeLogged(exec, "executor")

	ctx = logging.ContextWithNewSessionID(ctx)
	l, err := linker.New(ctx, exec, s, logging.Logger(), datasets...)
	if err != nil {
		return err
	}
	scored, err := l.Predict(ctx)
	if err != nil {
		return err
	}
	total := len(scored)
	if o.threshold > 0 {
		scored = predict.AboveThreshold(scored, o.threshold)
	}
	pred, err := l.Predictor()
	if err != nil {
		return err
	}

	w := a.out
	if o.output != "" {
		f, err := os.Create(o.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer closeLogged(f, "output file")
		w = f
	}
	if o.format == formatCSV {
		err = writeCSV(w, pred, scored)
	} else {
		err = writeJSONLines(w, pred, scored)
	}
	if err != nil {
		return err
	}

	logging.Info().
		Int("pairs_scored", total).
		Int("pairs_written", len(scored)).
		Float64("threshold", o.threshold).
		Msg("Prediction finished")
	return nil
}

func writeJSONLines(w io.Writer, pred *predict.Predictor, scored []models.ScoredPair) error {
	enc := json.NewEncoder(w)
	for i := range scored {
		if err := enc.Encode(pred.Record(&scored[i])); err != nil {
			return fmt.Errorf("write prediction: %w", err)
		}
	}
	return nil
}

func writeCSV(w io.Writer, pred *predict.Predictor, scored []models.ScoredPair) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(pred.Columns()); err != nil {
		return err
	}
	for i := range scored {
		row := pred.Row(&scored[i])
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = formatCell(v)
		}
		if err := cw.Write(cells); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write predictions: %w", err)
	}
	return nil
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	default:
		return fmt.Sprint(x)
	}
}
