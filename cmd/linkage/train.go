// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tomtom215/linkage/internal/em"
	"github.com/tomtom215/linkage/internal/linker"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/modelstore"
	"github.com/tomtom215/linkage/internal/settings"
)

type trainOptions struct {
	settingsPath string
	model        string
	output       string
	mRules       []string
	fullEM       bool
	skipU        bool
}

func newTrainCmd(a *app) *cobra.Command {
	var o trainOptions
	cmd := &cobra.Command{
		Use:   "train --settings FILE [flags] DATASET.csv...",
		Short: "Estimate model parameters from unlabelled data",
		Long: `train estimates u by random sampling, then m by EM under each --m-rule,
then all parameters by EM under the settings' blocking rules. Full EM runs
when --em is set or no --m-rule is given.

The trained settings are stored under --model, written to --output, or
printed as YAML when neither is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runTrain(cmd.Context(), &o, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.settingsPath, "settings", "s", "", "settings file (YAML or JSON)")
	f.StringVarP(&o.model, "model", "m", "", "store the trained model under this name")
	f.StringVarP(&o.output, "output", "o", "", "write trained settings to this file")
	f.StringArrayVar(&o.mRules, "m-rule", nil, "blocking rule for an m-only EM run (repeatable)")
	f.BoolVar(&o.fullEM, "em", false, "run full EM after the m-only runs")
	f.BoolVar(&o.skipU, "skip-u", false, "keep u from the settings file instead of sampling")
	_ = cmd.MarkFlagRequired("settings")
	return cmd
}

func (a *app) runTrain(ctx context.Context, o *trainOptions, paths []string) error {
	s, err := a.loadSettings(o.settingsPath)
	if err != nil {
		return err
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

	if !o.skipU {
		res, err := l.EstimateUUsingRandomSampling(ctx, int64(a.cfg.Training.URandomSampleRows), a.cfg.Training.Seed)
		if err != nil {
			return fmt.Errorf("estimate u: %w", err)
		}
		logResult("u_random_sampling", "", res)
	}
	for _, rule := range o.mRules {
		res, err := l.EstimateMUsingEM(ctx, rule)
		if err != nil {
			return fmt.Errorf("estimate m under %q: %w", rule, err)
		}
		logResult("m_em", rule, res)
	}
	if o.fullEM || len(o.mRules) == 0 {
		res, err := l.EstimateParametersUsingEM(ctx)
		if err != nil {
			return fmt.Errorf("estimate parameters: %w", err)
		}
		logResult("full_em", "", res)
	}

	trained := l.Settings()
	if o.model != "" {
		store, err := a.openStore()
		if err != nil {
			return err
		}
		defer closeLogged(store, "model store")
		err = store.Save(ctx, &modelstore.Model{
			Name:      o.model,
			SessionID: l.SessionID(),
			Settings:  trained,
			Warnings:  l.Warnings(),
		})
		if err != nil {
			return err
		}
	}
	if o.output != "" {
		if err := settings.Save(o.output, trained); err != nil {
			return err
		}
	}
	if o.model == "" && o.output == "" {
		data, err := settings.Marshal(trained, settings.FormatYAML)
		if err != nil {
			return err
		}
		_, err = a.out.Write(data)
		return err
	}
	return nil
}

// loadSettings reads a settings file and applies engine overrides.
func (a *app) loadSettings(path string) (settings.Settings, error) {
	s, err := settings.Load(path)
	if err != nil {
		return s, err
	}
	if a.cfg.Engine.AllowCartesian {
		s.MaxCartesianPairs = settings.Ptr(int64(0))
	}
	return s, nil
}

func logResult(step, rule string, res *em.Result) {
	ev := logging.Info().
		Str("step", step).
		Str("status", string(res.Status)).
		Int("iterations", res.Iterations).
		Int("patterns", res.Patterns).
		Float64("lambda", res.SessionLambda)
	if rule != "" {
		ev = ev.Str("rule", rule)
	}
	ev.Msg("Training step finished")
}
