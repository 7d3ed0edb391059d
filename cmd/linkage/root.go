// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package main

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tomtom215/linkage/internal/config"
	"github.com/tomtom215/linkage/internal/database"
	"github.com/tomtom215/linkage/internal/executor"
	"github.com/tomtom215/linkage/internal/logging"
	"github.com/tomtom215/linkage/internal/modelstore"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "unknown"
)

// app carries the state shared by every command.
type app struct {
	cfgFile     string
	metricsFile string
	cfg         *config.Config
	out         io.Writer
	errOut      io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "linkage",
		Short: "Probabilistic record linkage and deduplication",
		Long: `linkage finds records that refer to the same entity, within one dataset
or across several, without labelled training data.

Models follow Fellegi-Sunter: every compared column contributes a Bayes
factor m/u, and m, u and the prior match proportion are estimated by
expectation maximisation over candidate pairs produced by blocking rules.`,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE:  a.init,
		PersistentPostRunE: a.writeMetrics,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: $LINKAGE_CONFIG or ./linkage.yaml)")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-textfile", "",
		"write Prometheus metrics to this file on success (node_exporter textfile format)")

	root.AddCommand(
		newTrainCmd(a),
		newPredictCmd(a),
		newModelsCmd(a),
		newVersionCmd(a),
	)
	return root
}

// init loads the runtime configuration and configures logging.
func (a *app) init(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}
	cfg, err := config.LoadWithKoanf(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    a.errOut,
	})
	logging.Debug().
		Str("executor", cfg.Engine.Executor).
		Str("store_path", cfg.Store.Path).
		Bool("store_in_memory", cfg.Store.InMemory).
		Msg("Configuration loaded")
	return nil
}

// writeMetrics dumps the default registry for a textfile collector.
func (a *app) writeMetrics(_ *cobra.Command, _ []string) error {
	if a.metricsFile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(a.metricsFile, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// openExecutor creates the executor selected by the configuration.
func (a *app) openExecutor() (executor.Executor, error) {
	switch a.cfg.Engine.Executor {
	case config.ExecutorMemory:
		return executor.NewMemory(logging.Logger()), nil
	case config.ExecutorDuckDB:
		db, err := database.New(&a.cfg.Database, logging.Logger())
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown executor %q", a.cfg.Engine.Executor)
	}
}

func (a *app) openStore() (*modelstore.Store, error) {
	return modelstore.Open(a.cfg.Store, logging.Logger())
}

func closeLogged(c io.Closer, what string) {
	if err := c.Close(); err != nil {
		logging.Error().Err(err).Str("resource", what).Msg("Close failed")
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(a.out, "linkage %s (%s)\n", version, commit)
			return err
		},
	}
}
