// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package main is the linkage command line tool.
//
// linkage trains Fellegi-Sunter models on CSV files and scores candidate
// record pairs with them.
//
// # Commands
//
//	linkage train   --settings people.yaml --model people --m-rule "l.dob = r.dob" --em people.csv
//	linkage predict --model people --threshold 0.9 people.csv > pairs.jsonl
//	linkage predict --settings trained.yaml --format csv people.csv
//	linkage models list
//	linkage models show people
//	linkage models delete people
//	linkage version
//
// dedupe_only settings take one CSV file; link_only and link_and_dedupe
// take two or more. The dataset name of each file is its base name without
// extension.
//
// # Configuration
//
// Runtime configuration is loaded with Koanf v2 from built-in defaults, an
// optional YAML file (--config, LINKAGE_CONFIG or ./linkage.yaml) and
// environment variables (highest priority):
//
//	LINKAGE_EXECUTOR=duckdb|memory
//	LINKAGE_ALLOW_CARTESIAN=true
//	DUCKDB_PATH, DUCKDB_MAX_MEMORY, DUCKDB_THREADS
//	LINKAGE_STORE_PATH, LINKAGE_STORE_IN_MEMORY
//	LINKAGE_U_SAMPLE_ROWS, LINKAGE_SEED
//	LOG_LEVEL, LOG_FORMAT, LOG_CALLER
//
// Logs go to stderr; prediction rows go to stdout unless --output is set.
// --metrics-textfile writes the run's Prometheus metrics for a
// node_exporter textfile collector.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// SIGINT and SIGTERM cancel the running operation; EM stops at the next
	// iteration boundary.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
