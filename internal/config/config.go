// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package config holds the runtime configuration of the linkage binary:
// which executor backs the engine, how DuckDB is tuned, where trained
// models are stored and how logs are written.
//
// The linkage settings artifact (comparisons, blocking rules, priors) is a
// separate document handled by internal/settings.
//
// Configuration is layered with koanf: built-in defaults, then an optional
// YAML file, then environment variables. See LoadWithKoanf.
package config

// Executor backends.
const (
	ExecutorDuckDB = "duckdb"
	ExecutorMemory = "memory"
)

// Config is the complete runtime configuration.
type Config struct {
	Engine   EngineConfig   `koanf:"engine"`
	Database DatabaseConfig `koanf:"database"`
	Store    StoreConfig    `koanf:"store"`
	Training TrainingConfig `koanf:"training"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// EngineConfig selects the relational executor.
type EngineConfig struct {
	// Executor is "duckdb" or "memory".
	Executor string `koanf:"executor"`

	// AllowCartesian permits candidate generation without blocking rules
	// even when the pair count exceeds the settings threshold.
	AllowCartesian bool `koanf:"allow_cartesian"`
}

// DatabaseConfig tunes the DuckDB executor.
type DatabaseConfig struct {
	Path                   string `koanf:"path"` // ":memory:" for an in-process database
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`                  // 0 = use NumCPU
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"` // false lets DuckDB reorder large joins
}

// StoreConfig configures the badger model store.
type StoreConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// TrainingConfig holds defaults for training runs started from the CLI.
type TrainingConfig struct {
	// URandomSampleRows is the target number of pairs for u estimation.
	URandomSampleRows int `koanf:"u_random_sample_rows"`

	// Seed makes random sampling repeatable.
	Seed int64 `koanf:"seed"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	// Default: info
	Level string `koanf:"level"`

	// Format is json or console.
	// Default: json
	Format string `koanf:"format"`

	// Caller includes caller file and line number in logs.
	Caller bool `koanf:"caller"`
}
