// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
var DefaultConfigPaths = []string{
	"linkage.yaml",
	"linkage.yml",
	"/etc/linkage/config.yaml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "LINKAGE_CONFIG"

// defaultConfig returns a Config struct with all default values.
func defaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			Executor:       ExecutorDuckDB,
			AllowCartesian: false,
		},
		Database: DatabaseConfig{
			Path:                   ":memory:",
			MaxMemory:              "2GB",
			Threads:                0,
			PreserveInsertionOrder: false,
		},
		Store: StoreConfig{
			Path:     "./linkage-models",
			InMemory: false,
		},
		Training: TrainingConfig{
			URandomSampleRows: 1_000_000,
			Seed:              42,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration from multiple sources with priority:
//
//  1. Defaults: built-in values
//  2. Config File: explicit path, LINKAGE_CONFIG, or the first of DefaultConfigPaths
//  3. Environment Variables: override any setting
func LoadWithKoanf(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := path
	if configPath == "" {
		configPath = findConfigFile()
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first config file found, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - LINKAGE_EXECUTOR -> engine.executor
//   - DUCKDB_MAX_MEMORY -> database.max_memory
//   - LOG_LEVEL -> logging.level
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"linkage_executor":        "engine.executor",
		"linkage_allow_cartesian": "engine.allow_cartesian",

		"duckdb_path":                     "database.path",
		"duckdb_max_memory":               "database.max_memory",
		"duckdb_threads":                  "database.threads",
		"duckdb_preserve_insertion_order": "database.preserve_insertion_order",

		"linkage_store_path":      "store.path",
		"linkage_store_in_memory": "store.in_memory",

		"linkage_u_sample_rows": "training.u_random_sample_rows",
		"linkage_seed":          "training.seed",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	// Unmapped variables are skipped.
	return ""
}
