// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package database implements the relational executor on top of DuckDB.
//
// Each registered table becomes a DuckDB table; query descriptors from
// internal/executor are rendered to SQL with the query subpackage. Blocking
// rules run as hash or range joins, and the EM expectation step is pushed
// down as a GROUP BY over gamma patterns so only aggregated statistics
// cross back into Go.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/config"
	"github.com/tomtom215/linkage/internal/executor"
)

// DB wraps the DuckDB connection and implements executor.Executor.
type DB struct {
	conn   *sql.DB
	cfg    *config.DatabaseConfig
	logger zerolog.Logger

	// schemas of registered tables, used to report unknown tables and
	// columns the same way the in-memory executor does
	schemas   map[string]*executor.Table
	schemasMu sync.RWMutex
}

var _ executor.Executor = (*DB)(nil)

// New opens a DuckDB database configured for pairwise workloads.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(cfg *config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		dbDir := filepath.Dir(cfg.Path)
		if dbDir != "" && dbDir != "." {
			if err := os.MkdirAll(dbDir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
			}
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	// Disable auto-install/auto-load; the executor only needs core SQL.
	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:    conn,
		cfg:     cfg,
		logger:  logger.With().Str("component", "executor").Str("backend", "duckdb").Logger(),
		schemas: make(map[string]*executor.Table),
	}
	db.configureConnectionPool()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.logger.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Str("max_memory", cfg.MaxMemory).
		Msg("DuckDB executor ready")
	return db, nil
}

// configureConnectionPool sets pool limits for parallel query execution.
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	db.schemasMu.Lock()
	db.schemas = make(map[string]*executor.Table)
	db.schemasMu.Unlock()
	return db.conn.Close()
}

// Ping checks database connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// schema returns the registered schema of a table.
func (db *DB) schema(name string) (*executor.Table, error) {
	db.schemasMu.RLock()
	defer db.schemasMu.RUnlock()
	s, ok := db.schemas[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", executor.ErrTableNotFound, name)
	}
	return s, nil
}

// requireColumns checks that every column exists in a registered table.
func (db *DB) requireColumns(table string, columns ...string) error {
	s, err := db.schema(table)
	if err != nil {
		return err
	}
	for _, c := range columns {
		if s.Index(c) < 0 {
			return executor.ColumnError(table, c)
		}
	}
	return nil
}
