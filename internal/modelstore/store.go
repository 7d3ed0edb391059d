// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

// Package modelstore persists trained models in BadgerDB.
//
// A model is the completed settings document carrying trained m, u and λ,
// so a stored model can be loaded straight back into a linker. Models are
// keyed by name and encoded as JSON.
package modelstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/linkage/internal/config"
	"github.com/tomtom215/linkage/internal/models"
	"github.com/tomtom215/linkage/internal/settings"
)

const modelKeyPrefix = "model:"

// Sentinel errors.
var (
	ErrModelNotFound = errors.New("model not found")
	ErrInvalidName   = errors.New("invalid model name")
)

// Model is a stored training outcome.
type Model struct {
	Name      string            `json:"name"`
	CreatedAt time.Time         `json:"created_at"`
	SessionID string            `json:"session_id,omitempty"`
	Settings  settings.Settings `json:"settings"`
	Warnings  []models.Warning  `json:"warnings,omitempty"`
}

// Store is a BadgerDB-backed model store.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens the store described by cfg. An in-memory store keeps models
// for the lifetime of the process only.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func Open(cfg config.StoreConfig, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for models: %w", err)
	}
	return NewStore(db, logger), nil
}

// NewStore wraps an open database.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewStore(db *badger.DB, logger zerolog.Logger) *Store {
	return &Store{db: db, logger: logger.With().Str("component", "modelstore").Logger()}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "\x00\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Save stores a model, replacing any model of the same name. CreatedAt is
// set when zero.
func (s *Store) Save(ctx context.Context, m *Model) error {
	if err := validName(m.Name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(modelKeyPrefix+m.Name), data); err != nil {
			return fmt.Errorf("set model: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("model", m.Name).Int("bytes", len(data)).Msg("Model saved")
	return nil
}

// Load retrieves a model by name.
func (s *Store) Load(ctx context.Context, name string) (*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var m Model

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(modelKeyPrefix + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrModelNotFound, name)
		}
		if err != nil {
			return fmt.Errorf("get model: %w", err)
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &m)
		})
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns every stored model ordered by name.
func (s *Store) List(ctx context.Context) ([]*Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*Model

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(modelKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m Model
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			})
			if err != nil {
				return fmt.Errorf("decode model %s: %w", it.Item().Key(), err)
			}
			out = append(out, &m)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	return out, nil
}

// Delete removes a model by name.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := []byte(modelKeyPrefix + name)

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrModelNotFound, name)
			}
			return err
		}
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("delete model: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("model", name).Msg("Model deleted")
	return nil
}
