// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

/*
Package models defines the data structures shared by every stage of the
linkage pipeline.

Key Components:

  - Record / Dataset: caller-owned input rows keyed by a unique id
  - LinkMode: dedupe_only, link_only, link_and_dedupe
  - BlockingRule: restrictive join predicate used to generate candidate pairs
  - CandidatePair: an unordered pair of records, stored in canonical rank order
  - ScoredPair: one prediction output row
  - Error kinds: ConfigurationError, DataError, BlockingExplosionError and
    non-fatal Warning values

Canonical ordering:

Every registered record is given a dense rank by sorting on (source dataset,
natural id order). Candidate pairs always satisfy RankL < RankR, which means a
pair is never mirrored and never pairs a record with itself.

Null values:

Empty strings, whitespace-only strings and NaN are normalized to nil before
any comparison, blocking or frequency computation (see Normalize).
*/
package models
