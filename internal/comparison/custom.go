// Linkage - Probabilistic Record Linkage and Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/linkage

package comparison

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/linkage/internal/models"
)

// CustomFunc decides a custom level from the compared field values of each
// side, in the order the level lists its fields.
type CustomFunc func(l, r []any) bool

var (
	customMu    sync.RWMutex
	customFuncs = map[string]CustomFunc{
		"columns_reversed": columnsReversed,
	}
)

// RegisterCustom makes a predicate available to custom levels. Registering
// an existing name replaces it.
func RegisterCustom(name string, fn CustomFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("custom predicate needs a name and a function")
	}
	customMu.Lock()
	customFuncs[name] = fn
	customMu.Unlock()
	return nil
}

// LookupCustom returns a registered predicate.
func LookupCustom(name string) (CustomFunc, bool) {
	customMu.RLock()
	defer customMu.RUnlock()
	fn, ok := customFuncs[name]
	return fn, ok
}

// CustomNames lists the registered predicates.
func CustomNames() []string {
	customMu.RLock()
	defer customMu.RUnlock()
	names := make([]string, 0, len(customFuncs))
	for n := range customFuncs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// columnsReversed holds when two fields are swapped between the sides,
// e.g. forename and surname entered the wrong way round.
func columnsReversed(l, r []any) bool {
	if len(l) != 2 || len(r) != 2 {
		return false
	}
	a, ok1 := models.ValueKey(l[0])
	b, ok2 := models.ValueKey(r[1])
	c, ok3 := models.ValueKey(l[1])
	d, ok4 := models.ValueKey(r[0])
	return ok1 && ok2 && ok3 && ok4 && a == b && c == d
}
