// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package scoped provides a mapping from a string to any data type that is "scoped".
package scoped

import (
	"strings"

	"github.com/gomlx/mlptrain/pkg/support/xslices"
)

// Params provides a mapping from string to any data type that is "scoped":
//
//   - For every scope there is a map of string to data.
//   - Accessing a key triggers a search from the current scope up to the root scope, the
//     first result found is returned.
//
// Example: let's say the current Params hold:
//
//	Scope: "/": { "learning_rate": 0.01, "batch_size": 64 }
//	Scope: "/eval": { "batch_size": 1000 }
//
//	Params.Get("/eval", "batch_size") -> 1000
//	Params.Get("/eval", "learning_rate") -> 0.01
//	Params.Get("/", "batch_size") -> 64
//	Params.Get("/eval", "momentum") -> Not found.
//
// The separator (usually "/") separates parts of the scope path, and the root scope is
// referred to as the separator itself. Every scope name must start with the separator.
type Params struct {
	Separator  string
	scopeToMap map[string]map[string]any
}

// New creates an empty Params.
func New(scopeSeparator string) *Params {
	return &Params{
		Separator:  scopeSeparator,
		scopeToMap: make(map[string]map[string]any),
	}
}

// Clone returns a copy of the Params. Values themselves are not deep-copied.
func (p *Params) Clone() *Params {
	clone := New(p.Separator)
	for scope, dataMap := range p.scopeToMap {
		clone.scopeToMap[scope] = make(map[string]any, len(dataMap))
		for key, value := range dataMap {
			clone.scopeToMap[scope][key] = value
		}
	}
	return clone
}

// Set sets the value for the given key, in the given scope.
func (p *Params) Set(scope, key string, value any) {
	dataMap := p.scopeToMap[scope]
	if dataMap == nil {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// Get retrieves the value for the given key in the given scope or any parent scope.
// E.g: Get("/a/b", "myKey") will search for "myKey" in scopes "/a/b", "/a" and "/"
// consecutively until "myKey" is found.
//
// It returns the first value found if any, and whether some value was found.
func (p *Params) Get(scope, key string) (value any, found bool) {
	for {
		if dataMap := p.scopeToMap[scope]; dataMap != nil {
			if value, found = dataMap[key]; found {
				return
			}
		}
		if scope == p.Separator || scope == "" {
			return nil, false
		}
		scope = p.parent(scope)
	}
}

// parent returns the parent scope, the root scope being the separator.
func (p *Params) parent(scope string) string {
	idx := strings.LastIndex(scope, p.Separator)
	if idx <= 0 {
		return p.Separator
	}
	return scope[:idx]
}

// Enumerate enumerates all parameters sorted by scope and then by key, and calls the given
// closure with them.
func (p *Params) Enumerate(fn func(scope, key string, value any)) {
	for _, scope := range xslices.SortedKeys(p.scopeToMap) {
		keyValues := p.scopeToMap[scope]
		for _, key := range xslices.SortedKeys(keyValues) {
			fn(scope, key, keyValues[key])
		}
	}
}
