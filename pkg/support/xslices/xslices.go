// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices provide missing functionality to the slices package.
package xslices

import (
	"cmp"
	"flag"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/exp/constraints"
)

// Iota returns a slice of incremental values starting with start.
// Eg: Iota(3.0, 2) -> []float64{3.0, 4.0}
func Iota[T interface {
	constraints.Integer | constraints.Float
}](start T, len int) (slice []T) {
	slice = make([]T, len)
	for ii := range slice {
		slice[ii] = start + T(ii)
	}
	return
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}

// SortedKeys returns the sorted keys of a map.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// sliceFlag registers a flag for []T with the given name, description and default value,
// parsing each element with parserFn.
//
// The flag value is a comma-separated list, e.g.: `-hidden=512,256,128`.
func sliceFlag[T any](name string, defaultValue []T, usage string,
	parserFn func(valueStr string) (T, error)) *[]T {
	f := &genericSliceFlagImpl[T]{
		parsedSlice: defaultValue,
		parserFn:    parserFn,
	}
	flag.Var(f, name, usage)
	return &f.parsedSlice
}

// IntsFlag registers a flag for a comma-separated list of ints, e.g. `-hidden=512,256,128`.
func IntsFlag(name string, defaultValue []int, usage string) *[]int {
	return sliceFlag(name, defaultValue, usage, func(valueStr string) (int, error) {
		return strconv.Atoi(strings.TrimSpace(valueStr))
	})
}

// genericSliceFlagImpl implements flag.Value for a generic type.
type genericSliceFlagImpl[T any] struct {
	parsedSlice []T
	parserFn    func(valueStr string) (T, error)
}

func (f *genericSliceFlagImpl[T]) String() string {
	if len(f.parsedSlice) == 0 {
		return ""
	}
	parts := Map(f.parsedSlice, func(elem T) string {
		if stringer, ok := any(elem).(fmt.Stringer); ok {
			return stringer.String()
		}
		return fmt.Sprintf("%v", elem)
	})
	return strings.Join(parts, ",")
}

func (f *genericSliceFlagImpl[T]) Set(listStr string) error {
	if listStr == "" {
		f.parsedSlice = make([]T, 0)
		return nil
	}
	parts := strings.Split(listStr, ",")
	parsed := make([]T, len(parts))
	var err error
	for ii, part := range parts {
		parsed[ii], err = f.parserFn(part)
		if err != nil {
			return err
		}
	}
	f.parsedSlice = parsed
	return nil
}
