// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlices(t *testing.T) {
	assert.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
}

func TestFlag(t *testing.T) {
	f := &genericSliceFlagImpl[int]{parsedSlice: []int{512, 256}, parserFn: strconv.Atoi}
	assert.Equal(t, "512,256", f.String())
	require.NoError(t, f.Set("400,200,100"))
	assert.Equal(t, []int{400, 200, 100}, f.parsedSlice)
	require.Error(t, f.Set("1,x"))
	assert.Equal(t, []int{400, 200, 100}, f.parsedSlice, "failed Set must not change the value")
	require.NoError(t, f.Set(""))
	assert.Empty(t, f.parsedSlice)
}
