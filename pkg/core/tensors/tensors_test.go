// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"math"
	"testing"

	"github.com/gomlx/mlptrain/pkg/core/dtypes"
	"github.com/gomlx/mlptrain/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMatrixView(t *testing.T) {
	x := Zeros(2, 3)
	m := x.Matrix()
	m.Set(1, 2, 7)
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 7}, x.Flat(), "Matrix() must share the storage")
	assert.Equal(t, []float64{0, 0, 7}, x.Row(1))

	b := Zeros(3)
	rows, cols := b.Matrix().Dims()
	assert.Equal(t, 1, rows)
	assert.Equal(t, 3, cols)

	assert.Panics(t, func() { Zeros(2, 2, 2).Matrix() })
}

func TestConstructors(t *testing.T) {
	_, err := FromFlatDataAndDimensions([]float64{1, 2, 3}, 2, 2)
	require.Error(t, err)
	x, err := FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	require.NoError(t, x.Shape().Check(dtypes.Float64, 2, 2))

	_, err = FromRows([][]float64{{1, 2}, {3}})
	require.Error(t, err)
	_, err = FromRows(nil)
	require.Error(t, err)
	x, err = FromRows([][]float64{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, x.Flat())

	y := FromMatrix(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	assert.True(t, x.Equal(y))

	assert.Panics(t, func() { FromShape(shapes.Make(dtypes.Float32, 2)) })
}

func TestCopyAndCompare(t *testing.T) {
	x, err := FromFlatDataAndDimensions([]float64{1, math.NaN(), 3}, 3)
	require.NoError(t, err)
	y := x.Clone()
	assert.True(t, x.Equal(y), "bit-by-bit equality includes NaNs")
	y.Flat()[0] = 1.0001
	assert.False(t, x.Equal(y))
	assert.False(t, x.InDelta(y, 1e-5), "NaN is never within delta")

	z := Zeros(3)
	require.NoError(t, z.CopyFrom(x))
	assert.True(t, z.Equal(x))
	require.Error(t, z.CopyFrom(Zeros(4)))

	z.Zero()
	assert.Equal(t, []float64{0, 0, 0}, z.Flat())
	assert.Equal(t, "(Float64)[3]: [0 0 0]", z.String())
}
