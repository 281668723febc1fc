// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/mlptrain/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	dims := []int{256, 784}
	s := Make(dtypes.Float64, dims...)
	dims[0] = 1 // Make must copy the dimensions.
	assert.Equal(t, "(Float64)[256 784]", s.String())
	assert.Equal(t, 2, s.Rank())
	assert.Equal(t, 784, s.Dim(-1))
	assert.Equal(t, 256*784, s.Size())
	assert.Equal(t, uintptr(256*784*8), s.Memory())
	assert.True(t, s.Ok())
	assert.False(t, Invalid().Ok())
	assert.Equal(t, "(invalid)", Invalid().String())
	assert.Panics(t, func() { _ = s.Dim(2) })

	s2 := s.Clone()
	s2.Dimensions[0] = 128
	assert.Equal(t, 256, s.Dimensions[0])
	assert.False(t, s.Equal(s2))
	assert.True(t, s.Equal(Make(dtypes.Float64, 256, 784)))
	assert.False(t, s.Equal(Make(dtypes.Float32, 256, 784)))
	assert.True(t, s.EqualDimensions(Make(dtypes.Float32, 256, 784)))

	require.NoError(t, s.Check(dtypes.Float64, 256, 784))
	require.Error(t, s.Check(dtypes.Float64, 784, 256))
}
