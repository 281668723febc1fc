// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapes defines Shape, the dimensions plus the DType of a tensor.
//
// ## Glossary
//
//   - Rank: number of axes (dimensions) of a Tensor.
//   - Axis: is the index of a dimension on a multidimensional Tensor.
//   - Dimension: the size of a multi-dimensions Tensor in one of its axes.
//   - DType: the data type of the unit element in a tensor. See package dtypes.
//
// Example: a weight matrix mapping 784 inputs to 256 outputs has shape `(Float64)[256 784]`:
// rank 2, axis 0 has dimension 256 (the outputs) and axis 1 has dimension 784 (the inputs).
// This shape could be created with `shapes.Make(dtypes.Float64, 256, 784)`.
package shapes

import (
	"fmt"
	"slices"

	"github.com/gomlx/mlptrain/pkg/core/dtypes"
	"github.com/pkg/errors"
)

// Shape represents the shape of a Tensor.
//
// Use Make to create a new shape.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape structure filled with the values given.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// Invalid returns an invalid shape, used to mark "no shape".
func Invalid() Shape {
	return Shape{DType: dtypes.InvalidDType}
}

// Ok returns whether this is a valid Shape.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank of the shape, that is, the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// Dim returns the dimension of the given axis. axis can take negative numbers, in which
// case it counts as starting from the end -- so axis=-1 refers to the last axis.
//
// It panics if axis is out of range.
func (s Shape) Dim(axis int) int {
	adjustedAxis := axis
	if adjustedAxis < 0 {
		adjustedAxis += s.Rank()
	}
	if adjustedAxis < 0 || adjustedAxis >= s.Rank() {
		panic(errors.Errorf("Shape.Dim(%d) out-of-bounds for rank %d (shape=%s)", axis, s.Rank(), s))
	}
	return s.Dimensions[adjustedAxis]
}

// String implements fmt.Stringer.
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid)"
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// Size returns the number of elements of DType needed for this shape. It's the product of all dimensions.
func (s Shape) Size() (size int) {
	size = 1
	for _, d := range s.Dimensions {
		size *= d
	}
	return
}

// Memory returns the number of bytes used to store a tensor of this shape.
func (s Shape) Memory() uintptr {
	return uintptr(s.DType.SizeForDimensions(s.Dimensions...))
}

// Equal compares two shapes for equality: dtype and dimensions are compared.
func (s Shape) Equal(s2 Shape) bool {
	return s.DType == s2.DType && s.EqualDimensions(s2)
}

// EqualDimensions compares two shapes for equality of dimensions. DTypes can be different.
func (s Shape) EqualDimensions(s2 Shape) bool {
	return slices.Equal(s.Dimensions, s2.Dimensions)
}

// Clone returns a new deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// Check that the shape has the given dtype and dimensions, and returns an error otherwise.
func (s Shape) Check(dtype dtypes.DType, dimensions ...int) error {
	if s.DType != dtype || !slices.Equal(s.Dimensions, dimensions) {
		return errors.Errorf("shape %s doesn't match the expected %s", s, Make(dtype, dimensions...))
	}
	return nil
}
