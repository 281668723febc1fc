// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implements a Tensor, a multidimensional float64 array stored in row-major order.
//
// Rank-1 and rank-2 tensors can be viewed as gonum matrices (see Tensor.Matrix) without copying:
// the matrix shares the storage of the tensor, so in-place gonum operations change the tensor.
package tensors

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/mlptrain/pkg/core/dtypes"
	"github.com/gomlx/mlptrain/pkg/core/shapes"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a multidimensional array of float64 values.
//
// The zero value is not usable, create it with FromShape, FromFlatDataAndDimensions or FromMatrix.
type Tensor struct {
	shape shapes.Shape
	flat  []float64
}

// FromShape returns a zero-initialized tensor of the given shape. Only dtypes.Float64 is supported in memory.
func FromShape(shape shapes.Shape) *Tensor {
	if shape.DType != dtypes.Float64 {
		panic(errors.Errorf("tensors only hold Float64 values in memory, got shape %s", shape))
	}
	return &Tensor{shape: shape.Clone(), flat: make([]float64, shape.Size())}
}

// Zeros returns a zero-initialized Float64 tensor with the given dimensions.
func Zeros(dimensions ...int) *Tensor {
	return FromShape(shapes.Make(dtypes.Float64, dimensions...))
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions that takes ownership of
// the flat data -- it is not copied.
//
// It returns an error if the size of flat doesn't match the dimensions.
func FromFlatDataAndDimensions(flat []float64, dimensions ...int) (*Tensor, error) {
	shape := shapes.Make(dtypes.Float64, dimensions...)
	if shape.Size() != len(flat) {
		return nil, errors.Errorf("flat data has %d elements, but shape %s requires %d", len(flat), shape, shape.Size())
	}
	return &Tensor{shape: shape, flat: flat}, nil
}

// FromRows creates a rank-2 tensor from a slice of rows, copying the values.
// All rows must have the same length.
func FromRows(rows [][]float64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, errors.New("tensors.FromRows requires at least one row")
	}
	numCols := len(rows[0])
	t := Zeros(len(rows), numCols)
	for ii, row := range rows {
		if len(row) != numCols {
			return nil, errors.Errorf("row #%d has %d values, but row #0 has %d", ii, len(row), numCols)
		}
		copy(t.flat[ii*numCols:], row)
	}
	return t, nil
}

// FromMatrix returns a rank-2 tensor with a copy of the contents of the matrix.
func FromMatrix(m mat.Matrix) *Tensor {
	rows, cols := m.Dims()
	t := Zeros(rows, cols)
	t.Matrix().Copy(m)
	return t
}

// Shape returns the shape of the tensor. The caller shouldn't change it.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// Rank of the tensor.
func (t *Tensor) Rank() int { return t.shape.Rank() }

// Size returns the number of elements in the tensor.
func (t *Tensor) Size() int { return len(t.flat) }

// Flat returns the underlying storage in row-major order. Changes to it change the tensor.
func (t *Tensor) Flat() []float64 { return t.flat }

// Matrix returns a gonum view of the tensor sharing its storage.
// Rank-1 tensors are presented as a matrix with one row.
//
// It panics for any other rank.
func (t *Tensor) Matrix() *mat.Dense {
	switch t.Rank() {
	case 1:
		return mat.NewDense(1, t.shape.Dimensions[0], t.flat)
	case 2:
		return mat.NewDense(t.shape.Dimensions[0], t.shape.Dimensions[1], t.flat)
	default:
		panic(errors.Errorf("Tensor.Matrix() only supports rank 1 or 2 tensors, got shape %s", t.shape))
	}
}

// Row returns the slice with the values of row i of a rank-2 tensor, sharing the storage.
func (t *Tensor) Row(i int) []float64 {
	numCols := t.shape.Dim(-1)
	return t.flat[i*numCols : (i+1)*numCols]
}

// Zero sets all values to 0.
func (t *Tensor) Zero() {
	clear(t.flat)
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: t.shape.Clone(), flat: slices.Clone(t.flat)}
}

// CopyFrom copies the values of src into t. Both must have the same shape.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !t.shape.Equal(src.shape) {
		return errors.Errorf("can't copy tensor of shape %s into tensor of shape %s", src.shape, t.shape)
	}
	copy(t.flat, src.flat)
	return nil
}

// Equal returns whether both tensors have the same shape and bit-by-bit identical values.
// Notice that NaN values with the same bits are considered equal.
func (t *Tensor) Equal(t2 *Tensor) bool {
	if !t.shape.Equal(t2.shape) {
		return false
	}
	for ii, v := range t.flat {
		if math.Float64bits(v) != math.Float64bits(t2.flat[ii]) {
			return false
		}
	}
	return true
}

// InDelta returns whether both tensors have the same shape and values within delta of each other.
func (t *Tensor) InDelta(t2 *Tensor, delta float64) bool {
	if !t.shape.Equal(t2.shape) {
		return false
	}
	for ii, v := range t.flat {
		if math.Abs(v-t2.flat[ii]) > delta {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer. Large tensors only have their shape printed.
func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	const maxValuesToPrint = 16
	if len(t.flat) > maxValuesToPrint {
		return fmt.Sprintf("%s: %d values", t.shape, len(t.flat))
	}
	return fmt.Sprintf("%s: %v", t.shape, t.flat)
}
