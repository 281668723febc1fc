// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package model

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// Architecture describes the shape of a multi-layer perceptron: it's all that is needed
// (along with a seed) to build a model with New.
//
// It's stored in checkpoints along with the parameters, since the architecture can't be
// unambiguously recovered from the parameter tensors alone.
type Architecture struct {
	// InputSize is the number of features of each example.
	InputSize int

	// OutputSize is the number of classes.
	OutputSize int

	// HiddenSizes are the number of units of each hidden layer, in order. It can be empty,
	// in which case the model is a multinomial logistic regression.
	HiddenSizes []int
}

// Validate returns an error if any of the sizes is not positive.
func (a Architecture) Validate() error {
	if a.InputSize <= 0 {
		return errors.Errorf("invalid architecture %s: input size must be > 0", a)
	}
	if a.OutputSize <= 0 {
		return errors.Errorf("invalid architecture %s: output size must be > 0", a)
	}
	for ii, size := range a.HiddenSizes {
		if size <= 0 {
			return errors.Errorf("invalid architecture %s: hidden layer #%d size must be > 0", a, ii)
		}
	}
	return nil
}

// Equal returns whether both architectures are the same.
func (a Architecture) Equal(a2 Architecture) bool {
	return a.InputSize == a2.InputSize && a.OutputSize == a2.OutputSize && slices.Equal(a.HiddenSizes, a2.HiddenSizes)
}

// Clone returns a deep copy of the architecture.
func (a Architecture) Clone() Architecture {
	a.HiddenSizes = slices.Clone(a.HiddenSizes)
	return a
}

// LayerSizes returns the input size, followed by the hidden sizes and the output size.
func (a Architecture) LayerSizes() []int {
	sizes := make([]int, 0, len(a.HiddenSizes)+2)
	sizes = append(sizes, a.InputSize)
	sizes = append(sizes, a.HiddenSizes...)
	return append(sizes, a.OutputSize)
}

// String implements fmt.Stringer. E.g.: "784 → [256 128] → 10".
func (a Architecture) String() string {
	return fmt.Sprintf("%d → %v → %d", a.InputSize, a.HiddenSizes, a.OutputSize)
}

// ParameterShape is the name and dimensions of one model parameter.
type ParameterShape struct {
	Name       string
	Dimensions []int
}

// ParameterShapes returns the name and dimensions of the parameters a model with this architecture has,
// in the same order as Model.Parameters.
func (a Architecture) ParameterShapes() []ParameterShape {
	sizes := a.LayerSizes()
	shapes := make([]ParameterShape, 0, 2*(len(a.HiddenSizes)+1))
	addLayer := func(scope string, in, out int) {
		shapes = append(shapes,
			ParameterShape{Name: scope + "/weights", Dimensions: []int{out, in}},
			ParameterShape{Name: scope + "/biases", Dimensions: []int{out}})
	}
	for ii := range a.HiddenSizes {
		addLayer(HiddenScope(ii), sizes[ii], sizes[ii+1])
	}
	addLayer(OutputScope, sizes[len(sizes)-2], a.OutputSize)
	return shapes
}
