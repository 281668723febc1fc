// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"fmt"

	"github.com/gomlx/mlptrain/pkg/core/shapes"
	"github.com/gomlx/mlptrain/pkg/core/tensors"
)

// Parameter is a named trainable tensor along with the accumulator of its gradient.
//
// Backward passes add to the gradient, so it must be reset with ZeroGrad before each
// new forward/backward pass, otherwise gradients of consecutive batches are summed.
type Parameter struct {
	name  string
	value *tensors.Tensor
	grad  *tensors.Tensor
}

// NewParameter creates a parameter with the given value (ownership is taken) and a zero gradient.
func NewParameter(name string, value *tensors.Tensor) *Parameter {
	return &Parameter{
		name:  name,
		value: value,
		grad:  tensors.FromShape(value.Shape()),
	}
}

// Name of the parameter, in scope format, e.g. "/hidden_0/weights".
func (p *Parameter) Name() string { return p.name }

// Value of the parameter. Optimizers update it in place.
func (p *Parameter) Value() *tensors.Tensor { return p.value }

// Grad returns the accumulated gradient of the loss with respect to the parameter.
func (p *Parameter) Grad() *tensors.Tensor { return p.grad }

// Shape of the parameter.
func (p *Parameter) Shape() shapes.Shape { return p.value.Shape() }

// ZeroGrad resets the gradient accumulator.
func (p *Parameter) ZeroGrad() { p.grad.Zero() }

// String implements fmt.Stringer.
func (p *Parameter) String() string {
	return fmt.Sprintf("%s: %s", p.name, p.value.Shape())
}
