// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"github.com/gomlx/mlptrain/pkg/core/tensors"
)

// Relu is the rectified linear unit activation: max(0, x).
type Relu struct {
	output *tensors.Tensor
}

var _ Layer = (*Relu)(nil)

// NewRelu returns a new Relu activation layer.
func NewRelu() *Relu { return &Relu{} }

// Parameters implements Layer. Relu has no parameters.
func (r *Relu) Parameters() []*Parameter { return nil }

// Forward implements Layer.
func (r *Relu) Forward(x *tensors.Tensor, _ bool) (*tensors.Tensor, error) {
	if err := checkBatch("relu", x, -1); err != nil {
		return nil, err
	}
	y := x.Clone()
	for ii, v := range y.Flat() {
		if v < 0 {
			y.Flat()[ii] = 0
		}
	}
	r.output = y
	return y, nil
}

// Backward implements Layer. The gradient at 0 is taken to be 0.
func (r *Relu) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkGrad("relu", grad, r.output); err != nil {
		return nil, err
	}
	gradInput := grad.Clone()
	for ii, v := range r.output.Flat() {
		if v <= 0 {
			gradInput.Flat()[ii] = 0
		}
	}
	return gradInput, nil
}
