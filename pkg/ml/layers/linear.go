// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"
	"math/rand/v2"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear is a fully connected layer: y = x·Wᵀ + b.
//
// The weights are shaped `[outputSize, inputSize]` and the biases `[outputSize]`.
type Linear struct {
	scope                 string
	inputSize, outputSize int
	weights, biases       *Parameter

	input, output *tensors.Tensor
}

var _ Layer = (*Linear)(nil)

// NewLinear creates a Linear layer whose parameters are named "<scope>/weights" and "<scope>/biases".
//
// Weights and biases are initialized uniformly in the range `[-1/sqrt(inputSize), 1/sqrt(inputSize))`,
// drawn from rng: weights first, in row-major order, then biases.
func NewLinear(scope string, inputSize, outputSize int, rng *rand.Rand) *Linear {
	if inputSize <= 0 || outputSize <= 0 {
		panic(errors.Errorf("layers.NewLinear(%q): invalid sizes input=%d, output=%d", scope, inputSize, outputSize))
	}
	bound := 1.0 / math.Sqrt(float64(inputSize))
	weights := tensors.Zeros(outputSize, inputSize)
	for ii := range weights.Flat() {
		weights.Flat()[ii] = (2*rng.Float64() - 1) * bound
	}
	biases := tensors.Zeros(outputSize)
	for ii := range biases.Flat() {
		biases.Flat()[ii] = (2*rng.Float64() - 1) * bound
	}
	return &Linear{
		scope:      scope,
		inputSize:  inputSize,
		outputSize: outputSize,
		weights:    NewParameter(scope+"/weights", weights),
		biases:     NewParameter(scope+"/biases", biases),
	}
}

// InputSize is the number of features the layer expects.
func (l *Linear) InputSize() int { return l.inputSize }

// OutputSize is the number of features the layer outputs.
func (l *Linear) OutputSize() int { return l.outputSize }

// Weights parameter, shaped `[outputSize, inputSize]`.
func (l *Linear) Weights() *Parameter { return l.weights }

// Biases parameter, shaped `[outputSize]`.
func (l *Linear) Biases() *Parameter { return l.biases }

// Parameters implements Layer: weights followed by biases.
func (l *Linear) Parameters() []*Parameter {
	return []*Parameter{l.weights, l.biases}
}

// Forward implements Layer.
func (l *Linear) Forward(x *tensors.Tensor, _ bool) (*tensors.Tensor, error) {
	if err := checkBatch(l.scope, x, l.inputSize); err != nil {
		return nil, err
	}
	batchSize := x.Shape().Dimensions[0]
	y := tensors.Zeros(batchSize, l.outputSize)
	y.Matrix().Mul(x.Matrix(), l.weights.Value().Matrix().T())
	b := l.biases.Value().Flat()
	for row := range batchSize {
		floats.Add(y.Row(row), b)
	}
	l.input, l.output = x, y
	return y, nil
}

// Backward implements Layer.
func (l *Linear) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkGrad(l.scope, grad, l.output); err != nil {
		return nil, err
	}
	g := grad.Matrix()

	// dL/dW += gradᵀ·x
	var gradW mat.Dense
	gradW.Mul(g.T(), l.input.Matrix())
	wGrad := l.weights.Grad().Matrix()
	wGrad.Add(wGrad, &gradW)

	// dL/db += sum of grad over the batch.
	bGrad := l.biases.Grad().Flat()
	for row := range grad.Shape().Dimensions[0] {
		floats.Add(bGrad, grad.Row(row))
	}

	// dL/dx = grad·W
	gradInput := tensors.Zeros(l.input.Shape().Dimensions...)
	gradInput.Matrix().Mul(g, l.weights.Value().Matrix())
	return gradInput, nil
}
