// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"gonum.org/v1/gonum/floats"
)

// LogSoftmax converts logits to log-probabilities over the last axis:
// `log_softmax(x)_i = x_i - log(sum_j exp(x_j))`.
//
// It subtracts the maximum logit of each row before exponentiating, so large logits don't overflow.
type LogSoftmax struct {
	output *tensors.Tensor
}

var _ Layer = (*LogSoftmax)(nil)

// NewLogSoftmax returns a new LogSoftmax layer.
func NewLogSoftmax() *LogSoftmax { return &LogSoftmax{} }

// Parameters implements Layer. LogSoftmax has no parameters.
func (l *LogSoftmax) Parameters() []*Parameter { return nil }

// Forward implements Layer.
func (l *LogSoftmax) Forward(x *tensors.Tensor, _ bool) (*tensors.Tensor, error) {
	if err := checkBatch("log_softmax", x, -1); err != nil {
		return nil, err
	}
	y := x.Clone()
	for row := range y.Shape().Dimensions[0] {
		values := y.Row(row)
		maxValue := floats.Max(values)
		var sumExp float64
		for _, v := range values {
			sumExp += math.Exp(v - maxValue)
		}
		floats.AddConst(-(maxValue + math.Log(sumExp)), values)
	}
	l.output = y
	return y, nil
}

// Backward implements Layer: for each row, `grad_x = grad - softmax(x) * sum(grad)`.
func (l *LogSoftmax) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkGrad("log_softmax", grad, l.output); err != nil {
		return nil, err
	}
	gradInput := grad.Clone()
	for row := range gradInput.Shape().Dimensions[0] {
		g := gradInput.Row(row)
		sumGrad := floats.Sum(g)
		for ii, logProb := range l.output.Row(row) {
			g[ii] -= math.Exp(logProb) * sumGrad
		}
	}
	return gradInput, nil
}
