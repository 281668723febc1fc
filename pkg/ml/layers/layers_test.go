// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func newTestRng() *rand.Rand { return rand.New(rand.NewPCG(42, 0)) }

func randomBatch(rng *rand.Rand, batchSize, features int) *tensors.Tensor {
	x := tensors.Zeros(batchSize, features)
	for ii := range x.Flat() {
		x.Flat()[ii] = rng.NormFloat64()
	}
	return x
}

func TestLinear(t *testing.T) {
	l := NewLinear("/hidden_0", 3, 2, newTestRng())
	assert.Equal(t, "/hidden_0/weights", l.Weights().Name())
	assert.Equal(t, "/hidden_0/biases", l.Biases().Name())
	require.NoError(t, l.Weights().Shape().Check(l.Weights().Value().Shape().DType, 2, 3))
	bound := 1 / math.Sqrt(3)
	for _, p := range l.Parameters() {
		for _, v := range p.Value().Flat() {
			assert.True(t, v >= -bound && v < bound, "initial value %g out of range", v)
		}
	}

	// Fix weights to check the forward values.
	copy(l.Weights().Value().Flat(), []float64{1, 0, 0, 0, 1, 1})
	copy(l.Biases().Value().Flat(), []float64{10, 20})
	x, err := tensors.FromRows([][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	y, err := l.Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{11, 25, 14, 31}, y.Flat())

	// Wrong number of features.
	_, err = l.Forward(tensors.Zeros(2, 4), true)
	require.Error(t, err)

	// Gradients accumulate until ZeroGrad.
	grad, err := tensors.FromRows([][]float64{{1, 0}, {0, 1}})
	require.NoError(t, err)
	gradInput, err := l.Backward(grad)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 0, 0, 1, 1}, gradInput.Flat())
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, l.Weights().Grad().Flat())
	assert.Equal(t, []float64{1, 1}, l.Biases().Grad().Flat())
	_, err = l.Backward(grad)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 2}, l.Biases().Grad().Flat())
	l.Biases().ZeroGrad()
	assert.Equal(t, []float64{0, 0}, l.Biases().Grad().Flat())
}

func TestLogSoftmax(t *testing.T) {
	ls := NewLogSoftmax()
	x, err := tensors.FromRows([][]float64{{1, 2, 3}, {1000, 1000, 1000}})
	require.NoError(t, err)
	y, err := ls.Forward(x, false)
	require.NoError(t, err)
	for row := range 2 {
		var sumProbs float64
		for _, logProb := range y.Row(row) {
			assert.False(t, math.IsNaN(logProb) || math.IsInf(logProb, 0))
			assert.LessOrEqual(t, logProb, 0.0)
			sumProbs += math.Exp(logProb)
		}
		assert.InDelta(t, 1.0, sumProbs, 1e-12)
	}
	assert.InDelta(t, -math.Log(3), y.Row(1)[0], 1e-12)
}

func TestReluAndDropout(t *testing.T) {
	x, err := tensors.FromRows([][]float64{{-1, 0, 2}})
	require.NoError(t, err)
	relu := NewRelu()
	y, err := relu.Forward(x, true)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 2}, y.Flat())
	assert.Equal(t, []float64{-1, 0, 2}, x.Flat(), "input must not be changed")
	g, err := relu.Backward(tensors.FromMatrix(y.Matrix()))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0, 2}, g.Flat())

	d := NewDropout(0.5, newTestRng())
	big := randomBatch(newTestRng(), 100, 100)
	y, err = d.Forward(big, false)
	require.NoError(t, err)
	assert.True(t, y.Equal(big), "dropout is the identity during inference")

	ones := tensors.Zeros(100, 100)
	floats.AddConst(1, ones.Flat())
	y, err = d.Forward(ones, true)
	require.NoError(t, err)
	var numZeros int
	for _, v := range y.Flat() {
		if v == 0 {
			numZeros++
		} else {
			assert.Equal(t, 2.0, v)
		}
	}
	assert.InDelta(t, 5000, numZeros, 300)
	g, err = d.Backward(ones)
	require.NoError(t, err)
	assert.True(t, g.Equal(y), "backward applies the same mask")

	assert.Panics(t, func() { NewDropout(1, newTestRng()) })
	_, err = NewRelu().Backward(ones)
	require.Error(t, err, "Backward before Forward")
}

// TestGradients compares the back-propagated gradients with numeric central differences.
func TestGradients(t *testing.T) {
	rng := newTestRng()
	stack := []Layer{
		NewLinear("/hidden_0", 5, 4, rng),
		NewRelu(),
		NewLinear("/output", 4, 3, rng),
		NewLogSoftmax(),
	}
	x := randomBatch(rng, 6, 5)
	coefficients := randomBatch(rng, 6, 3)

	// loss = sum(logProbs * coefficients)
	lossFn := func() float64 {
		y := x
		var err error
		for _, layer := range stack {
			y, err = layer.Forward(y, false)
			require.NoError(t, err)
		}
		return floats.Dot(y.Flat(), coefficients.Flat())
	}

	_ = lossFn()
	grad := coefficients
	var err error
	for ii := len(stack) - 1; ii >= 0; ii-- {
		grad, err = stack[ii].Backward(grad)
		require.NoError(t, err)
	}

	const epsilon = 1e-6
	for _, layer := range stack {
		for _, p := range layer.Parameters() {
			values := p.Value().Flat()
			for ii := range values {
				original := values[ii]
				values[ii] = original + epsilon
				lossPlus := lossFn()
				values[ii] = original - epsilon
				lossMinus := lossFn()
				values[ii] = original
				numeric := (lossPlus - lossMinus) / (2 * epsilon)
				assert.InDeltaf(t, numeric, p.Grad().Flat()[ii], 1e-5, "%s[%d]", p.Name(), ii)
			}
		}
	}
}
