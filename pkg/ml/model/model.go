// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package model builds the multi-layer perceptron classifier from an Architecture, and runs its
// forward and backward passes.
//
// The model outputs log-probabilities (a LogSoftmax is the last layer), to be used with the
// negative log-likelihood loss. Its parameters are named after the layer they belong to:
//
//	/hidden_0/weights  [hidden_0, input]
//	/hidden_0/biases   [hidden_0]
//	...
//	/output/weights    [output, hidden_{n-1}]
//	/output/biases     [output]
//
// Example:
//
//	m := must.M1(model.New(model.Architecture{InputSize: 784, OutputSize: 10, HiddenSizes: []int{256, 128}},
//		model.WithSeed(42), model.WithDropout(0.2)))
//	logProbs := must.M1(m.Forward(images, false))
package model

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
	"github.com/pkg/errors"
)

// DefaultSeed used to initialize the parameters if WithSeed is not given.
const DefaultSeed uint64 = 42

// OutputScope is the scope of the parameters of the output layer.
const OutputScope = "/output"

// HiddenScope returns the scope of the parameters of the hidden layer i.
func HiddenScope(i int) string {
	return fmt.Sprintf("/hidden_%d", i)
}

// Model is a multi-layer perceptron: a stack of Linear+Relu (+Dropout) hidden layers, followed
// by a Linear output layer and a LogSoftmax.
//
// It is not safe for concurrent use: layers keep the intermediary values of the last Forward call.
type Model struct {
	arch        Architecture
	seed        uint64
	dropoutRate float64

	stack  []layers.Layer
	params []*layers.Parameter
}

// Option for New.
type Option func(*config)

type config struct {
	seed        uint64
	dropoutRate float64
}

// WithSeed sets the seed of the random number generator used to initialize the parameters and
// to draw the dropout masks. Models built with the same architecture and seed are identical.
func WithSeed(seed uint64) Option {
	return func(c *config) { c.seed = seed }
}

// WithDropout adds a dropout layer with the given rate after each hidden layer activation.
// It's only applied during training. A rate of 0 (the default) disables dropout.
func WithDropout(rate float64) Option {
	return func(c *config) { c.dropoutRate = rate }
}

// New builds a model with the given architecture and freshly initialized parameters.
//
// It only returns an error if the architecture or the options are invalid.
func New(arch Architecture, options ...Option) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	cfg := config{seed: DefaultSeed}
	for _, opt := range options {
		opt(&cfg)
	}
	if cfg.dropoutRate < 0 || cfg.dropoutRate >= 1 || math.IsNaN(cfg.dropoutRate) {
		return nil, errors.Errorf("model.WithDropout(%g): rate must be in [0, 1)", cfg.dropoutRate)
	}

	m := &Model{
		arch:        arch.Clone(),
		seed:        cfg.seed,
		dropoutRate: cfg.dropoutRate,
	}
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9E3779B97F4A7C15))
	sizes := arch.LayerSizes()
	for ii := range arch.HiddenSizes {
		m.addLayer(layers.NewLinear(HiddenScope(ii), sizes[ii], sizes[ii+1], rng))
		m.addLayer(layers.NewRelu())
		if cfg.dropoutRate > 0 {
			m.addLayer(layers.NewDropout(cfg.dropoutRate, rng))
		}
	}
	m.addLayer(layers.NewLinear(OutputScope, sizes[len(sizes)-2], arch.OutputSize, rng))
	m.addLayer(layers.NewLogSoftmax())
	return m, nil
}

// MustNew is like New, but panics on error.
func MustNew(arch Architecture, options ...Option) *Model {
	m, err := New(arch, options...)
	if err != nil {
		panic(err)
	}
	return m
}

func (m *Model) addLayer(layer layers.Layer) {
	m.stack = append(m.stack, layer)
	m.params = append(m.params, layer.Parameters()...)
}

// Architecture of the model. The caller shouldn't change it.
func (m *Model) Architecture() Architecture { return m.arch }

// Seed used to build the model.
func (m *Model) Seed() uint64 { return m.seed }

// DropoutRate used after hidden layers during training.
func (m *Model) DropoutRate() float64 { return m.dropoutRate }

// Parameters returns the parameters in layer-construction order: weights then biases of each layer.
func (m *Model) Parameters() []*layers.Parameter { return m.params }

// Parameter returns the parameter with the given name, or nil if it doesn't exist.
func (m *Model) Parameter(name string) *layers.Parameter {
	for _, p := range m.params {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// NumParameters returns the total number of scalar values in the parameters.
func (m *Model) NumParameters() int {
	var total int
	for _, p := range m.params {
		total += p.Value().Size()
	}
	return total
}

// ZeroGrad resets the gradient accumulators of all parameters.
func (m *Model) ZeroGrad() {
	for _, p := range m.params {
		p.ZeroGrad()
	}
}

// Forward returns the log-probabilities shaped `[batch_size, OutputSize]` for the inputs x,
// shaped `[batch_size, InputSize]`. Inputs with more than 2 axes (e.g. images) are flattened.
//
// If training is true, dropout (if configured) is applied.
func (m *Model) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	x, err := m.flatten(x)
	if err != nil {
		return nil, err
	}
	for _, layer := range m.stack {
		x, err = layer.Forward(x, training)
		if err != nil {
			return nil, errors.WithMessagef(err, "model %s forward", m.arch)
		}
	}
	return x, nil
}

// flatten reshapes x to `[batch_size, features]`, sharing the storage.
func (m *Model) flatten(x *tensors.Tensor) (*tensors.Tensor, error) {
	if x.Rank() == 2 && x.Shape().Dimensions[0] > 0 {
		return x, nil
	}
	if x.Rank() < 2 {
		return nil, errors.Errorf("model %s: inputs must be shaped [batch_size, ...], got %s", m.arch, x.Shape())
	}
	batchSize := x.Shape().Dimensions[0]
	if batchSize == 0 {
		return nil, errors.Errorf("model %s: empty batch, inputs shaped %s", m.arch, x.Shape())
	}
	flat, err := tensors.FromFlatDataAndDimensions(x.Flat(), batchSize, x.Size()/batchSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "model %s: failed to flatten inputs", m.arch)
	}
	return flat, nil
}

// Backward back-propagates the gradient of the loss with respect to the log-probabilities returned
// by the last Forward call, accumulating the gradients of every parameter.
func (m *Model) Backward(gradLogProbs *tensors.Tensor) error {
	grad := gradLogProbs
	var err error
	for ii := len(m.stack) - 1; ii >= 0; ii-- {
		grad, err = m.stack[ii].Backward(grad)
		if err != nil {
			return errors.WithMessagef(err, "model %s backward", m.arch)
		}
	}
	return nil
}

// Predict returns the class probabilities for the inputs x, in inference mode.
func (m *Model) Predict(x *tensors.Tensor) (*tensors.Tensor, error) {
	logProbs, err := m.Forward(x, false)
	if err != nil {
		return nil, err
	}
	probs := logProbs.Clone()
	for ii, logProb := range probs.Flat() {
		probs.Flat()[ii] = math.Exp(logProb)
	}
	return probs, nil
}

// ArgMax returns the index of the largest value of each row of a rank-2 tensor: the predicted
// class of each example if x holds (log-)probabilities.
func ArgMax(x *tensors.Tensor) []int {
	batchSize := x.Shape().Dimensions[0]
	classes := make([]int, batchSize)
	for row := range batchSize {
		values := x.Row(row)
		best := 0
		for ii, v := range values {
			if v > values[best] {
				best = ii
			}
		}
		classes[row] = best
	}
	return classes
}

// String implements fmt.Stringer.
func (m *Model) String() string {
	return fmt.Sprintf("MLP(%s, %d parameters)", m.arch, m.NumParameters())
}
