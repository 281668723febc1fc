// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"
	"testing"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParam(t *testing.T, values ...float64) *layers.Parameter {
	v, err := tensors.FromFlatDataAndDimensions(values, len(values))
	require.NoError(t, err)
	return layers.NewParameter("/x", v)
}

// quadraticGrad sets the gradient of `sum((x-target)^2)`.
func quadraticGrad(p *layers.Parameter, target float64) {
	for ii, v := range p.Value().Flat() {
		p.Grad().Flat()[ii] = 2 * (v - target)
	}
}

func TestSGD(t *testing.T) {
	p := newParam(t, 1, -1)
	copy(p.Grad().Flat(), []float64{0.5, -2})
	opt := StochasticGradientDescent().WithLearningRate(0.1).Done()
	require.NoError(t, opt.UpdateParameters([]*layers.Parameter{p}))
	assert.InDeltaSlice(t, []float64{0.95, -0.8}, p.Value().Flat(), 1e-12)

	// Momentum accumulates velocity across steps.
	p = newParam(t, 0)
	p.Grad().Flat()[0] = 1
	opt = StochasticGradientDescent().WithLearningRate(0.1).WithMomentum(0.5).Done()
	require.NoError(t, opt.UpdateParameters([]*layers.Parameter{p}))
	require.NoError(t, opt.UpdateParameters([]*layers.Parameter{p}))
	assert.InDelta(t, -0.1-0.15, p.Value().Flat()[0], 1e-12)

	opt.SetLearningRate(0)
	require.Error(t, opt.UpdateParameters([]*layers.Parameter{p}))
}

func TestConvergence(t *testing.T) {
	for name := range KnownOptimizers {
		t.Run(name, func(t *testing.T) {
			ctx := context.New()
			ctx.SetParam(ParamLearningRate, 0.05)
			opt, err := ByName(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, 0.05, opt.LearningRate())
			p := newParam(t, 3, -2)
			for range 500 {
				quadraticGrad(p, 1)
				require.NoError(t, opt.UpdateParameters([]*layers.Parameter{p}))
			}
			for _, v := range p.Value().Flat() {
				assert.InDelta(t, 1.0, v, 0.1)
			}
		})
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.New()
	opt, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, SGDDefaultLearningRate, opt.LearningRate())

	ctx.SetParam(ParamOptimizer, "adam")
	opt, err = FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, AdamDefaultLearningRate, opt.LearningRate())

	ctx.SetParam(ParamOptimizer, "lbfgs")
	_, err = FromContext(ctx)
	require.Error(t, err)
}

func TestClipping(t *testing.T) {
	ctx := context.New()
	ctx.SetParams(map[string]any{ParamLearningRate: 1.0, ParamClipStepByValue: 0.5})
	opt := StochasticGradientDescent().FromContext(ctx).Done()
	p := newParam(t, 0, 0)
	copy(p.Grad().Flat(), []float64{10, -0.1})
	require.NoError(t, opt.UpdateParameters([]*layers.Parameter{p}))
	assert.InDeltaSlice(t, []float64{-0.5, 0.1}, p.Value().Flat(), 1e-12)

	// Non-finite updates are an error, unless clip_nan is set.
	p.Grad().Flat()[0] = math.NaN()
	require.Error(t, opt.UpdateParameters([]*layers.Parameter{p}))
	ctx.SetParam(ParamClipNaN, true)
	opt = StochasticGradientDescent().FromContext(ctx).Done()
	require.NoError(t, opt.UpdateParameters([]*layers.Parameter{p}))
	assert.InDeltaSlice(t, []float64{-0.5, 0.1}, p.Value().Flat(), 1e-12)
}
