// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package optimizers implements a collection of ML optimizers that can be used by train.Trainer,
// or by themselves. They all implement optimizers.Interface.
package optimizers

import (
	"math"

	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
	"github.com/gomlx/mlptrain/pkg/support/xslices"
	"github.com/pkg/errors"
)

// Interface implemented by optimizer implementations.
type Interface interface {
	// UpdateParameters applies one optimization step to each of the parameters, using their
	// accumulated gradients (see layers.Parameter.Grad). Values are updated in place.
	//
	// It should be called once per training step, after the backward pass.
	UpdateParameters(params []*layers.Parameter) error

	// LearningRate currently in use.
	LearningRate() float64

	// SetLearningRate changes the learning rate used by the following steps. Used by learning rate schedules.
	SetLearningRate(lr float64)

	// Clear deletes all the optimizer state (e.g.: momentum), as if no step was taken yet.
	Clear()
}

var (
	// KnownOptimizers is a map of known optimizers by name to their default constructors.
	// This provides an easy quick start point. One can hyperparameter-tune the optimizers
	// for usually slightly better results.
	KnownOptimizers = map[string]func(ctx *context.Context) Interface{
		"sgd":     func(ctx *context.Context) Interface { return StochasticGradientDescent().FromContext(ctx).Done() },
		"adam":    func(ctx *context.Context) Interface { return Adam().FromContext(ctx).Done() },
		"adamax":  func(ctx *context.Context) Interface { return Adam().Adamax().FromContext(ctx).Done() },
		"adamw":   func(ctx *context.Context) Interface { return Adam().WeightDecay(0.004).FromContext(ctx).Done() },
		"rmsprop": func(ctx *context.Context) Interface { return RMSProp().FromContext(ctx).Done() },
	}

	// ParamOptimizer is the context parameter with the name of the optimizer.
	// The default value is "sgd", and the valid values are "sgd", "adam", "adamax", "adamw" and "rmsprop".
	ParamOptimizer = "optimizer"

	// ParamLearningRate is the context parameter name for the default value of learning rate.
	// It is used by all optimizers.
	ParamLearningRate = "learning_rate"

	// ParamClipStepByValue is a scalar value used to clip each value of the gradient step, after
	// being scaled by the learning rate and the optimizer.
	// The step applied will be `Clip(step, -clip_step_by_value, +clip_step_by_value)`.
	// Defaults to no clipping, and values are expected to be float64.
	ParamClipStepByValue = "clip_step_by_value"

	// ParamClipNaN will drop any updates with NaNs.
	// This is a double-edged option: it keeps training running, but probably it will replace NaNs with bad training results.
	//
	// The default is false.
	ParamClipNaN = "clip_nan"
)

// FromContext creates an optimizer from context hyperparameters.
// See [ParamOptimizer]. The default is "sgd".
func FromContext(ctx *context.Context) (Interface, error) {
	optName := context.GetParamOr(ctx, ParamOptimizer, "sgd")
	return ByName(ctx, optName)
}

// ByName returns an optimizer given the name, or an error if one does not exist.
// It uses KnownOptimizers.
//
// Optimizers use optional hyperparameters set in the context for configuration.
//
// See also FromContext.
func ByName(ctx *context.Context, optName string) (Interface, error) {
	optBuilder, found := KnownOptimizers[optName]
	if !found {
		return nil, errors.Errorf("unknown optimizer %q, valid values are %q", optName, xslices.SortedKeys(KnownOptimizers))
	}
	return optBuilder(ctx), nil
}

// clipping configuration shared by all optimizers.
type clipping struct {
	stepByValue float64
	nan         bool
}

func clippingFromContext(ctx *context.Context) clipping {
	return clipping{
		stepByValue: context.GetParamOr(ctx, ParamClipStepByValue, 0.0),
		nan:         context.GetParamOr(ctx, ParamClipNaN, false),
	}
}

// applySteps subtracts steps from the values of the parameter, after clipping.
//
// If clip.nan is set and any step is not finite, the parameter is left unchanged.
// Otherwise, a non-finite step is returned as an error, also leaving the parameter unchanged.
func (clip clipping) applySteps(p *layers.Parameter, steps []float64) error {
	for ii, step := range steps {
		if math.IsNaN(step) || math.IsInf(step, 0) {
			if clip.nan {
				return nil
			}
			return errors.Errorf("non-finite update (%g) for parameter %q at position %d", step, p.Name(), ii)
		}
		if clip.stepByValue > 0 {
			steps[ii] = max(-clip.stepByValue, min(clip.stepByValue, step))
		}
	}
	values := p.Value().Flat()
	for ii, step := range steps {
		values[ii] -= step
	}
	return nil
}

func checkLearningRate(name string, lr float64) error {
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return errors.Errorf("%s: invalid learning rate %g", name, lr)
	}
	return nil
}
