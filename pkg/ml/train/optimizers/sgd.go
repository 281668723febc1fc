// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
)

const (
	// SGDDefaultLearningRate is the default learning rate used by the StochasticGradientDescent optimizer.
	SGDDefaultLearningRate = 0.01

	// ParamSGDMomentum is the momentum coefficient of SGD. Default is 0 (no momentum).
	ParamSGDMomentum = "sgd_momentum"

	// ParamSGDDecay enables the learning rate decay `learning_rate / sqrt(step)`. Default is false.
	ParamSGDDecay = "sgd_decay"
)

// SGDConfig configures a Stochastic Gradient Descent optimizer.
// Create it with StochasticGradientDescent, and finalize with Done.
type SGDConfig struct {
	learningRate, momentum float64
	useDecay               bool
	clip                   clipping
}

// StochasticGradientDescent creates the configuration of an optimizer that performs SGD:
// `value -= learning_rate * grad`, or with momentum `v = momentum * v + grad; value -= learning_rate * v`.
func StochasticGradientDescent() *SGDConfig {
	return &SGDConfig{learningRate: SGDDefaultLearningRate}
}

// FromContext configures SGD from the hyperparameters ParamLearningRate, ParamSGDMomentum, ParamSGDDecay,
// ParamClipStepByValue and ParamClipNaN. Values not set in the context are left unchanged.
func (c *SGDConfig) FromContext(ctx *context.Context) *SGDConfig {
	c.learningRate = context.GetParamOr(ctx, ParamLearningRate, c.learningRate)
	c.momentum = context.GetParamOr(ctx, ParamSGDMomentum, c.momentum)
	c.useDecay = context.GetParamOr(ctx, ParamSGDDecay, c.useDecay)
	c.clip = clippingFromContext(ctx)
	return c
}

// WithLearningRate sets the learning rate. The default value is SGDDefaultLearningRate.
func (c *SGDConfig) WithLearningRate(lr float64) *SGDConfig {
	c.learningRate = lr
	return c
}

// WithMomentum sets the momentum coefficient, usually 0.9. Default is 0.
func (c *SGDConfig) WithMomentum(momentum float64) *SGDConfig {
	c.momentum = momentum
	return c
}

// WithDecay sets whether to use a learning rate decay with the step number: `learning_rate / sqrt(step)`.
func (c *SGDConfig) WithDecay(enabled bool) *SGDConfig {
	c.useDecay = enabled
	return c
}

// Done returns the optimizer.
func (c *SGDConfig) Done() Interface {
	return &sgd{config: *c, velocity: make(map[*layers.Parameter][]float64)}
}

type sgd struct {
	config   SGDConfig
	step     int
	velocity map[*layers.Parameter][]float64
}

// UpdateParameters implements Interface.
func (o *sgd) UpdateParameters(params []*layers.Parameter) error {
	if err := checkLearningRate("sgd", o.config.learningRate); err != nil {
		return err
	}
	o.step++
	lr := o.config.learningRate
	if o.config.useDecay {
		lr /= math.Sqrt(float64(o.step))
	}
	for _, p := range params {
		grad := p.Grad().Flat()
		steps := make([]float64, len(grad))
		if o.config.momentum > 0 {
			v, found := o.velocity[p]
			if !found {
				v = make([]float64, len(grad))
				o.velocity[p] = v
			}
			for ii, g := range grad {
				v[ii] = o.config.momentum*v[ii] + g
				steps[ii] = lr * v[ii]
			}
		} else {
			for ii, g := range grad {
				steps[ii] = lr * g
			}
		}
		if err := o.config.clip.applySteps(p, steps); err != nil {
			return err
		}
	}
	return nil
}

// LearningRate implements Interface.
func (o *sgd) LearningRate() float64 { return o.config.learningRate }

// SetLearningRate implements Interface.
func (o *sgd) SetLearningRate(lr float64) { o.config.learningRate = lr }

// Clear implements Interface.
func (o *sgd) Clear() {
	o.step = 0
	clear(o.velocity)
}
