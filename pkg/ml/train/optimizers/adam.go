// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package optimizers

import (
	"math"

	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
)

const (
	// AdamDefaultLearningRate is used by Adam if no learning rate is set.
	AdamDefaultLearningRate = 0.001

	// ParamAdamEpsilon can be used to configure the default value of epsilon. It must be a float64.
	ParamAdamEpsilon = "adam_epsilon"

	// ParamAdamWeightDecay defaults to 0.0. See AdamConfig.WeightDecay.
	ParamAdamWeightDecay = "adam_weight_decay"

	// ParamAdamBeta1 is the moving average coefficient for the gradient (momentum), the numerator.
	// The default value is 0.9
	ParamAdamBeta1 = "adam_beta1"

	// ParamAdamBeta2 is the moving average coefficient for the variance, the denominator.
	// The default value is 0.999
	ParamAdamBeta2 = "adam_beta2"
)

// Adam optimization is a stochastic gradient descent method based on an adaptive estimation of first-order and
// second-order moments. According to [Kingma et al., 2014](http://arxiv.org/abs/1412.6980),
// the method is "*computationally efficient, has little memory requirement, invariant to diagonal rescaling of
// gradients, and is well suited for problems that are large in terms of data/parameters*".
//
// It returns a configuration object that can be used to set its parameters. Once configured, call AdamConfig.Done,
// and it will return an optimizer.Interface that can be used with the `train.Trainer` or directly in a custom
// optimization loop.
//
// See [AdamConfig.FromContext] to configure it from the context hyperparameters.
func Adam() *AdamConfig {
	return &AdamConfig{
		learningRate: AdamDefaultLearningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
	}
}

// RMSProp is an optimizer that divides the learning rate for a weight by a running average
// of the recent gradients magnitudes (L2) for that weight.
//
// It uses Adam to implement it -- it's somewhat equivalent to an Adam without the 1st moment
// of the gradients.
func RMSProp() *AdamConfig {
	c := Adam()
	c.rmsProp = true
	return c
}

// AdamConfig holds the configuration for an Adam configuration, create using Adam(), and once configured
// call Done to create an Adam-based optimizer.Interface.
type AdamConfig struct {
	learningRate float64
	beta1, beta2 float64
	epsilon      float64
	amsGrad      bool
	adamax       bool    // Works as Adamax.
	weightDecay  float64 // Works as AdamW.
	rmsProp      bool    // Works as RMSProp.
	clip         clipping
}

// FromContext will configure Adam with hyperparameters set in the given context.
// E.g.: "adam_epsilon" (see [ParamAdamEpsilon]) is used to set [AdamConfig.Epsilon].
func (c *AdamConfig) FromContext(ctx *context.Context) *AdamConfig {
	c.learningRate = context.GetParamOr(ctx, ParamLearningRate, c.learningRate)
	c.epsilon = context.GetParamOr(ctx, ParamAdamEpsilon, c.epsilon)
	c.weightDecay = context.GetParamOr(ctx, ParamAdamWeightDecay, c.weightDecay)
	c.beta1 = context.GetParamOr(ctx, ParamAdamBeta1, c.beta1)
	c.beta2 = context.GetParamOr(ctx, ParamAdamBeta2, c.beta2)
	c.clip = clippingFromContext(ctx)
	return c
}

// LearningRate sets the base learning rate. Default is AdamDefaultLearningRate.
func (c *AdamConfig) LearningRate(value float64) *AdamConfig {
	c.learningRate = value
	return c
}

// Betas sets the two moving averages constants (default to 0.9 and 0.999, respectively).
func (c *AdamConfig) Betas(beta1, beta2 float64) *AdamConfig {
	c.beta1 = beta1
	c.beta2 = beta2
	return c
}

// Epsilon used on the denominator as a small constant for stability. Default is 1e-7.
func (c *AdamConfig) Epsilon(epsilon float64) *AdamConfig {
	c.epsilon = epsilon
	return c
}

// Adamax configure Adam to use an L-infinity (== max, which gives the name) for the second moment, instead of L2, as
// described in the same Adam paper.
func (c *AdamConfig) Adamax() *AdamConfig {
	c.adamax = true
	return c
}

// WeightDecay configure optimizer to work as AdamW, with the given static weight decay.
// This is because L2 regularization doesn't work well with Adam.
//
// Defaults to the value given in the ParamAdamWeightDecay hyperparameter, or 0 if not set.
func (c *AdamConfig) WeightDecay(weightDecay float64) *AdamConfig {
	c.weightDecay = weightDecay
	return c
}

// AMSGrad configures Adam to use the maximum of the past second moments, as described in
// "On the Convergence of Adam and Beyond", Reddi et al., 2018.
//
// Defaults to false.
func (c *AdamConfig) AMSGrad(amsGrad bool) *AdamConfig {
	c.amsGrad = amsGrad
	return c
}

// Done will finish the configuration and construct an optimizers.Interface that implements Adam.
func (c *AdamConfig) Done() Interface {
	return &adam{config: *c, moments: make(map[*layers.Parameter]*adamMoments)}
}

type adamMoments struct {
	first, second, maxSecond []float64
}

type adam struct {
	config  AdamConfig
	step    int
	moments map[*layers.Parameter]*adamMoments
}

func (o *adam) getMoments(p *layers.Parameter) *adamMoments {
	m, found := o.moments[p]
	if !found {
		size := p.Value().Size()
		m = &adamMoments{first: make([]float64, size), second: make([]float64, size)}
		if o.config.amsGrad {
			m.maxSecond = make([]float64, size)
		}
		o.moments[p] = m
	}
	return m
}

// UpdateParameters implements Interface.
func (o *adam) UpdateParameters(params []*layers.Parameter) error {
	if err := checkLearningRate("adam", o.config.learningRate); err != nil {
		return err
	}
	o.step++
	cfg := &o.config
	lr := cfg.learningRate
	step := float64(o.step)
	debiasFirst := 1.0 - math.Pow(cfg.beta1, step)
	debiasSecond := 1.0 - math.Pow(cfg.beta2, step)

	for _, p := range params {
		m := o.getMoments(p)
		values := p.Value().Flat()
		grad := p.Grad().Flat()
		steps := make([]float64, len(grad))
		for ii, g := range grad {
			var numerator float64
			if cfg.rmsProp {
				numerator = g
			} else {
				m.first[ii] = cfg.beta1*m.first[ii] + (1-cfg.beta1)*g
				numerator = m.first[ii] / debiasFirst
			}

			var denominator float64
			if cfg.adamax {
				m.second[ii] = max(cfg.beta2*m.second[ii], math.Abs(g))
				denominator = m.second[ii] + cfg.epsilon
			} else {
				m.second[ii] = cfg.beta2*m.second[ii] + (1-cfg.beta2)*g*g
				second := m.second[ii]
				if cfg.amsGrad {
					m.maxSecond[ii] = max(m.maxSecond[ii], second)
					second = m.maxSecond[ii]
				}
				denominator = math.Sqrt(second/debiasSecond) + cfg.epsilon
			}

			steps[ii] = lr * numerator / denominator
			if cfg.weightDecay > 0 {
				steps[ii] += lr * cfg.weightDecay * values[ii]
			}
		}
		if err := cfg.clip.applySteps(p, steps); err != nil {
			return err
		}
	}
	return nil
}

// LearningRate implements Interface.
func (o *adam) LearningRate() float64 { return o.config.learningRate }

// SetLearningRate implements Interface.
func (o *adam) SetLearningRate(lr float64) { o.config.learningRate = lr }

// Clear implements Interface.
func (o *adam) Clear() {
	o.step = 0
	clear(o.moments)
}
