// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package cosineschedule implements a cosine annealing schedule for the learning rate.
// See New for details and example of usage, and original paper description in [1]
//
// [1] https://paperswithcode.com/method/cosine-annealing.
package cosineschedule

import (
	"math"

	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

var (
	// ParamPeriodSteps enables cosine annealing (cosine schedule) for the learning rate.
	//
	// This parameter defines the number of steps in a cosine annealing period.
	//
	//  * 0: Disables cosine annealing (default).
	//  * Positive value: Sets the period to the specified number of steps.
	//  * Negative value: Sets the period to a fraction of the total training steps.
	//      * -1: Period equals the total number of training steps (common setting).
	//      * -2: Period equals half the total number of training steps, and so on.
	ParamPeriodSteps = "cosine_schedule_steps"

	// ParamWarmUpSteps is the number of warmup steps: during these initial steps the learning rate
	// linearly increases from the minimum learning rate up to the learning rate defined by optimizers.ParamLearningRate.
	// Only after the warmup steps the cosine annealing schedule starts.
	// The default is 0, which means no warmup.
	ParamWarmUpSteps = "cosine_schedule_warmup_steps"

	// ParamMinLearningRate is the minimum value of the learning rate during the
	// cosine annealing schedule.
	// Defaults to 0.0.
	ParamMinLearningRate = "cosine_schedule_min_learning_rate"
)

// DefaultLastStep is used for the last step of the training while one is not yet known.
const DefaultLastStep = 1_000_000_000

// Config of the cosine annealing schedule strategy.
// New creates it and once configured, call Config.Attach to have it update an optimizer during a train.Loop.
type Config struct {
	learningRate, minLearningRate float64
	periodNumSteps                int
	warmUpSteps                   int
}

// New creates a configuration to apply a cosine annealing schedule for the learning rate.
//
// Example with only one cycle over all the training, and a warmup of 100 steps:
//
//	err := cosineschedule.New().LearningRate(0.01).WarmUpSteps(100).PeriodInSteps(-1).Attach(loop, optimizer)
//
// Or more simply, pass the hyperparameters in the context (see ParamPeriodSteps, ParamMinLearningRate, and
// ParamWarmUpSteps):
//
//	err := cosineschedule.New().FromContext(ctx).Attach(loop, optimizer)
func New() *Config {
	return &Config{}
}

// FromContext configures the cosine annealing from the context, using the keys
// ParamPeriodSteps, ParamMinLearningRate, ParamWarmUpSteps and optimizers.ParamLearningRate.
func (opt *Config) FromContext(ctx *context.Context) *Config {
	opt.periodNumSteps = context.GetParamOr(ctx, ParamPeriodSteps, 0)
	opt.learningRate = context.GetParamOr(ctx, optimizers.ParamLearningRate, 0.0)
	opt.minLearningRate = context.GetParamOr(ctx, ParamMinLearningRate, 0.0)
	opt.warmUpSteps = context.GetParamOr(ctx, ParamWarmUpSteps, 0)
	return opt
}

// PeriodInSteps sets the number of steps for one period of the cosine schedule. The effective
// learning rate decreases over the given period of training steps and then is restarted at
// each new period.
//
// Negative values set the period to a fraction of the total number of training steps, see ParamPeriodSteps.
// If set to 0, the cosine annealing schedule is silently disabled.
func (opt *Config) PeriodInSteps(periodSteps int) *Config {
	opt.periodNumSteps = periodSteps
	return opt
}

// MinLearningRate at the end of the cosine cycle. Defaults to 0.0.
func (opt *Config) MinLearningRate(minLearningRate float64) *Config {
	opt.minLearningRate = minLearningRate
	return opt
}

// WarmUpSteps sets the number of steps to linearly increase the learning rate up to the
// learning rate at the start of the cycle.
func (opt *Config) WarmUpSteps(warmUpSteps int) *Config {
	opt.warmUpSteps = warmUpSteps
	return opt
}

// LearningRate at the start of the cosine cycle.
// If not given, the optimizer's learning rate at the time of Attach is used.
func (opt *Config) LearningRate(learningRate float64) *Config {
	opt.learningRate = learningRate
	return opt
}

// LearningRateAt returns the scheduled learning rate for the given step (starting from 0), given
// the total number of steps (used for negative periods only, pass -1 if not known).
func (opt *Config) LearningRateAt(step, totalSteps int) float64 {
	if opt.periodNumSteps == 0 {
		return opt.learningRate
	}
	var ratio float64
	if step < opt.warmUpSteps {
		ratio = float64(step) / float64(opt.warmUpSteps)
	} else {
		ratio = opt.cosineRatio(step, totalSteps)
	}
	return ratio*(opt.learningRate-opt.minLearningRate) + opt.minLearningRate
}

// cosineRatio returns a value from 1.0 (start of cycle) to 0.0 (end of cycle).
func (opt *Config) cosineRatio(step, totalSteps int) float64 {
	cosineStep := float64(step - opt.warmUpSteps)

	// Fraction of the cycle we are in.
	var cycle float64
	if opt.periodNumSteps > 0 {
		cycle = cosineStep / float64(opt.periodNumSteps)
	} else {
		if totalSteps < 0 {
			totalSteps = DefaultLastStep
		}
		periodNumSteps := float64(totalSteps-opt.warmUpSteps) / float64(-opt.periodNumSteps)
		cycle = max(cosineStep/max(periodNumSteps, 1), 0)
	}
	// A cycle represents the fraction of a half-circle (180 degrees, or pi radians): take only the fractional part.
	cycle -= math.Floor(cycle)
	return (math.Cos(cycle*math.Pi) + 1) / 2
}

// Attach the schedule to the loop: the learning rate of the optimizer is set before every training step.
//
// It returns an error if no learning rate was configured and the optimizer doesn't have one, or if the
// minimum learning rate is not smaller than the learning rate.
func (opt *Config) Attach(loop *train.Loop, optimizer optimizers.Interface) error {
	if opt.periodNumSteps == 0 {
		return nil
	}
	if opt.learningRate == 0 {
		opt.learningRate = optimizer.LearningRate()
	}
	if opt.learningRate <= 0 {
		return errors.Errorf("cosine schedule: learning rate not configured and not set in the optimizer (or %q)",
			optimizers.ParamLearningRate)
	}
	if opt.minLearningRate < 0 || opt.minLearningRate >= opt.learningRate {
		return errors.Errorf("cosine schedule: invalid minimum learning rate %g for learning rate %g",
			opt.minLearningRate, opt.learningRate)
	}
	// Optimizers reject a learning rate of 0, reached at the first warmup step if the minimum is 0.
	update := func(loop *train.Loop, step int) {
		lr := opt.LearningRateAt(step, loop.EndStep)
		if lr <= 0 {
			lr = opt.learningRate * 1e-6
		}
		optimizer.SetLearningRate(lr)
	}
	loop.OnStart("cosine schedule", -100, func(loop *train.Loop, _ train.Dataset) error {
		update(loop, loop.LoopStep)
		return nil
	})
	loop.OnStep("cosine schedule", -100, func(loop *train.Loop, _ []float64) error {
		update(loop, loop.LoopStep+1)
		return nil
	})
	return nil
}
