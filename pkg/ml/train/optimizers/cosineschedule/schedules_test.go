// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package cosineschedule_test

import (
	"io"
	"math"
	"testing"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/context"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/gomlx/mlptrain/pkg/ml/train/losses"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers/cosineschedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineAnnealingSchedule(t *testing.T) {
	const periodInSteps = 100
	const minLearningRate = 0.001
	const baseLearningRate = 1.0

	t.Run("periodSteps", func(t *testing.T) {
		schedule := cosineschedule.New().
			PeriodInSteps(periodInSteps).
			LearningRate(baseLearningRate).
			MinLearningRate(minLearningRate)
		for ii := range 2 * periodInSteps {
			cycle := float64(ii) / float64(periodInSteps)
			wantLR := (math.Cos((cycle-math.Floor(cycle))*math.Pi) + 1.0) / 2.0
			wantLR = wantLR*(baseLearningRate-minLearningRate) + minLearningRate
			require.InDeltaf(t, wantLR, schedule.LearningRateAt(ii, -1), 1e-9, "step=%d", ii)
		}
	})

	t.Run("numCycles with warmUp+context configuration", func(t *testing.T) {
		const warmUpSteps = 10
		const numCycles = 2
		const stepsPerCycle = 100
		const numSteps = numCycles*stepsPerCycle + warmUpSteps
		ctx := context.New()
		ctx.SetParams(map[string]any{
			optimizers.ParamLearningRate:        baseLearningRate,
			cosineschedule.ParamPeriodSteps:     -numCycles,
			cosineschedule.ParamWarmUpSteps:     warmUpSteps,
			cosineschedule.ParamMinLearningRate: minLearningRate,
		})
		schedule := cosineschedule.New().FromContext(ctx)
		for ii := range numSteps {
			var ratio float64
			if ii < warmUpSteps {
				ratio = float64(ii) / float64(warmUpSteps)
			} else {
				cycle := float64(ii-warmUpSteps) / float64(stepsPerCycle)
				ratio = (math.Cos((cycle-math.Floor(cycle))*math.Pi) + 1.0) / 2.0
			}
			wantLR := ratio*(baseLearningRate-minLearningRate) + minLearningRate
			require.InDeltaf(t, wantLR, schedule.LearningRateAt(ii, numSteps), 1e-9, "step=%d", ii)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		schedule := cosineschedule.New().LearningRate(0.1)
		assert.Equal(t, 0.1, schedule.LearningRateAt(1000, -1))
	})
}

// constantDataset yields the same batch numBatches times per epoch.
type constantDataset struct {
	numBatches, count int
}

func (ds *constantDataset) Name() string { return "constant" }
func (ds *constantDataset) Reset()       { ds.count = 0 }
func (ds *constantDataset) Yield() (*tensors.Tensor, []int, error) {
	if ds.count >= ds.numBatches {
		return nil, nil, io.EOF
	}
	ds.count++
	inputs, err := tensors.FromRows([][]float64{{1, 0}, {0, 1}})
	return inputs, []int{0, 1}, err
}

func TestAttach(t *testing.T) {
	m, err := model.New(model.Architecture{InputSize: 2, OutputSize: 2})
	require.NoError(t, err)
	opt := optimizers.StochasticGradientDescent().WithLearningRate(0.1).Done()
	loop := train.NewLoop(train.NewTrainer(m, losses.NegativeLogLikelihood, opt, nil, nil))
	schedule := cosineschedule.New().PeriodInSteps(-1).MinLearningRate(0.01)
	require.NoError(t, schedule.Attach(loop, opt))

	var lrs []float64
	loop.OnStep("lr", 0, func(loop *train.Loop, _ []float64) error {
		lrs = append(lrs, opt.LearningRate())
		return nil
	})
	_, err = loop.RunSteps(&constantDataset{numBatches: 10}, 10)
	require.NoError(t, err)
	require.Len(t, lrs, 10)
	// Hook with priority 0 runs after the schedule's hook, so it sees the rate for the next step.
	for ii, lr := range lrs {
		assert.InDeltaf(t, schedule.LearningRateAt(ii+1, 10), lr, 1e-12, "step %d", ii)
	}
	assert.Less(t, lrs[8], lrs[0])

	// Invalid minimum learning rate.
	require.Error(t, cosineschedule.New().PeriodInSteps(10).LearningRate(0.1).MinLearningRate(0.2).Attach(loop, opt))
}
