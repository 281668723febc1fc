// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/gomlx/mlptrain/pkg/ml/train/losses"
	"github.com/gomlx/mlptrain/pkg/ml/train/metrics"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceDataset yields fixed batches in order.
type sliceDataset struct {
	inputs   [][]float64
	labels   []int
	batch    int
	position int
}

func (ds *sliceDataset) Name() string { return "slice" }
func (ds *sliceDataset) Reset()       { ds.position = 0 }
func (ds *sliceDataset) Yield() (*tensors.Tensor, []int, error) {
	if ds.position >= len(ds.labels) {
		return nil, nil, io.EOF
	}
	end := min(ds.position+ds.batch, len(ds.labels))
	inputs, err := tensors.FromRows(ds.inputs[ds.position:end])
	if err != nil {
		return nil, nil, err
	}
	labels := append([]int(nil), ds.labels[ds.position:end]...)
	ds.position = end
	return inputs, labels, nil
}

// newToyDataset creates a linearly separable 2-class problem with numExamples.
func newToyDataset(numExamples, numFeatures, batch int) *sliceDataset {
	ds := &sliceDataset{batch: batch}
	for ii := range numExamples {
		label := ii % 2
		row := make([]float64, numFeatures)
		for jj := range row {
			row[jj] = float64(label)*2 - 1 + 0.1*float64((ii*7+jj*3)%5-2)
		}
		ds.inputs = append(ds.inputs, row)
		ds.labels = append(ds.labels, label)
	}
	return ds
}

func newTestTrainer(t *testing.T, arch model.Architecture, seed uint64, lr float64) *Trainer {
	m, err := model.New(arch, model.WithSeed(seed))
	require.NoError(t, err)
	opt := optimizers.StochasticGradientDescent().WithLearningRate(lr).Done()
	return NewTrainer(m, losses.NegativeLogLikelihood, opt,
		[]metrics.Interface{metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
}

func TestRunEpochsSingleEpoch(t *testing.T) {
	trainer := newTestTrainer(t, model.Architecture{InputSize: 4, OutputSize: 2, HiddenSizes: []int{8, 4}}, 1, 0.01)
	loop := NewLoop(trainer)
	numSteps := 0
	loop.OnStep("count", 0, func(loop *Loop, metrics []float64) error {
		numSteps++
		require.Len(t, metrics, 2)
		return nil
	})
	stats, err := loop.RunEpochs(newToyDataset(10, 4, 5), 1)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].Steps)
	assert.Equal(t, 2, numSteps)
	assert.Equal(t, int64(2), trainer.GlobalStep())
	assert.Equal(t, 2, loop.LoopStep)
	assert.False(t, math.IsNaN(stats[0].MeanLoss) || math.IsInf(stats[0].MeanLoss, 0))
	assert.GreaterOrEqual(t, stats[0].MeanLoss, 0.0)
	assert.InDelta(t, stats[0].TotalLoss/2, stats[0].MeanLoss, 1e-12)
}

func TestRunEpochsReproducible(t *testing.T) {
	arch := model.Architecture{InputSize: 3, OutputSize: 2, HiddenSizes: []int{6, 4}}
	run := func() []EpochStats {
		loop := NewLoop(newTestTrainer(t, arch, 7, 0.1))
		stats, err := loop.RunEpochs(newToyDataset(20, 3, 4), 5)
		require.NoError(t, err)
		return stats
	}
	stats1, stats2 := run(), run()
	require.Len(t, stats1, 5)
	assert.Equal(t, stats1, stats2)
	for _, s := range stats1 {
		assert.GreaterOrEqual(t, s.MeanLoss, 0.0)
		assert.Equal(t, 5, s.Steps)
	}
	// A separable problem should be learned: the loss goes down.
	assert.Less(t, stats1[4].MeanLoss, stats1[0].MeanLoss)
}

func TestLoopHooks(t *testing.T) {
	trainer := newTestTrainer(t, model.Architecture{InputSize: 2, OutputSize: 2}, 3, 0.01)
	loop := NewLoop(trainer)
	var calls []string
	loop.OnStart("start", 0, func(loop *Loop, ds Dataset) error {
		calls = append(calls, "start")
		return nil
	})
	loop.OnStep("second", 10, func(loop *Loop, metrics []float64) error {
		calls = append(calls, "second")
		return nil
	})
	loop.OnStep("first", -1, func(loop *Loop, metrics []float64) error {
		calls = append(calls, "first")
		return nil
	})
	loop.OnEpoch("epoch", 0, func(loop *Loop, stats EpochStats) error {
		calls = append(calls, "epoch")
		assert.Equal(t, 2, loop.EndStep, "EndStep should be extrapolated after the first epoch")
		return nil
	})
	loop.OnEnd("end", 0, func(loop *Loop, metrics []float64) error {
		calls = append(calls, "end")
		return nil
	})
	_, err := loop.RunEpochs(newToyDataset(4, 2, 2), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"start", "first", "second", "first", "second", "epoch", "end"}, calls)
	assert.Greater(t, loop.MedianTrainStepDuration(), time.Duration(0))
}

func TestEveryNSteps(t *testing.T) {
	trainer := newTestTrainer(t, model.Architecture{InputSize: 2, OutputSize: 2}, 3, 0.01)
	loop := NewLoop(trainer)
	var steps []int
	EveryNSteps(loop, 3, "every3", 0, func(loop *Loop, metrics []float64) error {
		steps = append(steps, loop.LoopStep)
		return nil
	})
	var epochs []int
	EveryNEpochs(loop, 2, "every2", 0, func(loop *Loop, stats EpochStats) error {
		epochs = append(epochs, stats.Epoch)
		return nil
	})
	_, err := loop.RunEpochs(newToyDataset(8, 2, 2), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 8, 11}, steps)
	assert.Equal(t, []int{1}, epochs)
}

func TestNTimesDuringLoop(t *testing.T) {
	trainer := newTestTrainer(t, model.Architecture{InputSize: 2, OutputSize: 2}, 3, 0.01)
	loop := NewLoop(trainer)
	var steps []int
	NTimesDuringLoop(loop, 5, "5 times", 0, func(loop *Loop, metrics []float64) error {
		steps = append(steps, loop.LoopStep)
		return nil
	})
	ds := newToyDataset(200, 2, 2)
	_, err := loop.RunSteps(ds, 100)
	require.NoError(t, err)
	// First step, then evenly every 20 steps, and always the last one.
	assert.Equal(t, []int{0, 19, 39, 59, 79, 99}, steps)
}

func TestRunStepsErrors(t *testing.T) {
	trainer := newTestTrainer(t, model.Architecture{InputSize: 2, OutputSize: 2}, 3, 0.01)
	loop := NewLoop(trainer)
	_, err := loop.RunSteps(newToyDataset(4, 2, 2), 3)
	require.Error(t, err, "dataset has only 2 batches")

	// Inputs with the wrong number of features.
	loop = NewLoop(trainer)
	_, err = loop.RunEpochs(newToyDataset(4, 3, 2), 1)
	require.Error(t, err)

	// Labels out of range for the 2 classes.
	ds := newToyDataset(4, 2, 2)
	ds.labels[1] = 7
	_, err = loop.RunEpochs(ds, 1)
	require.Error(t, err)

	// Empty datasets.
	_, err = loop.RunEpochs(&sliceDataset{batch: 2}, 1)
	require.Error(t, err)
}

func TestNaNLossStopsTraining(t *testing.T) {
	trainer := newTestTrainer(t, model.Architecture{InputSize: 2, OutputSize: 2}, 3, 0.01)
	ds := newToyDataset(4, 2, 2)
	ds.inputs[0][0] = math.NaN()
	m := trainer.Model().(*model.Model)
	before := m.Parameters()[0].Value().Clone()
	loop := NewLoop(trainer)
	numSteps := 0
	loop.OnStep("count", 0, func(*Loop, []float64) error {
		numSteps++
		return nil
	})
	_, err := loop.RunEpochs(ds, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loss is NaN")
	assert.Zero(t, numSteps, "OnStep hooks must not see a failed step")
	assert.True(t, before.Equal(m.Parameters()[0].Value()), "parameters must not change with a NaN loss")
	assert.Equal(t, int64(0), trainer.GlobalStep())
}

func TestEvaluate(t *testing.T) {
	trainer := newTestTrainer(t, model.Architecture{InputSize: 3, OutputSize: 2, HiddenSizes: []int{6}}, 5, 0.1)
	train := newToyDataset(20, 3, 4)
	_, err := NewLoop(trainer).RunEpochs(train, 20)
	require.NoError(t, err)

	result, err := Evaluate(trainer, train)
	require.NoError(t, err)
	assert.Equal(t, 20, result.Examples)
	assert.GreaterOrEqual(t, result.Accuracy, 0.9)
	assert.Equal(t, result.Correct, int(math.Round(result.Accuracy*20)))
	assert.GreaterOrEqual(t, result.MeanLoss, 0.0)

	// Trainer.Eval reports the same values through the eval metrics.
	values, err := trainer.Eval(train)
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.InDelta(t, result.MeanLoss, values[0], 1e-9)
	assert.InDelta(t, result.Accuracy, values[1], 1e-9)
}
