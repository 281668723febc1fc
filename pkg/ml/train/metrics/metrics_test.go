// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"math"
	"testing"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logProbsFromRows(t *testing.T, rows [][]float64) *tensors.Tensor {
	x, err := tensors.FromRows(rows)
	require.NoError(t, err)
	for ii, p := range x.Flat() {
		x.Flat()[ii] = math.Log(p)
	}
	return x
}

func TestAccuracy(t *testing.T) {
	batch := Batch{
		LogProbs: logProbsFromRows(t, [][]float64{{0.1, 0.9}, {0.8, 0.2}, {0.3, 0.7}, {0.6, 0.4}}),
		Labels:   []int{1, 0, 0, 1},
	}
	accuracy := NewSparseCategoricalAccuracy("accuracy", "acc")
	value, err := accuracy.Update(batch)
	require.NoError(t, err)
	assert.Equal(t, 0.5, value)
	assert.Equal(t, "50.00%", accuracy.PrettyPrint(value))

	// Mean is weighted by the number of examples.
	value, err = accuracy.Update(Batch{LogProbs: logProbsFromRows(t, [][]float64{{0.1, 0.9}}), Labels: []int{1}})
	require.NoError(t, err)
	assert.InDelta(t, 3.0/5.0, value, 1e-12)

	accuracy.Reset()
	assert.Zero(t, accuracy.Value())

	_, err = accuracy.Update(Batch{LogProbs: batch.LogProbs, Labels: []int{1}})
	require.Error(t, err)
}

func TestLossMetrics(t *testing.T) {
	mean := NewMeanLoss("mean loss", "loss")
	for _, loss := range []float64{1, 2, 3} {
		_, err := mean.Update(Batch{Loss: loss, Labels: []int{0, 0}})
		require.NoError(t, err)
	}
	assert.Equal(t, 2.0, mean.Value())
	assert.Equal(t, "2.000", mean.PrettyPrint(mean.Value()))
	assert.Equal(t, LossMetricType, mean.MetricType())

	// The moving average starts as a plain mean, then weights new values by 0.5.
	movingAverage := NewMovingAverageLoss("moving average loss", "~loss", 0.5)
	for _, loss := range []float64{4, 2} {
		_, err := movingAverage.Update(Batch{Loss: loss})
		require.NoError(t, err)
	}
	assert.Equal(t, 3.0, movingAverage.Value())
	_, err := movingAverage.Update(Batch{Loss: 1})
	require.NoError(t, err)
	assert.Equal(t, 2.0, movingAverage.Value())
	assert.Equal(t, "~loss", movingAverage.ShortName())
}
