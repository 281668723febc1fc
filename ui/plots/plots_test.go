// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package plots

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/mlptrain/pkg/ml/datasets"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/gomlx/mlptrain/pkg/ml/train/losses"
	"github.com/gomlx/mlptrain/pkg/ml/train/metrics"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPoints() []Point {
	return []Point{
		{MetricName: "Train: Loss", MetricType: "loss", Step: 10, Value: 0.5},
		{MetricName: "Accuracy on test", MetricType: "accuracy", Step: 10, Value: 0.8},
		{MetricName: "Train: Loss", MetricType: "loss", Step: 0, Value: 1.5},
		{MetricName: "Accuracy on test", MetricType: "accuracy", Step: 0, Value: 0.4},
	}
}

func TestPoints(t *testing.T) {
	points := NewPoints(testPoints())
	assert.Len(t, points, 2)
	assert.Equal(t, []string{"Accuracy on test", "Train: Loss"}, points.MetricsNames())

	steps, values := points.Series("Train: Loss")
	assert.Equal(t, []float64{0, 10}, steps)
	assert.Equal(t, []float64{1.5, 0.5}, values)

	extracted := points.Extract()
	require.Len(t, extracted, 4)
	assert.Equal(t, 0.0, extracted[0].Step)
	assert.Equal(t, 10.0, extracted[3].Step)

	table := points.String()
	assert.Contains(t, table, "Train: Loss")
	assert.Contains(t, table, "0.800000")

	points.Filter(func(p Point) bool { return p.MetricType == "loss" })
	assert.Equal(t, []string{"Train: Loss"}, points.MetricsNames())
	points.Filter(func(p Point) bool { return p.Step > 5 })
	assert.Len(t, points, 1)
}

func TestPointsWriter(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "points.json")
	writer, errReport := CreatePointsWriter(filePath)
	for _, p := range testPoints() {
		writer <- p
	}
	close(writer)
	require.NoError(t, <-errReport)

	loaded, err := LoadPoints(filePath)
	require.NoError(t, err)
	assert.Equal(t, testPoints(), loaded)

	_, err = LoadPoints(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestPNGPlotter(t *testing.T) {
	p := NewPNGPlotter()
	_, err := p.WriteTo(&bytes.Buffer{})
	require.Error(t, err, "no points")

	for _, point := range testPoints() {
		p.AddPoint(point)
	}
	p.DynamicSampleDone(false)
	var buf bytes.Buffer
	_, err = p.WriteTo(&buf)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestAttachToLoop(t *testing.T) {
	ds, err := datasets.Synthetic(48, 3, 3, 11)
	require.NoError(t, err)
	ds.BatchSize(8)
	evalDS := ds.Copy().SetName("eval")
	m := model.MustNew(model.Architecture{InputSize: 3, OutputSize: 3, HiddenSizes: []int{6}}, model.WithSeed(2))
	trainer := train.NewTrainer(m, losses.NegativeLogLikelihood,
		optimizers.StochasticGradientDescent().WithLearningRate(0.05).Done(),
		[]metrics.Interface{metrics.NewMovingAverageSparseCategoricalAccuracy("Moving Average Accuracy", "~acc", 0.01)},
		[]metrics.Interface{metrics.NewSparseCategoricalAccuracy("Accuracy", "acc")})
	loop := train.NewLoop(trainer)

	dir := t.TempDir()
	pngPath := filepath.Join(dir, "training.png")
	p := AttachToLoop(loop, pngPath, evalDS)
	_, err = loop.RunEpochs(ds, 3)
	require.NoError(t, err)

	// Per epoch: epoch mean loss, moving average accuracy, eval mean loss and eval accuracy.
	points := p.Points()
	assert.Len(t, points, 3)
	assert.Len(t, points.Extract(), 12)
	assert.Contains(t, points.MetricsNames(), "Accuracy on eval")

	contents, err := os.ReadFile(pngPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(contents, pngMagic))
	loaded, err := LoadPoints(filepath.Join(dir, "training.json"))
	require.NoError(t, err)
	assert.Equal(t, points.Extract(), NewPoints(loaded).Extract())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temporary files left behind")
}
