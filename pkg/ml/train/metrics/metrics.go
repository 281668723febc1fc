// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package metrics holds a library of metrics computed from the per-batch results of training
// or evaluation: the loss, the log-probabilities predicted by the model and the labels.
//
// Metrics are stateful: they aggregate batches until Reset is called.
package metrics

import (
	"fmt"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Interface for a Metric.
type Interface interface {
	// Name of the metric.
	Name() string

	// ShortName is a shortened version of the name (preferably a few characters) to display in progress bars or
	// similar UIs.
	ShortName() string

	// MetricType is a key for metrics that share the same quantity or semantics. Eg.:
	// "Moving-Average-Accuracy" and "Batch-Accuracy" would both have the same
	// "accuracy" metric type, and for instance, can be displayed on the same plot, sharing
	// the Y-axis.
	MetricType() string

	// Update the metric with the results of one batch, and returns the current value of the metric.
	Update(batch Batch) (float64, error)

	// Value returns the current value. It is 0 if no batch has been seen since the last Reset.
	Value() float64

	// PrettyPrint is used to pretty-print a metric value, usually in a short form.
	PrettyPrint(value float64) string

	// Reset metrics internal counters when starting a new evaluation.
	Reset()
}

// Batch holds the results of one training or evaluation step.
type Batch struct {
	// Loss is the mean loss of the batch.
	Loss float64

	// LogProbs returned by the model, shaped `[batch_size, num_classes]`.
	LogProbs *tensors.Tensor

	// Labels for the batch.
	Labels []int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int { return len(b.Labels) }

const (
	// LossMetricType is the type of loss metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	LossMetricType = "loss"

	// AccuracyMetricType is the type of accuracy metrics.
	// Used to aggregate metrics of the same  type in the same plot.
	AccuracyMetricType = "accuracy"
)

// BaseMetricFn calculates the value of a metric for one batch.
type BaseMetricFn func(batch Batch) (float64, error)

// PrettyPrintFn is a function to convert a metric value to a string.
type PrettyPrintFn func(value float64) string

// baseMetric implements the common part of a metrics.Interface.
type baseMetric struct {
	name, shortName, metricType string
	metricFn                    BaseMetricFn
	pPrintFn                    PrettyPrintFn // if nil will display default.
}

func (m *baseMetric) Name() string       { return m.name }
func (m *baseMetric) ShortName() string  { return m.shortName }
func (m *baseMetric) MetricType() string { return m.metricType }

func (m *baseMetric) PrettyPrint(value float64) string {
	if m.pPrintFn != nil {
		return m.pPrintFn(value)
	}
	return fmt.Sprintf("%.3f", value)
}

func (m *baseMetric) compute(batch Batch) (float64, error) {
	value, err := m.metricFn(batch)
	if err != nil {
		return 0, errors.WithMessagef(err, "failed computing metric %q", m.name)
	}
	return value, nil
}

// MeanMetric implements a metric that keeps the mean of a metric over all examples seen,
// weighting each batch by its size.
type MeanMetric struct {
	baseMetric
	total float64
	count int
}

var _ Interface = (*MeanMetric)(nil)

// NewMeanMetric creates a metric from any BaseMetricFn function.
// pPrintFn can be left as nil, and a default will be used.
func NewMeanMetric(name, shortName, metricType string, metricFn BaseMetricFn, pPrintFn PrettyPrintFn) *MeanMetric {
	return &MeanMetric{baseMetric: baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}}
}

// Update implements metrics.Interface.
func (m *MeanMetric) Update(batch Batch) (float64, error) {
	value, err := m.compute(batch)
	if err != nil {
		return 0, err
	}
	m.total += value * float64(batch.Size())
	m.count += batch.Size()
	return m.Value(), nil
}

// Value implements metrics.Interface.
func (m *MeanMetric) Value() float64 {
	if m.count == 0 {
		return 0
	}
	return m.total / float64(m.count)
}

// Reset implements metrics.Interface.
func (m *MeanMetric) Reset() {
	m.total, m.count = 0, 0
}

// movingAverageMetric implements a metric that keeps an exponential moving average of a metric.
//
// Each new batch has weight of max(newExampleWeight, 1/count), so it starts as a normal mean.
type movingAverageMetric struct {
	baseMetric
	newExampleWeight float64
	mean             float64
	count            int
}

// NewExponentialMovingAverageMetric creates a metric from any BaseMetricFn function. It takes new examples with
// the given weight (newExampleWeight), and decays the rest to 1-newExampleWeight.
//
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
// pPrintFn can be left as nil, and a default will be used.
func NewExponentialMovingAverageMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	pPrintFn PrettyPrintFn,
	newExampleWeight float64,
) Interface {
	return &movingAverageMetric{baseMetric: baseMetric{
		name: name, shortName: shortName, metricType: metricType,
		metricFn: metricFn, pPrintFn: pPrintFn}, newExampleWeight: newExampleWeight}
}

// Update implements metrics.Interface.
func (m *movingAverageMetric) Update(batch Batch) (float64, error) {
	value, err := m.compute(batch)
	if err != nil {
		return 0, err
	}
	m.count++
	weight := max(m.newExampleWeight, 1.0/float64(m.count))
	m.mean = m.mean*(1-weight) + value*weight
	return m.mean, nil
}

// Value implements metrics.Interface.
func (m *movingAverageMetric) Value() float64 { return m.mean }

// Reset implements metrics.Interface.
func (m *movingAverageMetric) Reset() {
	m.mean, m.count = 0, 0
}

// LossFn returns the loss of the batch.
func LossFn(batch Batch) (float64, error) {
	return batch.Loss, nil
}

// SparseCategoricalAccuracyFn returns the fraction of examples for which the class with the highest
// log-probability matches the label.
func SparseCategoricalAccuracyFn(batch Batch) (float64, error) {
	if batch.LogProbs == nil || batch.LogProbs.Rank() != 2 {
		return 0, errors.New("accuracy requires log-probabilities shaped [batch_size, num_classes]")
	}
	if batch.LogProbs.Shape().Dimensions[0] != len(batch.Labels) {
		return 0, errors.Errorf("accuracy got log-probabilities shaped %s, but %d labels",
			batch.LogProbs.Shape(), len(batch.Labels))
	}
	if len(batch.Labels) == 0 {
		return 0, nil
	}
	var correct int
	for row, label := range batch.Labels {
		values := batch.LogProbs.Row(row)
		best := 0
		for ii, v := range values {
			if v > values[best] {
				best = ii
			}
		}
		if best == label {
			correct++
		}
	}
	return float64(correct) / float64(len(batch.Labels)), nil
}

func accuracyPPrint(value float64) string {
	return fmt.Sprintf("%.2f%%", value*100.0)
}

// NewMeanLoss returns a metric with the mean loss over all examples.
func NewMeanLoss(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, LossMetricType, LossFn, nil)
}

// NewMovingAverageLoss returns a metric with the moving average of the loss.
func NewMovingAverageLoss(name, shortName string, newExampleWeight float64) Interface {
	return NewExponentialMovingAverageMetric(name, shortName, LossMetricType, LossFn, nil, newExampleWeight)
}

// NewMedianLoss returns a metric with the streaming median of the batch losses.
func NewMedianLoss(name, shortName string) *StreamingMedianMetric {
	return NewMedianMetric(name, shortName, LossMetricType, LossFn, nil)
}

// NewSparseCategoricalAccuracy returns a new mean accuracy metric, for integer labels.
func NewSparseCategoricalAccuracy(name, shortName string) *MeanMetric {
	return NewMeanMetric(name, shortName, AccuracyMetricType, SparseCategoricalAccuracyFn, accuracyPPrint)
}

// NewMovingAverageSparseCategoricalAccuracy returns a new accuracy metric with the given names.
// A typical value of newExampleWeight is 0.01, the smaller the value, the slower the moving average moves.
func NewMovingAverageSparseCategoricalAccuracy(name, shortName string, newExampleWeight float64) Interface {
	return NewExponentialMovingAverageMetric(
		name, shortName, AccuracyMetricType, SparseCategoricalAccuracyFn, accuracyPPrint, newExampleWeight)
}
