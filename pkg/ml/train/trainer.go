// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package train holds tools to help run a training loop: the Trainer executes one training step
// (or evaluation step) at a time, and the Loop drives the Trainer over a Dataset for a number of
// steps or epochs, calling hooks along the way.
package train

import (
	"io"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/layers"
	"github.com/gomlx/mlptrain/pkg/ml/train/losses"
	"github.com/gomlx/mlptrain/pkg/ml/train/metrics"
	"github.com/gomlx/mlptrain/pkg/ml/train/optimizers"
	"github.com/pkg/errors"
)

// Model trained by the Trainer. model.Model implements it.
type Model interface {
	// Forward returns the predictions (log-probabilities) for the inputs.
	Forward(inputs *tensors.Tensor, training bool) (*tensors.Tensor, error)

	// Backward back-propagates the gradient of the loss with respect to the predictions of
	// the last Forward call, accumulating the gradients of the parameters.
	Backward(gradPredictions *tensors.Tensor) error

	// Parameters to be updated by the optimizer.
	Parameters() []*layers.Parameter

	// ZeroGrad resets the gradient accumulators of all parameters.
	ZeroGrad()
}

// Trainer is a helper object to orchestrate the training and evaluation of a model.
//
// Each TrainStep resets the gradients, runs the forward pass, the loss, the backward pass and one
// optimizer update, in this order. EvalStep runs only the forward pass (in inference mode) and the loss.
//
// The metrics returned by TrainStep are the batch loss followed by the trainMetrics given to NewTrainer.
// The metrics returned by EvalStep and Eval are the mean loss followed by the evalMetrics.
type Trainer struct {
	model     Model
	lossFn    losses.LossFn
	optimizer optimizers.Interface

	trainMetrics, evalMetrics []metrics.Interface
	globalStep                int64
}

// NewTrainer constructs a trainer for the given model, loss function and optimizer.
//
// trainMetrics are updated at every TrainStep and reset at the start of each Loop run, and evalMetrics
// are reset at the start of every Eval. Both can be nil.
func NewTrainer(model Model, lossFn losses.LossFn, optimizer optimizers.Interface,
	trainMetrics, evalMetrics []metrics.Interface) *Trainer {
	batchLoss := metrics.NewExponentialMovingAverageMetric("Batch Loss", "batch", metrics.LossMetricType,
		metrics.LossFn, nil, 1.0)
	meanLoss := metrics.NewMeanLoss("Mean Loss", "loss")
	return &Trainer{
		model:        model,
		lossFn:       lossFn,
		optimizer:    optimizer,
		trainMetrics: append([]metrics.Interface{batchLoss}, trainMetrics...),
		evalMetrics:  append([]metrics.Interface{meanLoss}, evalMetrics...),
	}
}

// Model being trained.
func (r *Trainer) Model() Model { return r.model }

// Optimizer used to update the parameters.
func (r *Trainer) Optimizer() optimizers.Interface { return r.optimizer }

// TrainMetrics returns the train metrics objects (not the actual values, just the objects that implement them).
// The first one is always the batch loss.
func (r *Trainer) TrainMetrics() []metrics.Interface { return r.trainMetrics }

// EvalMetrics returns the eval metrics objects. The first one is always the mean loss.
func (r *Trainer) EvalMetrics() []metrics.Interface { return r.evalMetrics }

// GlobalStep returns the number of optimizer updates applied so far.
func (r *Trainer) GlobalStep() int64 { return r.globalStep }

// ResetTrainMetrics resets the state of all train metrics.
func (r *Trainer) ResetTrainMetrics() {
	for _, m := range r.trainMetrics {
		m.Reset()
	}
}

// ResetEvalMetrics resets the state of all eval metrics.
func (r *Trainer) ResetEvalMetrics() {
	for _, m := range r.evalMetrics {
		m.Reset()
	}
}

// TrainStep runs one training step on the batch, and returns the value of the train metrics after it,
// the first being the batch loss.
//
// The loss is checked for NaN or infinity before the backward pass, so a non-finite loss returns an
// error and never changes the model.
func (r *Trainer) TrainStep(inputs *tensors.Tensor, labels []int) (metricValues []float64, err error) {
	r.model.ZeroGrad()
	predictions, err := r.model.Forward(inputs, true)
	if err != nil {
		return nil, errors.WithMessage(err, "TrainStep failed in the forward pass")
	}
	loss, gradPredictions, err := r.lossFn(labels, predictions)
	if err != nil {
		return nil, errors.WithMessage(err, "TrainStep failed computing the loss")
	}
	if err = losses.CheckFinite(loss); err != nil {
		return nil, errors.WithMessagef(err, "TrainStep (global step %d) interrupted", r.globalStep)
	}
	if err = r.model.Backward(gradPredictions); err != nil {
		return nil, errors.WithMessage(err, "TrainStep failed in the backward pass")
	}
	if err = r.optimizer.UpdateParameters(r.model.Parameters()); err != nil {
		return nil, errors.WithMessage(err, "TrainStep failed updating the parameters")
	}
	r.globalStep++
	return updateMetrics(r.trainMetrics, metrics.Batch{Loss: loss, LogProbs: predictions, Labels: labels})
}

// EvalStep runs the model in inference mode on one batch, updates the eval metrics and returns their values.
// It doesn't reset the eval metrics, see Eval.
func (r *Trainer) EvalStep(inputs *tensors.Tensor, labels []int) (metricValues []float64, err error) {
	predictions, err := r.model.Forward(inputs, false)
	if err != nil {
		return nil, errors.WithMessage(err, "EvalStep failed in the forward pass")
	}
	loss, _, err := r.lossFn(labels, predictions)
	if err != nil {
		return nil, errors.WithMessage(err, "EvalStep failed computing the loss")
	}
	return updateMetrics(r.evalMetrics, metrics.Batch{Loss: loss, LogProbs: predictions, Labels: labels})
}

// Eval returns the eval metrics (the first being the mean loss) over the whole dataset.
// The dataset is read until io.EOF, and then it is reset.
func (r *Trainer) Eval(ds Dataset) (metricValues []float64, err error) {
	r.ResetEvalMetrics()
	numBatches := 0
	for {
		inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval(%q): failed reading from dataset", ds.Name())
		}
		metricValues, err = r.EvalStep(inputs, labels)
		if err != nil {
			return nil, errors.WithMessagef(err, "Trainer.Eval(%q): batch #%d", ds.Name(), numBatches)
		}
		numBatches++
	}
	ds.Reset()
	if numBatches == 0 {
		return nil, errors.Errorf("Trainer.Eval(%q): dataset yielded no batches", ds.Name())
	}
	return metricValues, nil
}

func updateMetrics(metricsObjs []metrics.Interface, batch metrics.Batch) ([]float64, error) {
	values := make([]float64, len(metricsObjs))
	for ii, m := range metricsObjs {
		value, err := m.Update(batch)
		if err != nil {
			return nil, err
		}
		values[ii] = value
	}
	return values, nil
}
