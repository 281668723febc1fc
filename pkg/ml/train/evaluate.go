// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"io"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/pkg/errors"
)

// EvalResult holds the summary of Evaluate.
type EvalResult struct {
	// Examples evaluated and how many were predicted correctly.
	Examples, Correct int

	// MeanLoss is the loss averaged over all examples.
	MeanLoss float64

	// Accuracy is Correct/Examples.
	Accuracy float64
}

// Evaluate runs the trainer's model in inference mode (dropout disabled) over the whole dataset,
// and returns the mean loss and accuracy. Parameters are not changed.
//
// The dataset is read until io.EOF and then reset.
func Evaluate(trainer *Trainer, ds Dataset) (result EvalResult, err error) {
	var totalLoss float64
	for {
		var (
			inputs *tensors.Tensor
			labels []int
		)
		inputs, labels, err = ds.Yield()
		if err == io.EOF {
			err = nil
			break
		}
		if err != nil {
			return result, errors.WithMessagef(err, "Evaluate(%q): failed reading from dataset", ds.Name())
		}
		predictions, err := trainer.model.Forward(inputs, false)
		if err != nil {
			return result, errors.WithMessagef(err, "Evaluate(%q)", ds.Name())
		}
		loss, _, err := trainer.lossFn(labels, predictions)
		if err != nil {
			return result, errors.WithMessagef(err, "Evaluate(%q)", ds.Name())
		}
		totalLoss += loss * float64(len(labels))
		result.Examples += len(labels)
		for ii, prediction := range model.ArgMax(predictions) {
			if prediction == labels[ii] {
				result.Correct++
			}
		}
	}
	ds.Reset()
	if result.Examples == 0 {
		return result, errors.Errorf("Evaluate(%q): dataset has no examples", ds.Name())
	}
	result.MeanLoss = totalLoss / float64(result.Examples)
	result.Accuracy = float64(result.Correct) / float64(result.Examples)
	return result, nil
}
