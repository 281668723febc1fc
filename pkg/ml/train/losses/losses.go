// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package losses have standard losses that implement the LossFn interface used by train.Trainer.
package losses

import (
	"math"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/pkg/errors"
)

// LossFn is the interface used by train.Trainer to train models.
//
// It takes as inputs the labels (from the dataset) and the predictions (from the model), and returns
// the scalar loss of the batch, along with the gradient of the loss with respect to the predictions,
// which is used to start the backward pass.
type LossFn func(labels []int, predictions *tensors.Tensor) (loss float64, grad *tensors.Tensor, err error)

var _ LossFn = NegativeLogLikelihood

// NegativeLogLikelihood returns the mean over the batch of `-logProbs[i, labels[i]]`, and its gradient.
//
// logProbs must be shaped `[batch_size, num_classes]` and hold log-probabilities (the output
// of a LogSoftmax), and labels must be in the range `[0, num_classes)`.
func NegativeLogLikelihood(labels []int, logProbs *tensors.Tensor) (loss float64, grad *tensors.Tensor, err error) {
	if logProbs.Rank() != 2 {
		return 0, nil, errors.Errorf("NegativeLogLikelihood requires log-probabilities shaped [batch_size, num_classes], got %s",
			logProbs.Shape())
	}
	batchSize, numClasses := logProbs.Shape().Dimensions[0], logProbs.Shape().Dimensions[1]
	if batchSize != len(labels) {
		return 0, nil, errors.Errorf("NegativeLogLikelihood got %d labels for log-probabilities shaped %s",
			len(labels), logProbs.Shape())
	}
	if batchSize == 0 {
		return 0, nil, errors.New("NegativeLogLikelihood got an empty batch")
	}
	grad = tensors.FromShape(logProbs.Shape())
	weight := 1.0 / float64(batchSize)
	for row, label := range labels {
		if label < 0 || label >= numClasses {
			return 0, nil, errors.Errorf("NegativeLogLikelihood: label %d of example #%d out of range [0, %d)",
				label, row, numClasses)
		}
		loss -= logProbs.Row(row)[label]
		grad.Row(row)[label] = -weight
	}
	loss *= weight
	return loss, grad, nil
}

// CheckFinite returns an error if loss is NaN or infinite.
func CheckFinite(loss float64) error {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return errors.Errorf("loss is %g", loss)
	}
	return nil
}
