// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package layers holds the building blocks of a feed-forward network: Linear, Relu, Dropout
// and LogSoftmax, each with its own forward and backward pass.
//
// Inputs and outputs are rank-2 tensors shaped `[batch_size, features]`. Layers remember what
// they need from the last Forward call to compute the Backward pass, so a layer shouldn't be
// shared between two models being trained at the same time.
package layers

import (
	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/pkg/errors"
)

const (
	// ParamDropoutRate is the hyperparameter with the dropout rate applied after each hidden layer.
	// Default is 0.0 (no dropout).
	ParamDropoutRate = "dropout_rate"
)

// Layer is one step of a feed-forward network.
type Layer interface {
	// Forward computes the output of the layer for the batch x.
	// If training is false, the layer must behave deterministically (e.g.: no dropout).
	Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error)

	// Backward takes the gradient of the loss with respect to the output of the last Forward call,
	// accumulates the gradients of the parameters (if any) and returns the gradient with respect to
	// the input of the last Forward call.
	Backward(grad *tensors.Tensor) (*tensors.Tensor, error)

	// Parameters of the layer, in a fixed order. Layers without parameters return nil.
	Parameters() []*Parameter
}

// checkBatch returns an error if x is not a rank-2 tensor with the given number of features.
func checkBatch(layerName string, x *tensors.Tensor, features int) error {
	if x.Rank() != 2 {
		return errors.Errorf("%s expects inputs shaped [batch_size, %d], got %s", layerName, features, x.Shape())
	}
	if features >= 0 && x.Shape().Dimensions[1] != features {
		return errors.Errorf("%s expects inputs with %d features, got %s", layerName, features, x.Shape())
	}
	return nil
}

// checkGrad returns an error if the gradient doesn't match the shape of the last output.
func checkGrad(layerName string, grad, output *tensors.Tensor) error {
	if output == nil {
		return errors.Errorf("%s.Backward() called before Forward()", layerName)
	}
	if !grad.Shape().Equal(output.Shape()) {
		return errors.Errorf("%s.Backward() got gradient shaped %s, but the last output was shaped %s",
			layerName, grad.Shape(), output.Shape())
	}
	return nil
}
