// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package train

import (
	"github.com/gomlx/mlptrain/pkg/core/tensors"
)

// Dataset for a train.Trainer provides the data, one batch at a time: a tensor of inputs shaped
// `[batch_size, ...features]` and the integer class label of each example.
//
// A Dataset used with Loop.RunEpochs must be finite: Yield returns io.EOF at the end of each epoch,
// and Reset restarts it for the next one. The policy of batch size and shuffling belongs to the
// dataset, see package datasets.
type Dataset interface {
	// Name identifies the dataset. Used for debugging, pretty-printing and plots.
	Name() string

	// Reset restarts the dataset from the beginning. Can be called after io.EOF is reached,
	// for instance when running another evaluation on a test dataset.
	Reset()

	// Yield one batch or an error. If the error is `io.EOF` the training/evaluation terminates
	// normally, as it indicates end of data -- maybe the end of the epoch.
	//
	// The ownership of inputs and labels is transferred to the caller, the dataset must not change them
	// after they are yielded.
	Yield() (inputs *tensors.Tensor, labels []int, err error)
}
