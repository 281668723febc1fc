// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasets is a collection of utility datasets (train.Dataset) that can be combined:
// `InMemory`, `Take`, `Synthetic` and `LoadCSV`.
//
// It also includes normalization tools.
package datasets

import (
	"fmt"
	"io"
	"math"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/ml/train"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// takeDataset implements a `train.Dataset` that only yields `take` batches.
type takeDataset struct {
	ds          train.Dataset
	count, take int
}

// Take returns a wrapper to `ds`, a `train.Dataset` that only yields `n` batches per epoch.
func Take(ds train.Dataset, n int) train.Dataset {
	return &takeDataset{
		ds:   ds,
		take: n,
	}
}

// Name implements train.Dataset. It returns the dataset name.
func (ds *takeDataset) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Reset implements train.Dataset.
func (ds *takeDataset) Reset() {
	ds.ds.Reset()
	ds.count = 0
}

// Yield implements train.Dataset.
func (ds *takeDataset) Yield() (inputs *tensors.Tensor, labels []int, err error) {
	if ds.count >= ds.take {
		err = io.EOF
		return
	}
	ds.count++
	return ds.ds.Yield()
}

// Normalization calculates the per-feature `mean` and `stddev` of the given examples (each row one example).
//
// These values can later be used for normalization with Normalize.
//
// Notice for any feature that happens to be constant, the `stddev` will be 0. Normalize leaves those
// features centered but not scaled.
func Normalization(examples [][]float64) (mean, stddev []float64, err error) {
	if len(examples) == 0 {
		return nil, nil, errors.New("Normalization: no examples given")
	}
	numFeatures := len(examples[0])
	mean = make([]float64, numFeatures)
	stddev = make([]float64, numFeatures)
	column := make([]float64, len(examples))
	for featureIdx := range numFeatures {
		for exampleIdx, example := range examples {
			if len(example) != numFeatures {
				return nil, nil, errors.Errorf("Normalization: example #%d has %d features, expected %d",
					exampleIdx, len(example), numFeatures)
			}
			column[exampleIdx] = example[featureIdx]
		}
		if len(examples) == 1 {
			mean[featureIdx] = column[0]
			continue
		}
		mean[featureIdx], stddev[featureIdx] = stat.MeanStdDev(column, nil)
	}
	return mean, stddev, nil
}

// Normalize examples in place, with `(x - mean) / stddev`. Features with stddev 0 (or not finite)
// are only centered.
func Normalize(examples [][]float64, mean, stddev []float64) {
	for _, example := range examples {
		for ii := range example {
			example[ii] -= mean[ii]
			if s := stddev[ii]; s > 0 && !math.IsInf(s, 0) {
				example[ii] /= s
			}
		}
	}
}
