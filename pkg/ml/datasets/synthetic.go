// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"fmt"
	"math/rand/v2"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"
)

// SyntheticClusterStdDev is the standard deviation of each Gaussian cluster generated by Synthetic.
// The cluster centers are drawn uniformly from [-1, 1] in each feature.
var SyntheticClusterStdDev = 0.3

// Synthetic creates a classification dataset with one Gaussian cluster per class: each example is
// sampled from the cluster of its class, and classes are assigned round-robin.
//
// It is deterministic given the seed.
func Synthetic(numExamples, numFeatures, numClasses int, seed uint64) (*InMemoryDataset, error) {
	if numExamples <= 0 || numFeatures <= 0 || numClasses <= 0 {
		return nil, errors.Errorf("Synthetic(numExamples=%d, numFeatures=%d, numClasses=%d): all values must be > 0",
			numExamples, numFeatures, numClasses)
	}
	src := rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)
	centerDist := distuv.Uniform{Min: -1, Max: 1, Src: src}
	centers := make([][]float64, numClasses)
	for class := range centers {
		centers[class] = make([]float64, numFeatures)
		for ii := range centers[class] {
			centers[class][ii] = centerDist.Rand()
		}
	}

	noise := distuv.Normal{Mu: 0, Sigma: SyntheticClusterStdDev, Src: src}
	inputs := make([][]float64, numExamples)
	labels := make([]int, numExamples)
	for exampleIdx := range inputs {
		class := exampleIdx % numClasses
		example := make([]float64, numFeatures)
		for ii := range example {
			example[ii] = centers[class][ii] + noise.Rand()
		}
		inputs[exampleIdx] = example
		labels[exampleIdx] = class
	}
	return InMemory(fmt.Sprintf("Synthetic(%d classes)", numClasses), inputs, labels)
}
