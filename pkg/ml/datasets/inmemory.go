// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package datasets

import (
	"io"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/gomlx/mlptrain/pkg/support/xslices"
	"github.com/pkg/errors"
)

// InMemoryDataset is a train.Dataset that holds all its examples in memory, one row of features
// per example and one integer label (the class) per example.
//
// It supports batching and shuffling, and can be duplicated (only one copy of the underlying data is used).
type InMemoryDataset struct {
	name string

	// inputs holds the features of all examples, row-major: numExamples x numFeatures.
	inputs      []float64
	labels      []int
	numExamples int
	numFeatures int

	// classNames optionally names each label value.
	classNames []string

	// muSampling serializes the sampling information, all the member variables below.
	muSampling sync.Mutex

	// batchSize to yield. If set to 0 yields only one example at a time.
	batchSize int

	// dropIncompleteBatch, when there are not enough remaining examples in the epoch.
	dropIncompleteBatch bool

	// next example to be sampled. If shuffle is set, this is an index in shuffle.
	//
	// If it is set to -1, it means the dataset has been exhausted already.
	next int

	// shuffle holds the current order of the examples, if Shuffle was configured.
	shuffle []int
	rng     *rand.Rand
}

// InMemory creates a dataset from the given examples and labels. The data is copied, so the caller
// may change inputs and labels after the call.
//
// All examples must have the same number of features.
//
// Returns an InMemoryDataset that is initially not shuffled and that yields one example at a time. You can
// configure how you want to use it with the other configuration methods.
func InMemory(name string, inputs [][]float64, labels []int) (*InMemoryDataset, error) {
	if len(inputs) != len(labels) {
		return nil, errors.Errorf("InMemory(%q): %d examples but %d labels", name, len(inputs), len(labels))
	}
	if len(inputs) == 0 {
		return nil, errors.Errorf("InMemory(%q): no examples given", name)
	}
	mds := &InMemoryDataset{
		name:        name,
		numExamples: len(inputs),
		numFeatures: len(inputs[0]),
		labels:      slices.Clone(labels),
	}
	if mds.numFeatures == 0 {
		return nil, errors.Errorf("InMemory(%q): examples have no features", name)
	}
	mds.inputs = make([]float64, 0, mds.numExamples*mds.numFeatures)
	for ii, example := range inputs {
		if len(example) != mds.numFeatures {
			return nil, errors.Errorf("InMemory(%q): example #%d has %d features, but example #0 has %d",
				name, ii, len(example), mds.numFeatures)
		}
		if labels[ii] < 0 {
			return nil, errors.Errorf("InMemory(%q): example #%d has negative label %d", name, ii, labels[ii])
		}
		mds.inputs = append(mds.inputs, example...)
	}
	return mds, nil
}

// Name implements train.Dataset.
func (mds *InMemoryDataset) Name() string {
	return mds.name
}

// NumExamples cached in the dataset.
func (mds *InMemoryDataset) NumExamples() int {
	return mds.numExamples
}

// NumFeatures of each example.
func (mds *InMemoryDataset) NumFeatures() int {
	return mds.numFeatures
}

// NumClasses returns 1 + the largest label value, or the number of class names if they were set.
func (mds *InMemoryDataset) NumClasses() int {
	if len(mds.classNames) > 0 {
		return len(mds.classNames)
	}
	return slices.Max(mds.labels) + 1
}

// ClassNames returns the name of each label value, if known. It may be nil.
func (mds *InMemoryDataset) ClassNames() []string {
	return mds.classNames
}

// Example returns the features and label of the given example. The features returned share the
// storage of the dataset, and must not be changed.
func (mds *InMemoryDataset) Example(idx int) (features []float64, label int) {
	return mds.inputs[idx*mds.numFeatures : (idx+1)*mds.numFeatures], mds.labels[idx]
}

// Examples returns the features of all examples, one row per example. The rows share the storage of
// the dataset (and of its copies and splits): changing them, e.g. with Normalize, changes the dataset.
func (mds *InMemoryDataset) Examples() [][]float64 {
	rows := make([][]float64, mds.numExamples)
	for ii := range rows {
		rows[ii] = mds.inputs[ii*mds.numFeatures : (ii+1)*mds.numFeatures : (ii+1)*mds.numFeatures]
	}
	return rows
}

// Copy returns a copy of the dataset sharing the underlying data, with the same configuration
// but its own sampling state, starting from the beginning.
func (mds *InMemoryDataset) Copy() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	return &InMemoryDataset{
		name:                mds.name,
		inputs:              mds.inputs,
		labels:              mds.labels,
		numExamples:         mds.numExamples,
		numFeatures:         mds.numFeatures,
		classNames:          mds.classNames,
		batchSize:           mds.batchSize,
		dropIncompleteBatch: mds.dropIncompleteBatch,
		shuffle:             slices.Clone(mds.shuffle),
		rng:                 mds.rng,
	}
}

// Permuted returns a new dataset with a copy of the examples in a random order, given by seed.
// It keeps the name, class names and configuration, but it is not shuffled.
//
// Use it before Split to draw a random validation set from ordered data.
func (mds *InMemoryDataset) Permuted(seed uint64) *InMemoryDataset {
	perm := rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)).Perm(mds.numExamples)
	permuted := &InMemoryDataset{
		name:                mds.name,
		inputs:              make([]float64, 0, len(mds.inputs)),
		labels:              make([]int, 0, len(mds.labels)),
		numExamples:         mds.numExamples,
		numFeatures:         mds.numFeatures,
		classNames:          mds.classNames,
		batchSize:           mds.batchSize,
		dropIncompleteBatch: mds.dropIncompleteBatch,
	}
	for _, idx := range perm {
		features, label := mds.Example(idx)
		permuted.inputs = append(permuted.inputs, features...)
		permuted.labels = append(permuted.labels, label)
	}
	return permuted
}

// SetName changes the name of the dataset. It returns the modified InMemoryDataset.
func (mds *InMemoryDataset) SetName(name string) *InMemoryDataset {
	mds.name = name
	return mds
}

// Split the dataset in two copies, the first with the leading `fraction` of the examples,
// and the second with the remainder. Both sides share the configuration (batch size),
// but not the shuffle.
//
// This is useful to separate a validation set from the training data. Shuffle the data before
// splitting, if the examples are ordered.
func (mds *InMemoryDataset) Split(fraction float64) (first, second *InMemoryDataset, err error) {
	n := int(fraction * float64(mds.numExamples))
	if n <= 0 || n >= mds.numExamples {
		return nil, nil, errors.Errorf("Split(%g) of %d examples leaves one side empty", fraction, mds.numExamples)
	}
	part := func(suffix string, from, to int) *InMemoryDataset {
		return &InMemoryDataset{
			name:                mds.name + suffix,
			inputs:              mds.inputs[from*mds.numFeatures : to*mds.numFeatures],
			labels:              mds.labels[from:to],
			numExamples:         to - from,
			numFeatures:         mds.numFeatures,
			classNames:          mds.classNames,
			batchSize:           mds.batchSize,
			dropIncompleteBatch: mds.dropIncompleteBatch,
		}
	}
	return part(" [0]", 0, n), part(" [1]", n, mds.numExamples), nil
}

// Reset implements `train.Dataset`. If the dataset is shuffled, it is reshuffled.
func (mds *InMemoryDataset) Reset() {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.next = 0
	if mds.shuffle != nil {
		mds.shuffleLocked()
	}
}

// indicesNextYield retrieve the indices for the next Yield call.
func (mds *InMemoryDataset) indicesNextYield() (indices []int) {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	if mds.next == -1 {
		return // dataset already exhausted.
	}
	n := mds.batchSize
	if n <= 0 {
		n = 1
	}
	indices = make([]int, 0, n)
	for mds.next < mds.numExamples && len(indices) < n {
		if len(mds.shuffle) > 0 {
			indices = append(indices, mds.shuffle[mds.next])
		} else {
			indices = append(indices, mds.next)
		}
		mds.next++
	}
	if len(indices) < n && mds.dropIncompleteBatch {
		// Drop the incomplete batch.
		indices = nil
	}
	if mds.next >= mds.numExamples {
		mds.next = -1
	}
	return
}

// Yield implements `train.Dataset`. It returns io.EOF at the end of the epoch.
func (mds *InMemoryDataset) Yield() (inputs *tensors.Tensor, labels []int, err error) {
	indices := mds.indicesNextYield()
	if len(indices) == 0 {
		return nil, nil, io.EOF
	}
	inputs = tensors.Zeros(len(indices), mds.numFeatures)
	labels = make([]int, len(indices))
	for row, idx := range indices {
		features, label := mds.Example(idx)
		copy(inputs.Row(row), features)
		labels[row] = label
	}
	return inputs, labels, nil
}

// Shuffle configures the InMemoryDataset to shuffle the order of the data, deterministically given the seed.
// At each call to Reset() it is reshuffled.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) Shuffle(seed uint64) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.rng = rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))
	mds.shuffleLocked()
	return mds
}

// shuffleLocked shuffles dataset yield order. It assumes muSampling is locked.
func (mds *InMemoryDataset) shuffleLocked() {
	mds.shuffle = xslices.Iota(0, mds.numExamples)
	mds.rng.Shuffle(len(mds.shuffle), func(i, j int) {
		mds.shuffle[i], mds.shuffle[j] = mds.shuffle[j], mds.shuffle[i]
	})
}

// BatchSize configures the InMemoryDataset to return batches of the given size. If `n` is set to 0,
// it reverts back to yielding one example at a time.
//
// The last batch of an epoch may be partially filled, see DropIncompleteBatch.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) BatchSize(n int) *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.batchSize = n
	return mds
}

// DropIncompleteBatch configures the dataset to drop the examples at the end of the epoch that don't fill a batch.
//
// It returns the modified InMemoryDataset, so calls can be cascaded if one wants.
func (mds *InMemoryDataset) DropIncompleteBatch() *InMemoryDataset {
	mds.muSampling.Lock()
	defer mds.muSampling.Unlock()
	mds.dropIncompleteBatch = true
	return mds
}

// WithClassNames sets the names of each label value.
func (mds *InMemoryDataset) WithClassNames(names []string) *InMemoryDataset {
	mds.classNames = slices.Clone(names)
	return mds
}
