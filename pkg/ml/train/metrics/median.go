// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"math/rand/v2"
	"slices"
)

// StreamingMedianMetric implements a metric that keeps an approximate median of a metric from a streaming
// input, using reservoir sampling.
type StreamingMedianMetric struct {
	baseMetric
	maxNumSamples, samplesSeen int
	samples                    []float64
	rng                        *rand.Rand
}

var _ Interface = (*StreamingMedianMetric)(nil)

// NewMedianMetric creates a streaming median metric from any BaseMetricFn function.
//
// If you are processing batches at a time (and not a batch of size 1), this will return a median of the
// batch values. This may be a reasonable approximation, but something to be mindful.
//
// `prettyPrintFn` can be left as nil, and a default will be used.
func NewMedianMetric(
	name, shortName, metricType string,
	metricFn BaseMetricFn,
	prettyPrintFn PrettyPrintFn,
) *StreamingMedianMetric {
	return &StreamingMedianMetric{
		baseMetric: baseMetric{
			name:       name,
			shortName:  shortName,
			metricType: metricType,
			metricFn:   metricFn,
			pPrintFn:   prettyPrintFn,
		},
		maxNumSamples: 10_001,
	}
}

// WithSampleSize configures the default number of random samples to keep to estimate the median.
func (m *StreamingMedianMetric) WithSampleSize(n int) *StreamingMedianMetric {
	m.maxNumSamples = n
	return m
}

// WithSeed makes the sampling deterministic.
func (m *StreamingMedianMetric) WithSeed(seed uint64) *StreamingMedianMetric {
	m.rng = rand.New(rand.NewPCG(seed, seed))
	return m
}

// Update implements metrics.Interface.
func (m *StreamingMedianMetric) Update(batch Batch) (float64, error) {
	value, err := m.compute(batch)
	if err != nil {
		return 0, err
	}
	m.Add(value)
	return m.Value(), nil
}

// Add a sample to the median estimate directly.
func (m *StreamingMedianMetric) Add(x float64) {
	if m.samples == nil {
		m.samples = make([]float64, 0, min(m.maxNumSamples, 1024))
		m.samplesSeen = 0
		if m.rng == nil {
			m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
	}
	m.samplesSeen++

	// Simple case: we have space to simply store the new sampled x.
	if len(m.samples) < m.maxNumSamples {
		m.samples = append(m.samples, x)
		return
	}

	// We must decide whether to keep x:
	if m.rng.Float64() >= float64(m.maxNumSamples)/float64(m.samplesSeen) {
		return
	}
	// We replace the new sampled x in a random position.
	pos := m.rng.IntN(m.maxNumSamples)
	m.samples[pos] = x
}

// Value implements metrics.Interface. It returns 0 if no samples were seen.
func (m *StreamingMedianMetric) Value() float64 {
	if len(m.samples) == 0 {
		return 0
	}
	sorted := slices.Clone(m.samples)
	slices.Sort(sorted)
	return sorted[len(sorted)/2]
}

// Count returns the number of samples seen since the last Reset.
func (m *StreamingMedianMetric) Count() int { return m.samplesSeen }

// Reset implements metrics.Interface.
func (m *StreamingMedianMetric) Reset() {
	m.samples = nil
	m.samplesSeen = 0
}
