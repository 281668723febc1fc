// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package layers

import (
	"math/rand/v2"

	"github.com/gomlx/mlptrain/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Dropout randomly zeroes values with probability rate during training, and scales the
// remaining ones by 1/(1-rate), so the expected value is preserved ("inverted dropout").
//
// During inference (training=false) it is the identity.
type Dropout struct {
	rate float64
	rng  *rand.Rand

	// mask of the last training forward, nil if the last forward was not training.
	mask   []float64
	output *tensors.Tensor
}

var _ Layer = (*Dropout)(nil)

// NewDropout creates a dropout layer with the given rate, which must be in [0, 1).
// The random mask is drawn from rng.
func NewDropout(rate float64, rng *rand.Rand) *Dropout {
	if rate < 0 || rate >= 1 {
		panic(errors.Errorf("layers.NewDropout: rate must be in [0, 1), got %g", rate))
	}
	return &Dropout{rate: rate, rng: rng}
}

// Rate returns the dropout rate.
func (d *Dropout) Rate() float64 { return d.rate }

// Parameters implements Layer. Dropout has no parameters.
func (d *Dropout) Parameters() []*Parameter { return nil }

// Forward implements Layer.
func (d *Dropout) Forward(x *tensors.Tensor, training bool) (*tensors.Tensor, error) {
	if err := checkBatch("dropout", x, -1); err != nil {
		return nil, err
	}
	if !training || d.rate == 0 {
		d.mask = nil
		d.output = x
		return x, nil
	}
	scale := 1.0 / (1.0 - d.rate)
	if cap(d.mask) < x.Size() {
		d.mask = make([]float64, x.Size())
	}
	d.mask = d.mask[:x.Size()]
	y := x.Clone()
	for ii := range y.Flat() {
		if d.rng.Float64() < d.rate {
			d.mask[ii] = 0
		} else {
			d.mask[ii] = scale
		}
		y.Flat()[ii] *= d.mask[ii]
	}
	d.output = y
	return y, nil
}

// Backward implements Layer.
func (d *Dropout) Backward(grad *tensors.Tensor) (*tensors.Tensor, error) {
	if err := checkGrad("dropout", grad, d.output); err != nil {
		return nil, err
	}
	if d.mask == nil {
		return grad, nil
	}
	gradInput := grad.Clone()
	for ii, m := range d.mask {
		gradInput.Flat()[ii] *= m
	}
	return gradInput, nil
}
