// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import "github.com/gomlx/mlptrain/pkg/core/dtypes"

type options struct {
	dtype dtypes.DType
}

// Option for Save and Write.
type Option func(opts *options)

func collectOptions(opts ...Option) *options {
	o := &options{dtype: dtypes.Float64}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithDType sets the dtype used to store the parameters. The default is dtypes.Float64, which
// round-trips values bit by bit. dtypes.Float32 and dtypes.Float16 trade precision for smaller files.
func WithDType(dtype dtypes.DType) Option {
	return func(o *options) {
		o.dtype = dtype
	}
}
