// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes defines the DType enum for the floating point storage types supported
// when tensors are serialized.
//
// In memory all tensors are Float64 (the type used by gonum), DType only matters when
// writing or reading raw bytes, e.g. in checkpoints.
package dtypes

import (
	"encoding/binary"
	"math"
	"math/bits"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DType is the data type of each element of a serialized tensor.
type DType int

const (
	// InvalidDType is the zero value, used to mark unset or unknown types.
	InvalidDType DType = iota

	// Float64 is the default type, it round-trips values bit-by-bit.
	Float64

	// Float32 halves storage, at the cost of precision.
	Float32

	// Float16 uses github.com/x448/float16 (IEEE 754 half-precision).
	Float16
)

var dtypeNames = map[DType]string{
	InvalidDType: "InvalidDType",
	Float64:      "Float64",
	Float32:      "Float32",
	Float16:      "Float16",
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	name, found := dtypeNames[dtype]
	if !found {
		return "UnknownDType"
	}
	return name
}

// IsValid returns whether dtype is one of the supported types.
func (dtype DType) IsValid() bool {
	return dtype == Float64 || dtype == Float32 || dtype == Float16
}

// Size returns the number of bytes used to store one element. It returns 0 for invalid types.
func (dtype DType) Size() int {
	switch dtype {
	case Float64:
		return 8
	case Float32:
		return 4
	case Float16:
		return 2
	default:
		return 0
	}
}

// SizeForDimensions returns the number of bytes used to store a tensor with the given dimensions.
// It doesn't check for overflow, see CheckedSizeForDimensions for untrusted dimensions.
func (dtype DType) SizeForDimensions(dimensions ...int) int {
	size := dtype.Size()
	for _, dim := range dimensions {
		size *= dim
	}
	return size
}

// CheckedSizeForDimensions is like SizeForDimensions, but returns an error if a dimension is
// negative or if the number of bytes doesn't fit an int.
func (dtype DType) CheckedSizeForDimensions(dimensions ...int) (int, error) {
	size := uint64(dtype.Size())
	for _, dim := range dimensions {
		if dim < 0 {
			return 0, errors.Errorf("negative dimension in %v", dimensions)
		}
		hi, lo := bits.Mul64(size, uint64(dim))
		if hi != 0 || lo > math.MaxInt {
			return 0, errors.Errorf("size of %s%v overflows", dtype, dimensions)
		}
		size = lo
	}
	return int(size), nil
}

// FromName returns the DType with the given name, case-insensitive. E.g.: "float32" or "Float32".
func FromName(name string) (DType, error) {
	for dtype, dtypeName := range dtypeNames {
		if dtype != InvalidDType && strings.EqualFold(dtypeName, name) {
			return dtype, nil
		}
	}
	return InvalidDType, errors.Errorf("unknown dtype %q", name)
}

// MarshalText implements encoding.TextMarshaler, so the dtype is stored by name in JSON.
func (dtype DType) MarshalText() ([]byte, error) {
	if !dtype.IsValid() {
		return nil, errors.Errorf("can't marshal invalid dtype %d", int(dtype))
	}
	return []byte(strings.ToLower(dtype.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (dtype *DType) UnmarshalText(text []byte) error {
	parsed, err := FromName(string(text))
	if err != nil {
		return err
	}
	*dtype = parsed
	return nil
}

// Encode writes values into buf (little-endian), converting them to dtype.
// buf must have exactly len(values)*dtype.Size() bytes.
func (dtype DType) Encode(values []float64, buf []byte) error {
	if len(buf) != len(values)*dtype.Size() || !dtype.IsValid() {
		return errors.Errorf("dtypes.Encode(%s): buffer of %d bytes can't hold %d values", dtype, len(buf), len(values))
	}
	switch dtype {
	case Float64:
		for ii, v := range values {
			binary.LittleEndian.PutUint64(buf[ii*8:], math.Float64bits(v))
		}
	case Float32:
		for ii, v := range values {
			binary.LittleEndian.PutUint32(buf[ii*4:], math.Float32bits(float32(v)))
		}
	case Float16:
		for ii, v := range values {
			binary.LittleEndian.PutUint16(buf[ii*2:], float16.Fromfloat32(float32(v)).Bits())
		}
	}
	return nil
}

// Decode reads little-endian values stored as dtype from buf into values.
// buf must have exactly len(values)*dtype.Size() bytes.
func (dtype DType) Decode(buf []byte, values []float64) error {
	if len(buf) != len(values)*dtype.Size() || !dtype.IsValid() {
		return errors.Errorf("dtypes.Decode(%s): buffer of %d bytes doesn't hold %d values", dtype, len(buf), len(values))
	}
	switch dtype {
	case Float64:
		for ii := range values {
			values[ii] = math.Float64frombits(binary.LittleEndian.Uint64(buf[ii*8:]))
		}
	case Float32:
		for ii := range values {
			values[ii] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[ii*4:])))
		}
	case Float16:
		for ii := range values {
			values[ii] = float64(float16.Frombits(binary.LittleEndian.Uint16(buf[ii*2:])).Float32())
		}
	}
	return nil
}
