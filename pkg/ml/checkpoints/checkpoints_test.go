// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package checkpoints

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/gomlx/mlptrain/pkg/core/dtypes"
	"github.com/gomlx/mlptrain/pkg/ml/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testArch = model.Architecture{InputSize: 784, OutputSize: 10, HiddenSizes: []int{512, 256, 128}}

func requireSameParameters(t *testing.T, m1, m2 *model.Model) {
	require.Len(t, m2.Parameters(), len(m1.Parameters()))
	for ii, p := range m1.Parameters() {
		p2 := m2.Parameters()[ii]
		require.Equal(t, p.Name(), p2.Name())
		require.Truef(t, p.Value().Equal(p2.Value()), "parameter %q differs", p.Name())
	}
}

func TestSaveAndLoad(t *testing.T) {
	m := model.MustNew(testArch, model.WithSeed(3))
	filePath := filepath.Join(t.TempDir(), "sub", "mlp.ckpt")
	require.NoError(t, Save(filePath, m))

	// No temporary files left behind.
	entries, err := os.ReadDir(filepath.Dir(filePath))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	m2, err := Load(filePath)
	require.NoError(t, err)
	assert.True(t, m2.Architecture().Equal(testArch))
	requireSameParameters(t, m, m2)

	// Loading twice into the same model is idempotent.
	m3 := model.MustNew(testArch, model.WithSeed(4))
	require.NoError(t, LoadInto(filePath, m3))
	requireSameParameters(t, m, m3)
	require.NoError(t, LoadInto(filePath, m3))
	requireSameParameters(t, m, m3)

	// Saving again replaces the file.
	require.NoError(t, Save(filePath, model.MustNew(testArch, model.WithSeed(5))))
	require.NoError(t, LoadInto(filePath, m3))
	requireSameParameters(t, model.MustNew(testArch, model.WithSeed(5)), m3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.ckpt"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrMalformedCheckpoint))
}

func TestNoHiddenLayers(t *testing.T) {
	arch := model.Architecture{InputSize: 4, OutputSize: 3}
	m := model.MustNew(arch)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))
	ckpt, err := Read(&buf)
	require.NoError(t, err)
	assert.True(t, ckpt.Architecture.Equal(arch))
	assert.Len(t, ckpt.Parameters, 2)
	assert.Equal(t, (4*3+3)*8, ckpt.DataSize)
}

func TestShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, model.MustNew(testArch)))
	data := buf.Bytes()

	other := model.MustNew(model.Architecture{InputSize: 784, OutputSize: 10, HiddenSizes: []int{400, 200, 100}})
	before := other.Parameters()[0].Value().Clone()
	err := ReadInto(bytes.NewReader(data), other)
	require.Error(t, err)
	var mismatchErr *ShapeMismatchError
	require.True(t, errors.As(err, &mismatchErr))
	assert.Equal(t, []string{
		"/hidden_0/weights", "/hidden_0/biases",
		"/hidden_1/weights", "/hidden_1/biases",
		"/hidden_2/weights", "/hidden_2/biases",
		"/output/weights",
	}, mismatchErr.Names())
	first := mismatchErr.Mismatches[0]
	assert.Equal(t, []int{512, 784}, first.Stored.Dimensions)
	assert.Equal(t, []int{400, 784}, first.Expected.Dimensions)
	assert.Contains(t, err.Error(), "/output/weights: stored (Float64)[10 128], expected (Float64)[10 100]")
	assert.True(t, before.Equal(other.Parameters()[0].Value()), "model must not change on mismatch")

	// Different number of layers: parameters missing on either side are reported.
	fewer := model.MustNew(model.Architecture{InputSize: 784, OutputSize: 10, HiddenSizes: []int{512, 256}})
	err = ReadInto(bytes.NewReader(data), fewer)
	require.True(t, errors.As(err, &mismatchErr))
	assert.Contains(t, mismatchErr.Names(), "/hidden_2/weights")
	for _, mismatch := range mismatchErr.Mismatches {
		if mismatch.Name == "/hidden_2/weights" {
			assert.False(t, mismatch.Expected.Ok())
		}
	}
}

func TestReducedPrecision(t *testing.T) {
	m := model.MustNew(model.Architecture{InputSize: 8, OutputSize: 4, HiddenSizes: []int{16}}, model.WithSeed(1))
	for _, tc := range []struct {
		dtype dtypes.DType
		delta float64
	}{{dtypes.Float32, 1e-7}, {dtypes.Float16, 1e-3}} {
		t.Run(tc.dtype.String(), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Write(&buf, m, WithDType(tc.dtype)))
			ckpt, err := Read(&buf)
			require.NoError(t, err)
			assert.Equal(t, tc.dtype, ckpt.Parameters[0].DType)
			m2 := model.MustNew(ckpt.Architecture)
			require.NoError(t, ckpt.CopyTo(m2))
			for ii, p := range m.Parameters() {
				assert.True(t, p.Value().InDelta(m2.Parameters()[ii].Value(), tc.delta), "parameter %q", p.Name())
			}
		})
	}
	require.Error(t, Write(&bytes.Buffer{}, m, WithDType(dtypes.InvalidDType)))
}

// rewriteHeader decodes the header of a checkpoint, calls edit on it, and re-encodes the checkpoint.
func rewriteHeader(t *testing.T, data []byte, edit func(header map[string]any)) []byte {
	headerLen := binary.LittleEndian.Uint64(data)
	var header map[string]any
	require.NoError(t, json.Unmarshal(data[8:8+headerLen], &header))
	edit(header)
	headerJSON, err := json.Marshal(header)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(len(headerJSON))))
	buf.Write(headerJSON)
	buf.Write(data[8+headerLen:])
	return buf.Bytes()
}

func TestMalformed(t *testing.T) {
	m := model.MustNew(model.Architecture{InputSize: 3, OutputSize: 2, HiddenSizes: []int{4}})
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))
	good := buf.Bytes()
	firstParam := func(h map[string]any) map[string]any {
		return h["parameters"].([]any)[0].(map[string]any)
	}

	testCases := map[string][]byte{
		"empty":            {},
		"short length":     good[:4],
		"truncated header": good[:20],
		"truncated data":   good[:len(good)-1],
		"trailing data":    append(bytes.Clone(good), 0),
		"huge header":      binary.LittleEndian.AppendUint64(nil, 1<<40),
		"not json":         append(binary.LittleEndian.AppendUint64(nil, 3), []byte("{{{")...),
		"missing input_size": rewriteHeader(t, good, func(h map[string]any) {
			delete(h, "input_size")
		}),
		"missing hidden_layers": rewriteHeader(t, good, func(h map[string]any) {
			delete(h, "hidden_layers")
		}),
		"zero output_size": rewriteHeader(t, good, func(h map[string]any) {
			h["output_size"] = 0
		}),
		"weights only": rewriteHeader(t, good, func(h map[string]any) {
			delete(h, "input_size")
			delete(h, "output_size")
			delete(h, "hidden_layers")
		}),
		"missing parameter": rewriteHeader(t, good, func(h map[string]any) {
			h["parameters"] = h["parameters"].([]any)[:3]
		}),
		"bad dtype": rewriteHeader(t, good, func(h map[string]any) {
			firstParam(h)["dtype"] = "int8"
		}),
		"missing dtype": rewriteHeader(t, good, func(h map[string]any) {
			delete(firstParam(h), "dtype")
		}),
		"wrong dimensions": rewriteHeader(t, good, func(h map[string]any) {
			firstParam(h)["dimensions"] = []int{3, 4}
		}),
		"out of order": rewriteHeader(t, good, func(h map[string]any) {
			firstParam(h)["pos"] = 8
		}),
		"wrong length": rewriteHeader(t, good, func(h map[string]any) {
			firstParam(h)["length"] = 8
		}),
		"renamed parameter": rewriteHeader(t, good, func(h map[string]any) {
			firstParam(h)["name"] = "/hidden_0/kernel"
		}),
		"overflowing size": rewriteHeader(t, good, func(h map[string]any) {
			h["input_size"] = 1 << 61
			firstParam(h)["dimensions"] = []int{4, 1 << 61}
			firstParam(h)["length"] = 0
		}),
		"huge size": rewriteHeader(t, good, func(h map[string]any) {
			// Consistent header for 4x2^40 weights, but the data is not there.
			const length = 8 * 4 << 40
			params := h["parameters"].([]any)
			delta := length - int(firstParam(h)["length"].(float64))
			for _, p := range params[1:] {
				p.(map[string]any)["pos"] = int(p.(map[string]any)["pos"].(float64)) + delta
			}
			h["input_size"] = 1 << 40
			firstParam(h)["dimensions"] = []int{4, 1 << 40}
			firstParam(h)["length"] = length
		}),
	}
	for name, data := range testCases {
		t.Run(name, func(t *testing.T) {
			before := m.Parameters()[0].Value().Clone()
			err := ReadInto(bytes.NewReader(data), m)
			require.Error(t, err)
			assert.Truef(t, errors.Is(err, ErrMalformedCheckpoint), "got error %+v", err)
			assert.True(t, before.Equal(m.Parameters()[0].Value()))
		})
	}

	// The unmodified checkpoint is fine.
	require.NoError(t, ReadInto(bytes.NewReader(good), m))
}
