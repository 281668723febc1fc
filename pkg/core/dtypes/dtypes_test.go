// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dtypes

import (
	"encoding/json"
	"math"
	"testing"
)

func TestFromName(t *testing.T) {
	for _, name := range []string{"Float16", "float16", "FLOAT16"} {
		dtype, err := FromName(name)
		if err != nil || dtype != Float16 {
			t.Fatalf("expected FromName(%q) to be Float16, got %v (err=%v)", name, dtype, err)
		}
	}
	if _, err := FromName("bfloat16"); err == nil {
		t.Fatal("expected FromName(\"bfloat16\") to fail")
	}
	if _, err := FromName("InvalidDType"); err == nil {
		t.Fatal("expected FromName(\"InvalidDType\") to fail")
	}
}

func TestJSON(t *testing.T) {
	type holder struct {
		DType DType `json:"dtype"`
	}
	data, err := json.Marshal(holder{DType: Float32})
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	if string(data) != `{"dtype":"float32"}` {
		t.Fatalf("unexpected JSON %s", data)
	}
	var h holder
	if err := json.Unmarshal(data, &h); err != nil || h.DType != Float32 {
		t.Fatalf("expected Float32, got %v (err=%v)", h.DType, err)
	}
	if err := json.Unmarshal([]byte(`{"dtype":"int8"}`), &h); err == nil {
		t.Fatal("expected unmarshal of unknown dtype to fail")
	}
	if _, err := json.Marshal(holder{}); err == nil {
		t.Fatal("expected marshal of InvalidDType to fail")
	}
}

func TestEncodeDecode(t *testing.T) {
	values := []float64{0, 1, -2.5, math.Pi, math.Inf(-1), 1e-300}

	// Float64 is bit-exact.
	buf := make([]byte, Float64.SizeForDimensions(len(values)))
	if err := Float64.Encode(values, buf); err != nil {
		t.Fatal(err)
	}
	decoded := make([]float64, len(values))
	if err := Float64.Decode(buf, decoded); err != nil {
		t.Fatal(err)
	}
	for ii := range values {
		if math.Float64bits(values[ii]) != math.Float64bits(decoded[ii]) {
			t.Fatalf("value #%d: expected %v, got %v", ii, values[ii], decoded[ii])
		}
	}

	// Reduced precision types are approximately equal.
	for _, dtype := range []DType{Float32, Float16} {
		buf = make([]byte, dtype.SizeForDimensions(3))
		if err := dtype.Encode([]float64{0.5, -1, 3}, buf); err != nil {
			t.Fatal(err)
		}
		decoded = make([]float64, 3)
		if err := dtype.Decode(buf, decoded); err != nil {
			t.Fatal(err)
		}
		if decoded[0] != 0.5 || decoded[1] != -1 || decoded[2] != 3 {
			t.Fatalf("%s: unexpected decoded values %v", dtype, decoded)
		}
	}

	// Wrong buffer sizes.
	if err := Float32.Encode([]float64{1, 2}, make([]byte, 7)); err == nil {
		t.Fatal("expected error for wrong buffer size")
	}
	if err := InvalidDType.Decode(nil, nil); err == nil {
		t.Fatal("expected error for invalid dtype")
	}
}

func TestCheckedSizeForDimensions(t *testing.T) {
	size, err := Float32.CheckedSizeForDimensions(4, 3)
	if err != nil || size != 48 {
		t.Fatalf("expected 48 bytes, got %d (err=%v)", size, err)
	}
	if _, err = Float64.CheckedSizeForDimensions(4, 1<<61); err == nil {
		t.Fatal("expected Float64[4 2^61] to overflow")
	}
	if _, err = Float16.CheckedSizeForDimensions(1<<40, 1<<40); err == nil {
		t.Fatal("expected Float16[2^40 2^40] to overflow")
	}
	if _, err = Float64.CheckedSizeForDimensions(2, -1); err == nil {
		t.Fatal("expected negative dimension to fail")
	}
	if size, err = Float64.CheckedSizeForDimensions(4, 1<<40); err != nil || size != 1<<45 {
		t.Fatalf("expected 2^45 bytes, got %d (err=%v)", size, err)
	}
}
