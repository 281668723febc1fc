// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[string](4)
	assert.Empty(t, s)
	s.Insert("/output/weights", "/output/biases", "/output/weights")
	assert.Len(t, s, 2)
	assert.True(t, s.Has("/output/biases"))
	assert.False(t, s.Has("/hidden_0/weights"))

	dtypesUsed := MakeWith("float32", "float64", "float32")
	assert.Len(t, dtypesUsed, 2)
	assert.True(t, dtypesUsed.Has("float64"))
	assert.Empty(t, MakeWith[int]())
}
